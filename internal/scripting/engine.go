package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM for spawn-time tuning.
// Single-goroutine access only (simulation loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads every .lua file in scriptsDir.
// A missing directory yields an engine with no hooks defined.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	if scriptsDir == "" {
		return e, nil
	}
	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory in name order.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua source. Used by tests and by tooling that
// ships scripts inline.
func (e *Engine) LoadString(src string) error {
	return e.vm.DoString(src)
}

// Has reports whether a global Lua function with that name is defined.
func (e *Engine) Has(name string) bool {
	_, ok := e.vm.GetGlobal(name).(*lua.LFunction)
	return ok
}

// AcquireContext is what on_acquire sees for one pooled body.
type AcquireContext struct {
	Prototype string
	Kind      string
	HP        int
	Speed     float64
	Wave      int
}

// AcquireResult carries the values the body is reset to.
type AcquireResult struct {
	HP    int
	Speed float64
}

// OnAcquire calls the Lua on_acquire function. Without the function, or on
// a script error, the template values pass through unchanged.
func (e *Engine) OnAcquire(ctx AcquireContext) AcquireResult {
	fallback := AcquireResult{HP: ctx.HP, Speed: ctx.Speed}
	fn, ok := e.vm.GetGlobal("on_acquire").(*lua.LFunction)
	if !ok {
		return fallback
	}

	t := e.vm.NewTable()
	t.RawSetString("prototype", lua.LString(ctx.Prototype))
	t.RawSetString("kind", lua.LString(ctx.Kind))
	t.RawSetString("hp", lua.LNumber(ctx.HP))
	t.RawSetString("speed", lua.LNumber(ctx.Speed))
	t.RawSetString("wave", lua.LNumber(ctx.Wave))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua on_acquire error", zap.String("prototype", ctx.Prototype), zap.Error(err))
		return fallback
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return fallback
	}
	out := fallback
	if v, ok := rt.RawGetString("hp").(lua.LNumber); ok && v > 0 {
		out.HP = int(v)
	}
	if v, ok := rt.RawGetString("speed").(lua.LNumber); ok && v >= 0 {
		out.Speed = float64(v)
	}
	return out
}

// RespawnDelay calls respawn_delay(prototype, base) and returns the delay in
// ticks, or base when the function is missing or fails.
func (e *Engine) RespawnDelay(prototype string, base int) int {
	fn, ok := e.vm.GetGlobal("respawn_delay").(*lua.LFunction)
	if !ok {
		return base
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(prototype), lua.LNumber(base)); err != nil {
		e.log.Error("lua call error", zap.String("func", "respawn_delay"), zap.Error(err))
		return base
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)
	n, ok := result.(lua.LNumber)
	if !ok || n < 0 {
		return base
	}
	return int(n)
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
