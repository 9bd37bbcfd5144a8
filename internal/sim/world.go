// Package sim hosts pooled bodies in the spatial grid and runs the per-tick
// systems that move them, separate them and recycle them.
//
// Accessed only from the simulation goroutine, so there are no locks.
package sim

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/l1jgo/swarm/internal/config"
	"github.com/l1jgo/swarm/internal/core/ecs"
	"github.com/l1jgo/swarm/internal/core/event"
	"github.com/l1jgo/swarm/internal/data"
	"github.com/l1jgo/swarm/internal/geom"
	"github.com/l1jgo/swarm/internal/pool"
	"github.com/l1jgo/swarm/internal/scripting"
	"github.com/l1jgo/swarm/internal/spatial"
)

var ErrUnknownPrototype = errors.New("sim: unknown prototype")

// Despawn reasons carried by event.Despawned.
const (
	ReasonKilled    = "killed"
	ReasonExpired   = "expired"
	ReasonHit       = "hit"
	ReasonCollected = "collected"
	ReasonCleared   = "cleared"
)

// Player is the single point enemies are drawn to and kept away from. It is
// not indexed: one point needs a direct distance check, not a grid.
type Player struct {
	Pos    geom.Vec2
	Radius float64
	XP     int
}

// Options are the scalar knobs the host sets at startup.
type Options struct {
	CellSize     float64
	PlayerPos    geom.Vec2
	PlayerRadius float64
	Pools        config.PoolsConfig
}

// OptionsFromConfig picks the World options out of the loaded config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CellSize:     cfg.Spatial.CellSize,
		PlayerPos:    geom.V(cfg.Sim.PlayerX, cfg.Sim.PlayerY),
		PlayerRadius: cfg.Sim.PlayerRadius,
		Pools:        cfg.Pools,
	}
}

type despawn struct {
	body   *Body
	reason string
}

// World owns the grid, the pools and the set of live bodies.
type World struct {
	grid    *spatial.Grid[*Body]
	pools   *pool.Manager[*Body]
	protos  map[string]*prototype
	table   *data.PrototypeTable
	ids     *ecs.IDAllocator
	bus     *event.Bus
	scripts *scripting.Engine
	log     *zap.Logger
	opts    Options

	player    Player
	active    []*Body
	activeIdx map[*Body]int
	queue     []despawn

	tick uint64
	wave int

	// OnNeighbours, when set, receives the size of every separation query.
	OnNeighbours func(n int)
}

// NewWorld builds a World for the given prototype table. scripts may be nil.
func NewWorld(opts Options, table *data.PrototypeTable, scripts *scripting.Engine, log *zap.Logger) *World {
	if log == nil {
		log = zap.NewNop()
	}
	w := &World{
		grid:      spatial.NewGrid[*Body](opts.CellSize),
		pools:     pool.NewManager[*Body](log.Named("pool")),
		protos:    make(map[string]*prototype, table.Count()),
		table:     table,
		ids:       ecs.NewIDAllocator(),
		bus:       event.NewBus(),
		scripts:   scripts,
		log:       log,
		opts:      opts,
		player:    Player{Pos: opts.PlayerPos, Radius: opts.PlayerRadius},
		activeIdx: make(map[*Body]int, 256),
	}
	for _, tmpl := range table.All() {
		w.protos[tmpl.ID] = &prototype{tmpl: tmpl, w: w, opts: w.poolOptions(tmpl)}
	}
	return w
}

// poolOptions merges template caps with config defaults and overrides.
func (w *World) poolOptions(tmpl *data.Template) pool.Options {
	o := pool.Options{
		Max:          tmpl.MaxPool,
		Prewarm:      tmpl.Prewarm,
		WarnInterval: w.opts.Pools.WarnInterval,
	}
	if o.Max == 0 {
		o.Max = w.opts.Pools.DefaultMax
	}
	if ov, ok := w.opts.Pools.Overrides[tmpl.ID]; ok {
		if ov.Max != nil {
			o.Max = *ov.Max
		}
		if ov.Prewarm != nil {
			o.Prewarm = *ov.Prewarm
		}
	}
	if o.Max > 0 && o.Prewarm > o.Max {
		o.Prewarm = o.Max
	}
	return o
}

func (w *World) Grid() *spatial.Grid[*Body]       { return w.grid }
func (w *World) Pools() *pool.Manager[*Body]      { return w.pools }
func (w *World) Bus() *event.Bus                  { return w.bus }
func (w *World) Player() Player                   { return w.player }
func (w *World) Tick() uint64                     { return w.tick }
func (w *World) Wave() int                        { return w.wave }
func (w *World) ActiveCount() int                 { return len(w.active) }
func (w *World) Prototypes() *data.PrototypeTable { return w.table }

// SetPlayer moves the player point.
func (w *World) SetPlayer(pos geom.Vec2) { w.player.Pos = pos }

// SetWave changes the wave number seen by on_acquire.
func (w *World) SetWave(n int) { w.wave = n }

// Prewarm builds the standing inventory of every prototype before the first
// tick. Returns the number of bodies built.
func (w *World) Prewarm() int {
	protos := make([]pool.Prototype[*Body], 0, len(w.protos))
	for _, tmpl := range w.table.All() {
		protos = append(protos, w.protos[tmpl.ID])
	}
	n := w.pools.PrewarmAll(protos, nil)
	w.log.Info("pools prewarmed", zap.Int("bodies", n), zap.Int("pools", w.pools.Len()))
	return n
}

// Spawn takes a body of protoID from its pool, places it and registers it in
// the grid. An exhausted pool is reported as an error wrapping
// pool.ErrExhausted; the caller skips this spawn.
func (w *World) Spawn(protoID string, pos geom.Vec2, heading float64) (*Body, error) {
	proto, ok := w.protos[protoID]
	if !ok {
		return nil, fmt.Errorf("spawn %q: %w", protoID, ErrUnknownPrototype)
	}
	b, err := w.pools.GetInstance(proto, pos, heading)
	if err != nil {
		event.Emit(w.bus, event.SpawnFailed{Prototype: protoID, Err: err})
		return nil, err
	}
	if err := w.grid.Register(b, b.Pos); err != nil {
		// Never leave a pooled body active without a grid entry.
		if rerr := w.pools.ReturnInstance(b); rerr != nil {
			w.log.Error("return after failed register", zap.String("prototype", protoID), zap.Error(rerr))
		}
		event.Emit(w.bus, event.SpawnFailed{Prototype: protoID, Err: err})
		return nil, fmt.Errorf("spawn %q: %w", protoID, err)
	}
	w.activeIdx[b] = len(w.active)
	w.active = append(w.active, b)
	event.Emit(w.bus, event.Spawned{EntityID: b.id, Prototype: protoID, Pos: b.Pos})
	return b, nil
}

// Despawn queues b for removal at the end of this tick. Calling it again, or
// on a body that is not live, is a no-op.
func (w *World) Despawn(b *Body, reason string) {
	if b == nil {
		panic("sim: Despawn(nil)")
	}
	if !b.Alive || b.dying {
		return
	}
	if _, ok := w.activeIdx[b]; !ok {
		return
	}
	b.dying = true
	w.queue = append(w.queue, despawn{body: b, reason: reason})
}

// FlushDespawns unregisters and pools every body queued this tick. Runs in
// the cleanup phase so the dead never leak into the next tick's queries.
func (w *World) FlushDespawns() int {
	n := len(w.queue)
	for i, d := range w.queue {
		w.remove(d.body, d.reason)
		w.queue[i] = despawn{}
	}
	w.queue = w.queue[:0]
	return n
}

func (w *World) remove(b *Body, reason string) {
	id, protoID, spawner := b.id, b.prototype, b.spawner
	w.grid.Unregister(b)
	w.removeActive(b)
	if err := w.pools.ReturnInstance(b); err != nil {
		w.log.Warn("despawned body not returned", zap.String("prototype", protoID), zap.Error(err))
	}
	event.Emit(w.bus, event.Despawned{EntityID: id, Prototype: protoID, Reason: reason, Source: spawner})
}

func (w *World) removeActive(b *Body) {
	i, ok := w.activeIdx[b]
	if !ok {
		return
	}
	last := len(w.active) - 1
	if i != last {
		moved := w.active[last]
		w.active[i] = moved
		w.activeIdx[moved] = i
	}
	w.active[last] = nil
	w.active = w.active[:last]
	delete(w.activeIdx, b)
}

// Move records a new position for a live body and refiles it in the grid.
func (w *World) Move(b *Body, pos geom.Vec2) {
	b.Pos = pos
	w.grid.UpdatePosition(b, pos)
}

// Neighbours appends every live body within b's interaction radius, b
// excluded, to dst.
func (w *World) Neighbours(b *Body, dst []*Body) []*Body {
	return w.NeighboursWithin(b, b.InteractionRadius(), dst)
}

// NeighboursWithin is Neighbours with an explicit radius.
func (w *World) NeighboursWithin(b *Body, radius float64, dst []*Body) []*Body {
	start := len(dst)
	dst = w.grid.AppendRadius(dst, b.Pos, radius, b)
	if w.OnNeighbours != nil {
		w.OnNeighbours(len(dst) - start)
	}
	return dst
}

// Query returns every live body within radius of center.
func (w *World) Query(center geom.Vec2, radius float64) []*Body {
	return w.grid.QueryRadius(center, radius)
}

// EachActive visits the live bodies. fn may call Despawn but not Spawn.
func (w *World) EachActive(fn func(*Body)) {
	for _, b := range w.active {
		fn(b)
	}
}

// Active returns a copy of the live bodies.
func (w *World) Active() []*Body {
	return append([]*Body(nil), w.active...)
}

// AdvanceTick bumps the tick counter; called once per tick after cleanup.
func (w *World) AdvanceTick() { w.tick++ }

// Reset despawns every live body immediately and returns everything to the
// pools, keeping the standing inventory (end of wave).
func (w *World) Reset() int {
	for _, b := range w.Active() {
		if !b.dying {
			b.dying = true
			w.queue = append(w.queue, despawn{body: b, reason: ReasonCleared})
		}
	}
	return w.FlushDespawns()
}

// Shutdown returns everything and destroys every pool (full teardown).
func (w *World) Shutdown() {
	n := w.Reset()
	w.pools.ClearAll()
	w.grid.Clear()
	w.log.Info("world shut down", zap.Int("returned", n), zap.Uint64("ticks", w.tick))
}

// Snapshot is a read-only copy of the world's health, safe to hand to other
// goroutines.
type Snapshot struct {
	Tick   uint64            `json:"tick"`
	Wave   int               `json:"wave"`
	Active int               `json:"active"`
	XP     int               `json:"xp"`
	Grid   spatial.GridStats `json:"grid"`
	Pools  []pool.PoolStats  `json:"pools"`
}

func (w *World) Snapshot() *Snapshot {
	return &Snapshot{
		Tick:   w.tick,
		Wave:   w.wave,
		Active: len(w.active),
		XP:     w.player.XP,
		Grid:   w.grid.Stats(),
		Pools:  w.pools.Stats(),
	}
}
