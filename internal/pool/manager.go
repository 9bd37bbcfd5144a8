package pool

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/l1jgo/swarm/internal/geom"
)

// ErrUnknownPrototype is returned when an instance names a prototype the
// manager has no pool for.
var ErrUnknownPrototype = errors.New("pool: unknown prototype")

// Sourced instances remember which prototype built them. The manager stamps
// the ID right after Hooks.New, so returns route by prototype and never by a
// per-instance name or counter.
type Sourced interface {
	comparable
	SourcePrototype() string
	SetSourcePrototype(id string)
}

// Prototype is a spawnable template with a stable, data-assigned ID.
type Prototype[T any] interface {
	PrototypeID() string
	PoolHooks() Hooks[T]
	PoolOptions() Options
}

// Manager is the registry prototype ID → Pool. One per session, constructed
// and passed explicitly.
type Manager[T Sourced] struct {
	pools map[string]*Pool[T]
	log   *zap.Logger
}

func NewManager[T Sourced](log *zap.Logger) *Manager[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager[T]{
		pools: make(map[string]*Pool[T]),
		log:   log,
	}
}

// ensure finds or creates the pool for proto.
func (m *Manager[T]) ensure(proto Prototype[T]) *Pool[T] {
	id := proto.PrototypeID()
	if p, ok := m.pools[id]; ok {
		return p
	}
	if id == "" {
		panic("pool: prototype with empty ID")
	}
	hooks := proto.PoolHooks()
	build := hooks.New
	if build == nil {
		panic("pool: prototype " + id + ": Hooks.New is required")
	}
	hooks.New = func() T {
		v := build()
		v.SetSourcePrototype(id)
		return v
	}
	p := New(id, hooks, proto.PoolOptions(), m.log)
	m.pools[id] = p
	m.log.Debug("pool created", zap.String("prototype", id), zap.Int("max", p.Max()))
	return p
}

// PrewarmAll creates the pools for protos and fills each to the requested
// standing inventory. A prototype missing from counts uses its
// Options.Prewarm. Returns the total number of instances built.
func (m *Manager[T]) PrewarmAll(protos []Prototype[T], counts map[string]int) int {
	total := 0
	for _, proto := range protos {
		p := m.ensure(proto)
		n, ok := counts[proto.PrototypeID()]
		if !ok {
			n = p.Options().Prewarm
		}
		total += p.Prewarm(n)
	}
	return total
}

// GetInstance resolves proto to its pool, creating an empty one on first use,
// and hands out a positioned instance.
func (m *Manager[T]) GetInstance(proto Prototype[T], pos geom.Vec2, heading float64) (T, error) {
	v, err := m.ensure(proto).GetAt(pos, heading)
	if err != nil {
		return v, fmt.Errorf("get %s: %w", proto.PrototypeID(), err)
	}
	return v, nil
}

// ReturnInstance sends v back to the pool of the prototype that built it.
func (m *Manager[T]) ReturnInstance(v T) error {
	var zero T
	if v == zero {
		panic("pool: ReturnInstance of zero instance")
	}
	id := v.SourcePrototype()
	p, ok := m.pools[id]
	if !ok {
		m.log.Warn("return to unknown prototype rejected", zap.String("prototype", id))
		return fmt.Errorf("return %q: %w", id, ErrUnknownPrototype)
	}
	if err := p.Return(v); err != nil {
		return fmt.Errorf("return %s: %w", id, err)
	}
	return nil
}

// ReturnAll returns every active instance of every pool.
func (m *Manager[T]) ReturnAll() int {
	n := 0
	for _, id := range m.ids() {
		n += m.pools[id].ReturnAll()
	}
	return n
}

// ClearAll clears every pool and empties the registry.
func (m *Manager[T]) ClearAll() {
	for _, id := range m.ids() {
		m.pools[id].Clear()
	}
	m.pools = make(map[string]*Pool[T])
}

// Pool returns the pool for a prototype ID, or nil.
func (m *Manager[T]) Pool(id string) *Pool[T] { return m.pools[id] }

// Len returns the number of pools.
func (m *Manager[T]) Len() int { return len(m.pools) }

func (m *Manager[T]) ids() []string {
	ids := make([]string, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Each visits the pools in prototype ID order.
func (m *Manager[T]) Each(fn func(id string, p *Pool[T])) {
	for _, id := range m.ids() {
		fn(id, m.pools[id])
	}
}

// PoolStats is one row of Manager.Stats.
type PoolStats struct {
	Prototype string `json:"prototype"`
	Max       int    `json:"max"`
	Active    int    `json:"active"`
	Available int    `json:"available"`
	Stats
}

// Stats snapshots every pool, ordered by prototype ID.
func (m *Manager[T]) Stats() []PoolStats {
	out := make([]PoolStats, 0, len(m.pools))
	m.Each(func(id string, p *Pool[T]) {
		out = append(out, PoolStats{
			Prototype: id,
			Max:       p.Max(),
			Active:    p.ActiveCount(),
			Available: p.AvailableCount(),
			Stats:     p.Stats(),
		})
	})
	return out
}
