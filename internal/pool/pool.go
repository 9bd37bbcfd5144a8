// Package pool keeps reusable entity instances alive between spawns so the
// simulation does not allocate on every enemy, projectile or pickup.
//
// Pools are owned by the simulation goroutine and take no locks.
package pool

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/l1jgo/swarm/internal/geom"
)

var (
	// ErrExhausted is returned by Get when the pool is at its cap and has no
	// free instance. Callers skip the spawn and retry on a later tick.
	ErrExhausted = errors.New("pool: exhausted")
	// ErrNotOwned is returned by Return for an instance this pool never built.
	ErrNotOwned = errors.New("pool: instance not owned by this pool")
	// ErrAlreadyReturned is returned by Return for an instance already free.
	ErrAlreadyReturned = errors.New("pool: instance already returned")
)

// DefaultWarnInterval throttles exhaustion warnings for one pool.
const DefaultWarnInterval = time.Second

// Hooks are the only place the pool touches entity behaviour.
type Hooks[T any] struct {
	New       func() T                    // required; builds a deactivated instance
	OnAcquire func(T)                     // before the instance is handed out
	OnRelease func(T)                     // before the instance re-enters the free list
	OnDestroy func(T)                     // on Clear
	Place     func(T, geom.Vec2, float64) // used by GetAt
}

// Options bound a pool's growth.
type Options struct {
	Max          int           // 0 = unbounded
	Prewarm      int           // standing inventory built by Manager.PrewarmAll
	WarnInterval time.Duration // 0 = DefaultWarnInterval
}

// Stats are lifetime counters; Clear does not reset them.
type Stats struct {
	Created   uint64 `json:"created"`
	Destroyed uint64 `json:"destroyed"`
	Gets      uint64 `json:"gets"`
	Reused    uint64 `json:"reused"`
	Misses    uint64 `json:"misses"`
	Returns   uint64 `json:"returns"`
	Rejected  uint64 `json:"rejected"`
}

type instanceState uint8

const (
	stateFree instanceState = iota + 1
	stateActive
)

// Pool hands out and reclaims instances of T.
//
// Every instance the pool built is either on the free list or in the active
// set, never both: Free → Get → Active → Return → Free, and Clear destroys
// from either side.
type Pool[T comparable] struct {
	name  string
	hooks Hooks[T]
	opts  Options
	log   *zap.Logger

	members    map[T]instanceState
	free       []T       // LIFO; the most recently returned instance is reused first
	active     []T       // dense active set
	activeSlot map[T]int // instance → index in active

	stats      Stats
	warn       *rate.Limiter
	suppressed int
}

// New creates an empty pool. hooks.New must be set.
func New[T comparable](name string, hooks Hooks[T], opts Options, log *zap.Logger) *Pool[T] {
	if hooks.New == nil {
		panic("pool: " + name + ": Hooks.New is required")
	}
	if opts.Max < 0 {
		opts.Max = 0
	}
	if opts.WarnInterval <= 0 {
		opts.WarnInterval = DefaultWarnInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool[T]{
		name:       name,
		hooks:      hooks,
		opts:       opts,
		log:        log.With(zap.String("pool", name)),
		members:    make(map[T]instanceState),
		activeSlot: make(map[T]int),
		warn:       rate.NewLimiter(rate.Every(opts.WarnInterval), 1),
	}
}

func (p *Pool[T]) Name() string        { return p.name }
func (p *Pool[T]) Max() int            { return p.opts.Max }
func (p *Pool[T]) Options() Options    { return p.opts }
func (p *Pool[T]) ActiveCount() int    { return len(p.active) }
func (p *Pool[T]) AvailableCount() int { return len(p.free) }
func (p *Pool[T]) Stats() Stats        { return p.stats }

// Size is the number of live instances, active or free.
func (p *Pool[T]) Size() int { return len(p.members) }

// IsActive reports whether v is currently handed out by this pool.
func (p *Pool[T]) IsActive(v T) bool { return p.members[v] == stateActive }

// Owns reports whether v was built by this pool and not yet destroyed.
func (p *Pool[T]) Owns(v T) bool {
	_, ok := p.members[v]
	return ok
}

func (p *Pool[T]) atCap() bool {
	return p.opts.Max > 0 && len(p.members) >= p.opts.Max
}

func (p *Pool[T]) build() T {
	v := p.hooks.New()
	var zero T
	if v == zero {
		panic("pool: " + p.name + ": Hooks.New returned a zero instance")
	}
	if _, dup := p.members[v]; dup {
		panic("pool: " + p.name + ": Hooks.New returned a live instance")
	}
	p.stats.Created++
	return v
}

// Prewarm builds up to count free instances without exceeding Max and returns
// how many were built. Repeated calls keep adding until the cap.
func (p *Pool[T]) Prewarm(count int) int {
	made := 0
	for ; made < count && !p.atCap(); made++ {
		v := p.build()
		p.members[v] = stateFree
		p.free = append(p.free, v)
	}
	if made > 0 {
		p.log.Debug("pool prewarmed", zap.Int("built", made), zap.Int("available", len(p.free)))
	}
	return made
}

// Get hands out a free instance, building one when the free list is empty.
// At the cap it returns ErrExhausted and logs a throttled warning.
func (p *Pool[T]) Get() (T, error) {
	var v T
	if n := len(p.free); n > 0 {
		v = p.free[n-1]
		var zero T
		p.free[n-1] = zero
		p.free = p.free[:n-1]
		p.stats.Reused++
	} else if p.atCap() {
		p.stats.Misses++
		p.reportExhausted()
		var zero T
		return zero, ErrExhausted
	} else {
		v = p.build()
	}

	p.members[v] = stateActive
	p.activeSlot[v] = len(p.active)
	p.active = append(p.active, v)
	p.stats.Gets++
	if p.hooks.OnAcquire != nil {
		p.hooks.OnAcquire(v)
	}
	return v, nil
}

// GetAt is Get followed by Place, so the instance is already positioned when
// the caller sees it.
func (p *Pool[T]) GetAt(pos geom.Vec2, heading float64) (T, error) {
	v, err := p.Get()
	if err != nil {
		return v, err
	}
	if p.hooks.Place != nil {
		p.hooks.Place(v, pos, heading)
	}
	return v, nil
}

func (p *Pool[T]) reportExhausted() {
	if !p.warn.Allow() {
		p.suppressed++
		return
	}
	p.log.Warn("pool exhausted",
		zap.Int("max", p.opts.Max),
		zap.Int("active", len(p.active)),
		zap.Int("suppressed", p.suppressed))
	p.suppressed = 0
}

// Return puts an active instance back on the free list. Foreign instances and
// double returns are rejected and logged; the pool is left untouched.
func (p *Pool[T]) Return(v T) error {
	var zero T
	if v == zero {
		panic("pool: " + p.name + ": Return of zero instance")
	}
	switch p.members[v] {
	case stateActive:
	case stateFree:
		p.stats.Rejected++
		p.log.Warn("double return rejected")
		return ErrAlreadyReturned
	default:
		p.stats.Rejected++
		p.log.Warn("return of foreign instance rejected")
		return ErrNotOwned
	}

	if p.hooks.OnRelease != nil {
		p.hooks.OnRelease(v)
	}
	p.removeActive(v)
	p.members[v] = stateFree
	p.free = append(p.free, v)
	p.stats.Returns++
	return nil
}

func (p *Pool[T]) removeActive(v T) {
	i := p.activeSlot[v]
	last := len(p.active) - 1
	if i != last {
		moved := p.active[last]
		p.active[i] = moved
		p.activeSlot[moved] = i
	}
	var zero T
	p.active[last] = zero
	p.active = p.active[:last]
	delete(p.activeSlot, v)
}

// ReturnAll returns every active instance and reports how many.
func (p *Pool[T]) ReturnAll() int {
	snapshot := append([]T(nil), p.active...)
	n := 0
	for _, v := range snapshot {
		if p.Return(v) == nil {
			n++
		}
	}
	return n
}

// EachActive calls fn for every active instance. fn must not Get or Return.
func (p *Pool[T]) EachActive(fn func(T)) {
	for _, v := range p.active {
		fn(v)
	}
}

// Clear destroys every instance and leaves the pool as freshly constructed.
// Lifetime counters are kept.
func (p *Pool[T]) Clear() {
	destroyed := len(p.members)
	if p.hooks.OnDestroy != nil {
		for _, v := range p.active {
			p.hooks.OnDestroy(v)
		}
		for _, v := range p.free {
			p.hooks.OnDestroy(v)
		}
	}
	p.stats.Destroyed += uint64(destroyed)
	p.members = make(map[T]instanceState)
	p.activeSlot = make(map[T]int)
	p.active = nil
	p.free = nil
	p.suppressed = 0
	if destroyed > 0 {
		p.log.Debug("pool cleared", zap.Int("destroyed", destroyed))
	}
}
