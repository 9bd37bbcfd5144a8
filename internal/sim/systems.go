package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/swarm/internal/config"
	"github.com/l1jgo/swarm/internal/core/event"
	coresys "github.com/l1jgo/swarm/internal/core/system"
	"github.com/l1jgo/swarm/internal/data"
	"github.com/l1jgo/swarm/internal/geom"
	"github.com/l1jgo/swarm/internal/pool"
)

// SystemOptions tune the gameplay systems installed on a World.
type SystemOptions struct {
	Seed         int64
	WaveTicks    int
	Projectile   string
	FireInterval int
	FireRange    float64
}

func SystemOptionsFromConfig(cfg *config.Config) SystemOptions {
	seed := cfg.Sim.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return SystemOptions{
		Seed:         seed,
		WaveTicks:    cfg.Sim.WaveTicks,
		Projectile:   cfg.Sim.Projectile,
		FireInterval: cfg.Sim.FireInterval,
		FireRange:    cfg.Sim.FireRange,
	}
}

// Install registers every simulation system on r in phase order.
func Install(r *coresys.Runner, w *World, spawns []data.SpawnEntry, opts SystemOptions, log *zap.Logger) error {
	if opts.Projectile != "" {
		tmpl := w.table.Get(opts.Projectile)
		if tmpl == nil {
			return fmt.Errorf("turret projectile %q: %w", opts.Projectile, ErrUnknownPrototype)
		}
		if tmpl.Kind != data.KindProjectile {
			return fmt.Errorf("turret prototype %q is a %s, not a projectile", opts.Projectile, tmpl.Kind)
		}
	}
	r.Register(NewEventSystem(w.bus))
	r.Register(NewMoveSystem(w))
	r.Register(NewContactSystem(w))
	r.Register(NewSeparationSystem(w))
	r.Register(NewRespawnSystem(w, spawns, opts.Seed, log))
	if opts.Projectile != "" {
		r.Register(NewTurretSystem(w, opts.Projectile, opts.FireInterval, opts.FireRange))
	}
	if opts.WaveTicks > 0 {
		r.Register(NewWaveSystem(w, opts.WaveTicks, log))
	}
	r.Register(NewCleanupSystem(w))
	return nil
}

// EventSystem swaps the bus and delivers last tick's events. Phase 0.
type EventSystem struct {
	bus *event.Bus
}

func NewEventSystem(bus *event.Bus) *EventSystem {
	return &EventSystem{bus: bus}
}

func (s *EventSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *EventSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}

// MoveSystem integrates velocities and refiles bodies in the grid. Enemies
// seek the player; separation force from the previous steer phase is applied
// here and then cleared. Phase 1.
type MoveSystem struct {
	w *World
}

func NewMoveSystem(w *World) *MoveSystem {
	return &MoveSystem{w: w}
}

func (s *MoveSystem) Phase() coresys.Phase { return coresys.PhaseMove }

func (s *MoveSystem) Update(dt time.Duration) {
	sec := dt.Seconds()
	player := s.w.player.Pos
	s.w.EachActive(func(b *Body) {
		switch b.Kind {
		case data.KindEnemy:
			steer := player.Sub(b.Pos).Normalize().Add(b.Force)
			b.Vel = steer.ClampLen(1).Scale(b.Speed)
			b.Heading = b.Vel.Angle()
		case data.KindPickup:
			b.Vel = b.Force.ClampLen(1).Scale(b.Speed)
		}
		b.Force = geom.Vec2{}
		if b.Vel.IsZero() {
			return
		}
		s.w.Move(b, b.Pos.Add(b.Vel.Scale(sec)))
	})
}

// ContactSystem resolves overlaps against fresh positions: projectile hits,
// enemy deaths with their drops, pickup collection and TTL expiry. Phase 2.
type ContactSystem struct {
	w       *World
	scratch []*Body
	drops   []drop
}

type drop struct {
	proto string
	pos   geom.Vec2
}

func NewContactSystem(w *World) *ContactSystem {
	return &ContactSystem{w: w, scratch: make([]*Body, 0, 64)}
}

func (s *ContactSystem) Phase() coresys.Phase { return coresys.PhaseSense }

func (s *ContactSystem) Update(_ time.Duration) {
	reach := s.maxEnemyRadius()
	s.w.EachActive(func(b *Body) {
		if b.dying {
			return
		}
		if b.TTL > 0 {
			b.TTL--
			if b.TTL == 0 {
				s.w.Despawn(b, ReasonExpired)
				return
			}
		}
		switch b.Kind {
		case data.KindProjectile:
			s.hit(b, reach)
		case data.KindPickup:
			s.collect(b)
		}
	})
	for i, d := range s.drops {
		// An exhausted drop pool skips the drop; SpawnFailed already reports it.
		_, _ = s.w.Spawn(d.proto, d.pos, 0)
		s.drops[i] = drop{}
	}
	s.drops = s.drops[:0]
}

func (s *ContactSystem) maxEnemyRadius() float64 {
	r := 0.0
	for _, t := range s.w.table.All() {
		if t.Kind == data.KindEnemy && t.Radius > r {
			r = t.Radius
		}
	}
	return r
}

// hit damages the nearest overlapping enemy and spends the projectile.
func (s *ContactSystem) hit(p *Body, reach float64) {
	s.scratch = s.w.grid.AppendRadius(s.scratch[:0], p.Pos, p.Radius+reach, p)
	var target *Body
	best := math.Inf(1)
	for _, e := range s.scratch {
		if e.Kind != data.KindEnemy || e.dying {
			continue
		}
		d := p.Pos.Dist(e.Pos)
		if d <= p.Radius+e.Radius && d < best {
			target, best = e, d
		}
	}
	if target == nil {
		return
	}
	s.w.Despawn(p, ReasonHit)
	target.HP -= p.Damage
	if target.HP > 0 {
		return
	}
	s.w.Despawn(target, ReasonKilled)
	if tmpl := target.tmpl; tmpl != nil && tmpl.Drop != "" {
		s.drops = append(s.drops, drop{proto: tmpl.Drop, pos: target.Pos})
	}
}

func (s *ContactSystem) collect(b *Body) {
	pl := &s.w.player
	if b.Pos.Dist(pl.Pos) > pl.Radius+b.Radius {
		return
	}
	pl.XP += b.Value
	s.w.Despawn(b, ReasonCollected)
}

// SeparationSystem pushes overlapping enemies (and overlapping pickups) apart
// and keeps enemies out of the player's radius. The player is checked
// directly; it is never in the grid. Phase 3.
type SeparationSystem struct {
	w       *World
	scratch []*Body
}

func NewSeparationSystem(w *World) *SeparationSystem {
	return &SeparationSystem{w: w, scratch: make([]*Body, 0, 64)}
}

func (s *SeparationSystem) Phase() coresys.Phase { return coresys.PhaseSteer }

func (s *SeparationSystem) Update(_ time.Duration) {
	s.w.EachActive(func(b *Body) {
		if b.dying || b.Kind == data.KindProjectile {
			return
		}
		s.scratch = s.w.Neighbours(b, s.scratch[:0])
		r := b.InteractionRadius()
		var push geom.Vec2
		for _, n := range s.scratch {
			if n.Kind != b.Kind || n.dying {
				continue
			}
			push = push.Add(repel(b, n.Pos, r).Scale(weight(n)))
		}
		if b.Kind == data.KindEnemy {
			pl := s.w.player
			if limit := pl.Radius + b.Radius; b.Pos.Dist(pl.Pos) < limit {
				push = push.Add(repel(b, pl.Pos, limit).Scale(2))
			}
		}
		b.Force = push
	})
}

// repel is the push on b away from a point inside radius r, strongest at
// contact and zero at the edge.
func repel(b *Body, from geom.Vec2, r float64) geom.Vec2 {
	d := b.Pos.Sub(from)
	dist := d.Len()
	if dist >= r || r <= 0 {
		return geom.Vec2{}
	}
	if dist == 0 {
		// Coincident bodies split along an angle derived from the slot index.
		return geom.FromAngle(float64(b.id.Index()) * 2.399963)
	}
	return d.Scale(1 / dist).Scale(1 - dist/r)
}

func weight(b *Body) float64 {
	if b.tmpl == nil {
		return 1
	}
	return b.tmpl.Weight()
}

// RespawnSystem keeps every spawn-list slot at its configured count. A
// despawned body frees its slot after respawn_delay ticks (scripts may
// change the delay). Spawns refused by an exhausted pool retry next tick.
// Phase 4.
type RespawnSystem struct {
	w     *World
	slots []spawnSlot
	rng   *rand.Rand
	log   *zap.Logger
}

type spawnSlot struct {
	entry  data.SpawnEntry
	timers []int // ticks until each pending respawn
}

func NewRespawnSystem(w *World, spawns []data.SpawnEntry, seed int64, log *zap.Logger) *RespawnSystem {
	if log == nil {
		log = zap.NewNop()
	}
	s := &RespawnSystem{
		w:     w,
		slots: make([]spawnSlot, len(spawns)),
		rng:   rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1)),
		log:   log,
	}
	for i, e := range spawns {
		s.slots[i] = spawnSlot{entry: e, timers: make([]int, e.Count)}
	}
	event.Subscribe(w.bus, s.onDespawned)
	return s
}

func (s *RespawnSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *RespawnSystem) onDespawned(ev event.Despawned) {
	if ev.Source < 0 || ev.Source >= len(s.slots) || ev.Reason == ReasonCleared {
		return
	}
	slot := &s.slots[ev.Source]
	delay := slot.entry.RespawnDelay
	if s.w.scripts != nil {
		delay = s.w.scripts.RespawnDelay(ev.Prototype, delay)
	}
	slot.timers = append(slot.timers, delay)
}

// Pending returns how many respawns are waiting across all slots.
func (s *RespawnSystem) Pending() int {
	n := 0
	for i := range s.slots {
		n += len(s.slots[i].timers)
	}
	return n
}

// Refill queues every slot back to its full count, used after a World.Reset.
func (s *RespawnSystem) Refill() {
	for i := range s.slots {
		s.slots[i].timers = s.slots[i].timers[:0]
		for j := 0; j < s.slots[i].entry.Count; j++ {
			s.slots[i].timers = append(s.slots[i].timers, 0)
		}
	}
}

func (s *RespawnSystem) Update(_ time.Duration) {
	for i := range s.slots {
		slot := &s.slots[i]
		kept := slot.timers[:0]
		blocked := false
		for _, t := range slot.timers {
			if t > 0 {
				kept = append(kept, t-1)
				continue
			}
			if blocked {
				kept = append(kept, 0)
				continue
			}
			b, err := s.w.Spawn(slot.entry.Prototype, s.position(slot.entry), slot.entry.Heading)
			if err != nil {
				if errors.Is(err, pool.ErrExhausted) {
					// Cap reached; keep the timer and try again next tick.
					blocked = true
					kept = append(kept, 0)
					continue
				}
				s.log.Error("respawn failed", zap.String("prototype", slot.entry.Prototype), zap.Error(err))
				continue
			}
			b.spawner = i
		}
		slot.timers = kept
	}
}

func (s *RespawnSystem) position(e data.SpawnEntry) geom.Vec2 {
	x, y := e.X, e.Y
	if e.RandomX > 0 {
		x += (s.rng.Float64()*2 - 1) * e.RandomX
	}
	if e.RandomY > 0 {
		y += (s.rng.Float64()*2 - 1) * e.RandomY
	}
	return geom.V(x, y)
}

// TurretSystem fires the player's projectile at the nearest enemy in range
// every interval ticks. Phase 4.
type TurretSystem struct {
	w        *World
	proto    string
	interval int
	reach    float64
	cooldown int
	scratch  []*Body
}

func NewTurretSystem(w *World, proto string, interval int, fireRange float64) *TurretSystem {
	if interval < 1 {
		interval = 1
	}
	return &TurretSystem{w: w, proto: proto, interval: interval, reach: fireRange, scratch: make([]*Body, 0, 64)}
}

func (s *TurretSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *TurretSystem) Update(_ time.Duration) {
	if s.cooldown > 0 {
		s.cooldown--
		return
	}
	origin := s.w.player.Pos
	var target *Body
	best := math.Inf(1)
	s.scratch = s.w.grid.AppendRadius(s.scratch[:0], origin, s.reach, nil)
	for _, b := range s.scratch {
		if b.Kind != data.KindEnemy || b.dying {
			continue
		}
		if d := origin.DistSq(b.Pos); d < best {
			target, best = b, d
		}
	}
	if target == nil {
		return
	}
	if _, err := s.w.Spawn(s.proto, origin, target.Pos.Sub(origin).Angle()); err != nil {
		return
	}
	s.cooldown = s.interval - 1
}

// WaveSystem advances the wave counter every n ticks. Phase 4.
type WaveSystem struct {
	w     *World
	every int
	count int
	log   *zap.Logger
}

func NewWaveSystem(w *World, every int, log *zap.Logger) *WaveSystem {
	if log == nil {
		log = zap.NewNop()
	}
	return &WaveSystem{w: w, every: every, log: log}
}

func (s *WaveSystem) Phase() coresys.Phase { return coresys.PhasePostUpdate }

func (s *WaveSystem) Update(_ time.Duration) {
	s.count++
	if s.count < s.every {
		return
	}
	s.count = 0
	s.w.SetWave(s.w.wave + 1)
	s.log.Info("wave advanced", zap.Int("wave", s.w.wave), zap.Int("active", s.w.ActiveCount()))
}

// CleanupSystem flushes this tick's despawns and closes the tick. Phase 5.
type CleanupSystem struct {
	w *World
}

func NewCleanupSystem(w *World) *CleanupSystem {
	return &CleanupSystem{w: w}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	s.w.FlushDespawns()
	s.w.AdvanceTick()
}
