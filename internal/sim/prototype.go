package sim

import (
	"github.com/l1jgo/swarm/internal/data"
	"github.com/l1jgo/swarm/internal/geom"
	"github.com/l1jgo/swarm/internal/pool"
	"github.com/l1jgo/swarm/internal/scripting"
)

// prototype adapts a data template to pool.Prototype. Each kind gets its own
// acquire/release behaviour; the pool itself never looks inside a Body.
type prototype struct {
	tmpl *data.Template
	w    *World
	opts pool.Options
}

func (p *prototype) PrototypeID() string       { return p.tmpl.ID }
func (p *prototype) PoolOptions() pool.Options { return p.opts }

func (p *prototype) PoolHooks() pool.Hooks[*Body] {
	return pool.Hooks[*Body]{
		New:       p.build,
		OnAcquire: p.acquire,
		OnRelease: p.release,
		OnDestroy: p.destroy,
		Place:     p.place,
	}
}

func (p *prototype) build() *Body {
	return &Body{
		tmpl:    p.tmpl,
		Kind:    p.tmpl.Kind,
		Radius:  p.tmpl.Radius,
		spawner: -1,
	}
}

func (p *prototype) acquire(b *Body) {
	b.id = p.w.ids.Acquire()
	b.Alive = true
	b.dying = false
	b.spawner = -1
	b.Vel = geom.Vec2{}
	b.Force = geom.Vec2{}
	b.Radius = p.tmpl.Radius
	b.TTL = p.tmpl.TTLTicks

	hp, speed := int(p.tmpl.HP), p.tmpl.Speed
	if p.w.scripts != nil {
		r := p.w.scripts.OnAcquire(scripting.AcquireContext{
			Prototype: p.tmpl.ID,
			Kind:      string(p.tmpl.Kind),
			HP:        hp,
			Speed:     speed,
			Wave:      p.w.wave,
		})
		hp, speed = r.HP, r.Speed
	}
	b.HP, b.MaxHP = int32(hp), int32(hp)
	b.Speed = speed

	switch b.Kind {
	case data.KindProjectile:
		b.Damage = p.tmpl.Damage
	case data.KindPickup:
		b.Value = p.tmpl.Value
	}
}

func (p *prototype) release(b *Body) {
	p.w.ids.Release(b.id)
	b.Alive = false
	b.dying = false
	b.Vel = geom.Vec2{}
	b.Force = geom.Vec2{}

	switch b.Kind {
	case data.KindProjectile:
		b.Damage = 0
		b.TTL = 0
	case data.KindPickup:
		b.Value = 0
	case data.KindEnemy:
		b.HP = 0
	}
}

func (p *prototype) destroy(b *Body) {
	if b.Alive {
		p.w.ids.Release(b.id)
	}
	b.Alive = false
	b.tmpl = nil
}

func (p *prototype) place(b *Body, pos geom.Vec2, heading float64) {
	b.Pos = pos
	b.Heading = heading
	if b.Kind == data.KindProjectile {
		b.Vel = geom.FromAngle(heading).Scale(b.Speed)
	}
}
