package sim

import (
	"github.com/l1jgo/swarm/internal/core/ecs"
	"github.com/l1jgo/swarm/internal/data"
	"github.com/l1jgo/swarm/internal/geom"
)

// Tracked is what the spatial hosts need from an entity. Registration is an
// explicit call made by World at spawn and despawn, not a side effect of an
// enable/disable callback.
type Tracked interface {
	ID() ecs.EntityID
	Position() geom.Vec2
	InteractionRadius() float64
}

// Body is the pooled entity handle shared by enemies, projectiles and
// pickups. A *Body is either live in the World (registered in the grid and
// active in its pool) or parked on its pool's free list.
type Body struct {
	id        ecs.EntityID
	prototype string // stamped by the pool manager
	tmpl      *data.Template

	Kind    data.Kind
	Pos     geom.Vec2
	Heading float64
	Vel     geom.Vec2
	Force   geom.Vec2 // separation push gathered in the steer phase, applied next move
	Radius  float64
	Speed   float64
	HP      int32
	MaxHP   int32
	TTL     int // ticks left, 0 = no expiry

	Damage int32 // projectile: HP taken from the enemy it hits
	Value  int   // pickup: experience carried

	Alive   bool
	dying   bool // queued for this tick's cleanup
	spawner int  // spawn-list slot that owns this body, -1 for ad hoc spawns
}

func (b *Body) ID() ecs.EntityID             { return b.id }
func (b *Body) Position() geom.Vec2          { return b.Pos }
func (b *Body) SourcePrototype() string      { return b.prototype }
func (b *Body) SetSourcePrototype(id string) { b.prototype = id }
func (b *Body) Template() *data.Template     { return b.tmpl }
func (b *Body) Dying() bool                  { return b.dying }

// InteractionRadius is the separation query radius for this body.
func (b *Body) InteractionRadius() float64 {
	if b.tmpl == nil {
		return 2 * b.Radius
	}
	return b.tmpl.NeighbourRadius()
}

var _ Tracked = (*Body)(nil)
