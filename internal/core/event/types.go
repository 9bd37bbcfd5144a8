package event

import (
	"github.com/l1jgo/swarm/internal/core/ecs"
	"github.com/l1jgo/swarm/internal/geom"
)

// Spawned fires after a pooled body is registered in the grid.
type Spawned struct {
	EntityID  ecs.EntityID
	Prototype string
	Pos       geom.Vec2
}

// Despawned fires after a body is unregistered and back in its pool.
type Despawned struct {
	EntityID  ecs.EntityID
	Prototype string
	Reason    string // "killed", "expired", "hit", "collected", "cleared"
	Source    int    // spawn-list slot that owned the body, -1 if none
}

// SpawnFailed fires when a spawn was skipped, usually an exhausted pool.
type SpawnFailed struct {
	Prototype string
	Err       error
}
