package system

import "time"

// Phase defines execution ordering within a single tick. Every position
// update (PhaseMove) finishes before any neighbour query (PhaseSense and
// later), so one tick never mixes fresh and stale positions.
type Phase int

const (
	PhasePreUpdate  Phase = iota // 0: deliver last tick's events
	PhaseMove                    // 1: integrate velocity, refile in the grid
	PhaseSense                   // 2: lifetime/contact checks against fresh positions
	PhaseSteer                   // 3: neighbour queries, separation forces
	PhasePostUpdate              // 4: spawn and respawn
	PhaseCleanup                 // 5: unregister and pool this tick's dead
)

var phaseNames = [...]string{"pre_update", "move", "sense", "steer", "post_update", "cleanup"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// System is the interface every simulation system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
