// Profiling:
// go build ./cmd/swarmprof
// ./swarmprof -mode mem -enemies 5000 -ticks 3000
// go tool pprof -http=":8000" -nodefraction=0.001 ./swarmprof mem.pprof

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pkg/profile"
	"go.uber.org/zap"

	"github.com/l1jgo/swarm/internal/config"
	coresys "github.com/l1jgo/swarm/internal/core/system"
	"github.com/l1jgo/swarm/internal/data"
	"github.com/l1jgo/swarm/internal/sim"
)

const soakPrototypes = `
prototypes:
  - id: enemy.grunt
    kind: enemy
    radius: 8
    speed: 60
    hp: 20
    drop: pickup.orb
  - id: projectile.bolt
    kind: projectile
    radius: 2
    speed: 600
    damage: 20
    ttl_ticks: 40
  - id: pickup.orb
    kind: pickup
    radius: 3
    value: 1
`

func main() {
	mode := flag.String("mode", "cpu", "profile mode: cpu, mem or allocs")
	enemies := flag.Int("enemies", 2000, "enemies kept alive")
	ticks := flag.Int("ticks", 3000, "ticks to simulate")
	spread := flag.Float64("spread", 1500, "spawn half-width in world units")
	flag.Parse()
	if *ticks < 1 {
		*ticks = 1
	}

	var opt func(*profile.Profile)
	switch *mode {
	case "cpu":
		opt = profile.CPUProfile
	case "mem":
		opt = profile.MemProfile
	case "allocs":
		opt = profile.MemProfileAllocs
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}

	p := profile.Start(opt, profile.ProfilePath("."), profile.NoShutdownHook)
	took, snap, err := soak(*enemies, *ticks, *spread)
	p.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "soak: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d ticks in %s (%.3f ms/tick), %d active, %d cells, max %d per cell, xp %d\n",
		snap.Tick, took, float64(took.Microseconds())/float64(snap.Tick)/1000,
		snap.Active, snap.Grid.Cells, snap.Grid.MaxInCell, snap.XP)
	for _, row := range snap.Pools {
		fmt.Printf("  %-16s active=%-5d free=%-5d created=%-6d reused=%d\n",
			row.Prototype, row.Active, row.Available, row.Created, row.Reused)
	}
}

// soak runs a headless world at a fixed population with the turret firing,
// so enemies, projectiles and pickups all churn through their pools.
func soak(enemies, ticks int, spread float64) (time.Duration, *sim.Snapshot, error) {
	protos, err := data.ParsePrototypeTable([]byte(soakPrototypes))
	if err != nil {
		return 0, nil, err
	}
	cfg := config.Defaults()
	cfg.Sim.Seed = 1
	cfg.Sim.Projectile = "projectile.bolt"
	cfg.Sim.FireInterval = 1

	world := sim.NewWorld(sim.OptionsFromConfig(cfg), protos, nil, zap.NewNop())
	runner := coresys.NewRunner()
	spawns := []data.SpawnEntry{{
		Prototype: "enemy.grunt",
		Count:     enemies,
		RandomX:   spread,
		RandomY:   spread,
	}}
	if err := sim.Install(runner, world, spawns, sim.SystemOptionsFromConfig(cfg), zap.NewNop()); err != nil {
		return 0, nil, err
	}

	start := time.Now()
	for i := 0; i < ticks; i++ {
		runner.Tick(cfg.Sim.TickRate)
	}
	took := time.Since(start)
	snap := world.Snapshot()
	world.Shutdown()
	return took, snap, nil
}
