package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/l1jgo/swarm/internal/config"
	coresys "github.com/l1jgo/swarm/internal/core/system"
	"github.com/l1jgo/swarm/internal/data"
	"github.com/l1jgo/swarm/internal/debugserver"
	"github.com/l1jgo/swarm/internal/metrics"
	"github.com/l1jgo/swarm/internal/scripting"
	"github.com/l1jgo/swarm/internal/sim"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/swarm.toml"
	if p := os.Getenv("SWARM_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// 3. Load data tables
	protos, err := data.LoadPrototypeTable(cfg.Data.Prototypes)
	if err != nil {
		return fmt.Errorf("load prototypes: %w", err)
	}
	var spawns []data.SpawnEntry
	if cfg.Data.Spawns != "" {
		spawns, err = data.LoadSpawnList(cfg.Data.Spawns, protos)
		if err != nil {
			return fmt.Errorf("load spawn list: %w", err)
		}
	}
	log.Info("data loaded", zap.Int("prototypes", protos.Count()), zap.Int("spawn_entries", len(spawns)))

	// 4. Lua hooks
	scripts, err := scripting.NewEngine(cfg.Data.Scripts, log.Named("lua"))
	if err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	defer scripts.Close()

	// 5. World, pools and systems
	world := sim.NewWorld(sim.OptionsFromConfig(cfg), protos, scripts, log.Named("sim"))
	world.Prewarm()

	runner := coresys.NewRunner()
	if err := sim.Install(runner, world, spawns, sim.SystemOptionsFromConfig(cfg), log.Named("sim")); err != nil {
		return fmt.Errorf("install systems: %w", err)
	}

	// 6. Metrics and debug server
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	m.Watch(world.Bus())
	world.OnNeighbours = m.ObserveNeighbours

	var debug *debugserver.Server
	if cfg.Debug.Enabled {
		debug = debugserver.New(cfg.Debug, reg, log.Named("debug"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if debug != nil {
		g.Go(func() error { return debug.Run(ctx) })
	}
	g.Go(func() error {
		return gameLoop(ctx, cfg.Sim.TickRate, runner, world, m, debug, log)
	})

	log.Info("simulation started",
		zap.Duration("tick", cfg.Sim.TickRate),
		zap.Float64("cell_size", world.Grid().CellSize()),
		zap.Int("pools", world.Pools().Len()))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// gameLoop ticks the runner until ctx is done. It is the only goroutine that
// touches the world; other goroutines only see published snapshots.
func gameLoop(ctx context.Context, tickRate time.Duration, runner *coresys.Runner, world *sim.World, m *metrics.Metrics, debug *debugserver.Server, log *zap.Logger) error {
	ticker := time.NewTicker(tickRate)
	defer ticker.Stop()

	const publishInterval = 25 // ticks between snapshots (0.5s at 50 Hz)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			runner.Tick(tickRate)
			m.RecordTick(time.Since(start))

			if runner.Ticks()%publishInterval == 0 {
				snap := world.Snapshot()
				m.RecordGrid(snap.Grid)
				m.RecordPools(snap.Pools)
				if debug != nil {
					debug.Publish(snap)
				}
			}
		case <-ctx.Done():
			log.Info("shutting down", zap.Uint64("ticks", runner.Ticks()))
			world.Shutdown()
			return ctx.Err()
		}
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
