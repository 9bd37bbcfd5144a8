package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Sim     SimConfig     `toml:"sim"`
	Spatial SpatialConfig `toml:"spatial"`
	Pools   PoolsConfig   `toml:"pools"`
	Data    DataConfig    `toml:"data"`
	Logging LoggingConfig `toml:"logging"`
	Debug   DebugConfig   `toml:"debug"`
}

type SimConfig struct {
	TickRate     time.Duration `toml:"tick_rate"`
	PlayerX      float64       `toml:"player_x"`
	PlayerY      float64       `toml:"player_y"`
	PlayerRadius float64       `toml:"player_radius"` // direct distance check, the player is not indexed
	Seed         int64         `toml:"seed"`          // 0 = time based
	WaveTicks    int           `toml:"wave_ticks"`    // ticks per wave, 0 = a single wave
	Projectile   string        `toml:"projectile"`    // prototype the player fires, empty = no turret
	FireInterval int           `toml:"fire_interval"` // ticks between shots
	FireRange    float64       `toml:"fire_range"`
}

type SpatialConfig struct {
	CellSize float64 `toml:"cell_size"` // world units; ~1-2x the largest separation radius
}

// PoolOverride replaces the data-file caps for one prototype.
type PoolOverride struct {
	Max     *int `toml:"max"`
	Prewarm *int `toml:"prewarm"`
}

type PoolsConfig struct {
	DefaultMax   int                     `toml:"default_max"` // for prototypes with max_pool 0; 0 = unbounded
	WarnInterval time.Duration           `toml:"warn_interval"`
	Overrides    map[string]PoolOverride `toml:"overrides"` // prototype id → override
}

type DataConfig struct {
	Prototypes string `toml:"prototypes"`
	Spawns     string `toml:"spawns"`
	Scripts    string `toml:"scripts"` // empty = no Lua hooks
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type DebugConfig struct {
	Enabled     bool     `toml:"enabled"`
	BindAddress string   `toml:"bind_address"`
	Pprof       bool     `toml:"pprof"`        // mount /debug/pprof
	CORSOrigins []string `toml:"cors_origins"` // empty = no CORS headers
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes TOML over the defaults and validates the result.
func Parse(data []byte, name string) (*Config, error) {
	cfg := Defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", name, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}
	return cfg, nil
}

// Validate rejects values the simulation cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Sim.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("sim.tick_rate must be positive, got %s", c.Sim.TickRate))
	}
	if c.Sim.PlayerRadius < 0 {
		errs = append(errs, errors.New("sim.player_radius must not be negative"))
	}
	if c.Sim.WaveTicks < 0 {
		errs = append(errs, errors.New("sim.wave_ticks must not be negative"))
	}
	if c.Sim.Projectile != "" && (c.Sim.FireInterval <= 0 || c.Sim.FireRange <= 0) {
		errs = append(errs, errors.New("sim.fire_interval and sim.fire_range must be positive when sim.projectile is set"))
	}
	if !(c.Spatial.CellSize > 0) || math.IsInf(c.Spatial.CellSize, 0) {
		errs = append(errs, fmt.Errorf("spatial.cell_size must be positive, got %v", c.Spatial.CellSize))
	}
	if c.Pools.DefaultMax < 0 {
		errs = append(errs, errors.New("pools.default_max must not be negative"))
	}
	for id, o := range c.Pools.Overrides {
		if o.Max != nil && *o.Max < 0 {
			errs = append(errs, fmt.Errorf("pools.overrides.%s.max must not be negative", id))
		}
		if o.Prewarm != nil && *o.Prewarm < 0 {
			errs = append(errs, fmt.Errorf("pools.overrides.%s.prewarm must not be negative", id))
		}
	}
	if c.Data.Prototypes == "" {
		errs = append(errs, errors.New("data.prototypes is required"))
	}
	if c.Debug.Enabled && c.Debug.BindAddress == "" {
		errs = append(errs, errors.New("debug.bind_address is required when debug is enabled"))
	}
	return errors.Join(errs...)
}

func Defaults() *Config {
	return &Config{
		Sim: SimConfig{
			TickRate:     20 * time.Millisecond, // 50 Hz physics step
			PlayerRadius: 24,
			WaveTicks:    1500,
			FireInterval: 10,
			FireRange:    320,
		},
		Spatial: SpatialConfig{
			CellSize: 64,
		},
		Pools: PoolsConfig{
			DefaultMax:   0,
			WarnInterval: 5 * time.Second,
		},
		Data: DataConfig{
			Prototypes: "data/yaml/prototypes.yaml",
			Spawns:     "data/yaml/spawns.yaml",
			Scripts:    "scripts",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Debug: DebugConfig{
			Enabled:     true,
			BindAddress: "127.0.0.1:6060",
		},
	}
}
