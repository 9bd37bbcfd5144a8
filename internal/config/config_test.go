package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseOverridesDefaults(t *testing.T) {
	src := `
[sim]
tick_rate = "16ms"
player_x = 10.5

[spatial]
cell_size = 48.0

[pools]
default_max = 256
warn_interval = "1s"

[pools.overrides."enemy.grunt"]
max = 12
prewarm = 4

[logging]
format = "json"
`
	cfg, err := Parse([]byte(src), "inline")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Sim.TickRate != 16*time.Millisecond {
		t.Errorf("tick_rate = %s", cfg.Sim.TickRate)
	}
	if cfg.Sim.PlayerX != 10.5 || cfg.Sim.PlayerRadius != 24 {
		t.Errorf("sim = %+v", cfg.Sim)
	}
	if cfg.Spatial.CellSize != 48 {
		t.Errorf("cell_size = %v", cfg.Spatial.CellSize)
	}
	o, ok := cfg.Pools.Overrides["enemy.grunt"]
	if !ok || o.Max == nil || *o.Max != 12 || o.Prewarm == nil || *o.Prewarm != 4 {
		t.Errorf("override = %+v", o)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "info" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Data.Prototypes == "" {
		t.Error("default prototypes path lost")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	src := `
[sim]
tick_rate = "0s"
[spatial]
cell_size = -1.0
[pools.overrides.x]
max = -2
`
	_, err := Parse([]byte(src), "bad")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"tick_rate", "cell_size", "overrides.x.max"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.toml")
	if err := os.WriteFile(path, []byte("[debug]\nenabled = false\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Debug.Enabled {
		t.Error("debug still enabled")
	}
}

func TestValidateTurret(t *testing.T) {
	_, err := Parse([]byte("[sim]\nprojectile = \"projectile.bolt\"\nfire_interval = 0\n"), "turret")
	if err == nil || !strings.Contains(err.Error(), "fire_interval") {
		t.Fatalf("err = %v", err)
	}
	cfg, err := Parse([]byte("[sim]\nprojectile = \"projectile.bolt\"\n"), "turret")
	if err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}
	if cfg.Sim.FireInterval != 10 || cfg.Sim.WaveTicks != 1500 {
		t.Errorf("sim = %+v", cfg.Sim)
	}
}
