package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/l1jgo/swarm/internal/data"
	"github.com/l1jgo/swarm/internal/geom"
	"github.com/l1jgo/swarm/internal/pool"
	"github.com/l1jgo/swarm/internal/sim"
	"github.com/l1jgo/swarm/internal/spatial"
)

func TestRecordPoolsTurnsCountersIntoDeltas(t *testing.T) {
	m := New(prometheus.NewRegistry())

	row := pool.PoolStats{Prototype: "enemy.grunt", Active: 3, Available: 5}
	row.Misses = 4
	m.RecordPools([]pool.PoolStats{row})
	row.Misses = 6
	row.Rejected = 1
	row.Active = 8
	m.RecordPools([]pool.PoolStats{row})

	if got := testutil.ToFloat64(m.PoolExhausted.WithLabelValues("enemy.grunt")); got != 6 {
		t.Errorf("exhausted = %v, want 6", got)
	}
	if got := testutil.ToFloat64(m.PoolRejected.WithLabelValues("enemy.grunt")); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PoolActive.WithLabelValues("enemy.grunt")); got != 8 {
		t.Errorf("active = %v", got)
	}
	if got := testutil.ToFloat64(m.PoolAvailable.WithLabelValues("enemy.grunt")); got != 5 {
		t.Errorf("available = %v", got)
	}
}

func TestRecordGrid(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordGrid(spatial.GridStats{Cells: 4, Entities: 10, MaxInCell: 6})
	if testutil.ToFloat64(m.ActiveEntities) != 10 || testutil.ToFloat64(m.GridCells) != 4 ||
		testutil.ToFloat64(m.GridMaxInCell) != 6 {
		t.Error("grid gauges not set")
	}
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration panic")
		}
	}()
	New(reg)
}

func TestWatchCountsExhaustedSpawns(t *testing.T) {
	tbl, err := data.ParsePrototypeTable([]byte(`
prototypes:
  - id: enemy.grunt
    kind: enemy
    radius: 8
    speed: 60
    hp: 20
    max_pool: 1
`))
	if err != nil {
		t.Fatalf("prototypes: %v", err)
	}
	w := sim.NewWorld(sim.Options{CellSize: 32}, tbl, nil, nil)
	m := New(prometheus.NewRegistry())
	m.Watch(w.Bus())

	if _, err := w.Spawn("enemy.grunt", geom.V(0, 0), 0); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := w.Spawn("enemy.grunt", geom.V(10, 0), 0); err == nil {
			t.Fatal("spawn past the cap succeeded")
		}
	}
	if got := testutil.ToFloat64(m.SpawnFailures); got != 0 {
		t.Errorf("failures counted before delivery: %v", got)
	}
	w.Bus().SwapBuffers()
	w.Bus().DispatchAll()
	if got := testutil.ToFloat64(m.SpawnFailures); got != 2 {
		t.Errorf("spawn failures = %v, want 2", got)
	}
}
