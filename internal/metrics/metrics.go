// Package metrics exports simulation and pool health to Prometheus.
//
// Label cardinality is bounded: the only label is the prototype ID, which
// comes from the data files.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/l1jgo/swarm/internal/core/event"
	"github.com/l1jgo/swarm/internal/pool"
	"github.com/l1jgo/swarm/internal/spatial"
)

type Metrics struct {
	TickDuration    prometheus.Histogram
	ActiveEntities  prometheus.Gauge
	GridCells       prometheus.Gauge
	GridMaxInCell   prometheus.Gauge
	QueryCandidates prometheus.Histogram
	PoolActive      *prometheus.GaugeVec
	PoolAvailable   *prometheus.GaugeVec
	PoolExhausted   *prometheus.CounterVec
	PoolRejected    *prometheus.CounterVec
	SpawnFailures   prometheus.Counter

	// last seen lifetime counters per prototype, to turn them into deltas
	lastMisses   map[string]uint64
	lastRejected map[string]uint64
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "swarm_tick_duration_seconds",
			Help:    "Time spent in one simulation tick",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05},
		}),
		ActiveEntities: f.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_active_entities",
			Help: "Entities currently registered in the spatial index",
		}),
		GridCells: f.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_grid_cells",
			Help: "Occupied spatial grid cells",
		}),
		GridMaxInCell: f.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_grid_max_in_cell",
			Help: "Largest population of a single grid cell",
		}),
		QueryCandidates: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "swarm_query_neighbours",
			Help:    "Neighbours returned per separation query",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		PoolActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swarm_pool_active",
			Help: "Instances handed out per prototype pool",
		}, []string{"prototype"}),
		PoolAvailable: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swarm_pool_available",
			Help: "Free instances per prototype pool",
		}, []string{"prototype"}),
		PoolExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_pool_exhausted_total",
			Help: "Gets refused because the pool was at its cap",
		}, []string{"prototype"}),
		PoolRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swarm_pool_rejected_returns_total",
			Help: "Foreign or duplicate returns rejected",
		}, []string{"prototype"}),
		SpawnFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "swarm_spawn_failures_total",
			Help: "Spawns skipped for any reason",
		}),
		lastMisses:   make(map[string]uint64),
		lastRejected: make(map[string]uint64),
	}
}

// Watch counts the simulation events that have a metric of their own.
func (m *Metrics) Watch(bus *event.Bus) {
	event.Subscribe(bus, func(event.SpawnFailed) { m.SpawnFailures.Inc() })
}

// RecordTick records tick timing.
func (m *Metrics) RecordTick(d time.Duration) {
	m.TickDuration.Observe(d.Seconds())
}

// RecordGrid publishes grid occupancy.
func (m *Metrics) RecordGrid(s spatial.GridStats) {
	m.ActiveEntities.Set(float64(s.Entities))
	m.GridCells.Set(float64(s.Cells))
	m.GridMaxInCell.Set(float64(s.MaxInCell))
}

// RecordPools publishes pool sizes and converts lifetime counters to deltas.
func (m *Metrics) RecordPools(rows []pool.PoolStats) {
	for _, r := range rows {
		m.PoolActive.WithLabelValues(r.Prototype).Set(float64(r.Active))
		m.PoolAvailable.WithLabelValues(r.Prototype).Set(float64(r.Available))
		// A cleared registry starts new pools at zero; only count growth.
		if last := m.lastMisses[r.Prototype]; r.Misses > last {
			m.PoolExhausted.WithLabelValues(r.Prototype).Add(float64(r.Misses - last))
		}
		if last := m.lastRejected[r.Prototype]; r.Rejected > last {
			m.PoolRejected.WithLabelValues(r.Prototype).Add(float64(r.Rejected - last))
		}
		m.lastMisses[r.Prototype] = r.Misses
		m.lastRejected[r.Prototype] = r.Rejected
	}
}

// ObserveNeighbours records one separation query's result size.
func (m *Metrics) ObserveNeighbours(n int) {
	m.QueryCandidates.Observe(float64(n))
}
