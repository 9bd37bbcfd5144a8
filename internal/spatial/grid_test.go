package spatial

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/l1jgo/swarm/internal/geom"
)

type handle int

func sorted(hs []handle) []handle {
	out := append([]handle(nil), hs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalSets(a, b []handle) bool {
	a, b = sorted(a), sorted(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func contains(hs []handle, h handle) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}

// TestSpawnMoveDie walks one entity through register, move and unregister.
func TestSpawnMoveDie(t *testing.T) {
	g := NewGrid[handle](2)
	e := handle(1)

	if err := g.Register(e, geom.V(0, 0)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := g.QueryRadius(geom.V(0.5, 0), 1); !contains(got, e) {
		t.Fatalf("expected E near (0.5,0), got %v", got)
	}

	g.UpdatePosition(e, geom.V(100, 100))
	if got := g.QueryRadius(geom.V(0.5, 0), 1); contains(got, e) {
		t.Errorf("E still reported near origin after move: %v", got)
	}
	if got := g.QueryRadius(geom.V(100, 100), 1); !contains(got, e) {
		t.Errorf("expected E near (100,100), got %v", got)
	}

	g.Unregister(e)
	if got := g.QueryRadius(geom.V(0.5, 0), 1); len(got) != 0 {
		t.Errorf("expected empty result near origin, got %v", got)
	}
	if got := g.QueryRadius(geom.V(100, 100), 1); len(got) != 0 {
		t.Errorf("expected empty result near (100,100), got %v", got)
	}
	if g.Len() != 0 {
		t.Errorf("expected empty grid, Len=%d", g.Len())
	}
}

// TestQueryMatchesBruteForce drives random register/move/unregister sequences
// and compares every query with an O(N) scan.
func TestQueryMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, cellSize := range []float64{0.5, 3, 10, 64} {
		g := NewGrid[handle](cellSize)
		truth := make(map[handle]geom.Vec2)
		next := handle(1)
		randPos := func() geom.Vec2 {
			return geom.V(rng.Float64()*200-100, rng.Float64()*200-100)
		}

		for step := 0; step < 3000; step++ {
			switch op := rng.Intn(10); {
			case op < 3 || len(truth) == 0:
				p := randPos()
				if err := g.Register(next, p); err != nil {
					t.Fatalf("Register: %v", err)
				}
				truth[next] = p
				next++
			case op < 8:
				for h := range truth {
					p := truth[h].Add(geom.V(rng.Float64()*20-10, rng.Float64()*20-10))
					g.UpdatePosition(h, p)
					truth[h] = p
					break
				}
			default:
				for h := range truth {
					g.Unregister(h)
					delete(truth, h)
					break
				}
			}

			if step%10 != 0 {
				continue
			}
			center := randPos()
			radius := rng.Float64() * 30
			var want []handle
			for h, p := range truth {
				if p.DistSq(center) <= radius*radius {
					want = append(want, h)
				}
			}
			got := g.QueryRadius(center, radius)
			if !equalSets(got, want) {
				t.Fatalf("cell=%v step=%d query(%v, %.2f): got %v, want %v",
					cellSize, step, center, radius, sorted(got), sorted(want))
			}
		}

		if g.Len() != len(truth) {
			t.Fatalf("Len=%d, want %d", g.Len(), len(truth))
		}
		// Single-cell invariant: each entity sits in exactly the cell of its
		// last position, and nowhere else.
		seen := make(map[handle]int)
		for k, cell := range g.cells {
			for h := range cell {
				seen[h]++
				if want := g.CellKeyFor(truth[h]); k != want {
					t.Errorf("entity %d filed under %v, position maps to %v", h, k, want)
				}
			}
		}
		for h := range truth {
			if seen[h] != 1 {
				t.Errorf("entity %d appears in %d cells", h, seen[h])
			}
		}
	}
}

func TestRegisterTwiceIsRejected(t *testing.T) {
	g := NewGrid[handle](10)
	if err := g.Register(1, geom.V(5, 5)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := g.Register(1, geom.V(50, 50))
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if p, _ := g.Position(1); p != geom.V(5, 5) {
		t.Errorf("duplicate Register moved entity to %v", p)
	}
	if st := g.Stats(); st.Cells != 1 || st.Entities != 1 {
		t.Errorf("unexpected stats after duplicate register: %+v", st)
	}
}

func TestRegisterRejectsNonFinite(t *testing.T) {
	g := NewGrid[handle](10)
	if err := g.Register(1, geom.V(math.NaN(), 0)); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if g.Contains(1) {
		t.Error("entity registered despite invalid position")
	}
}

func TestRegisterZeroHandlePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero handle")
		}
	}()
	NewGrid[handle](10).Register(0, geom.V(0, 0))
}

func TestUnregisterIsIdempotent(t *testing.T) {
	g := NewGrid[handle](10)
	g.Unregister(42) // never registered

	g.Register(1, geom.V(1, 1))
	g.Register(2, geom.V(2, 2))
	g.Unregister(1)
	before := g.Stats()
	g.Unregister(1)
	if after := g.Stats(); after != before {
		t.Errorf("second Unregister changed state: %+v → %+v", before, after)
	}
	if !g.Contains(2) || g.Contains(1) {
		t.Error("unexpected membership after unregister")
	}
}

func TestUpdatePositionUnknownIsNoop(t *testing.T) {
	g := NewGrid[handle](10)
	g.UpdatePosition(9, geom.V(3, 3))
	if g.Len() != 0 || g.Stats().Cells != 0 {
		t.Error("UpdatePosition on unknown entity registered it")
	}
}

func TestUpdateWithinCellKeepsCell(t *testing.T) {
	g := NewGrid[handle](10)
	g.Register(1, geom.V(1, 1))
	k0, _ := g.CellOf(1)
	g.UpdatePosition(1, geom.V(9.5, 0.2))
	k1, _ := g.CellOf(1)
	if k0 != k1 {
		t.Fatalf("cell changed inside one cell: %v → %v", k0, k1)
	}
	if p, _ := g.Position(1); p != geom.V(9.5, 0.2) {
		t.Errorf("position not recorded, got %v", p)
	}
	// The exact filter must use the fresh position even without refiling.
	if got := g.QueryRadius(geom.V(1, 1), 1); len(got) != 0 {
		t.Errorf("stale position used in query: %v", got)
	}
}

func TestNegativeCoordinatesFloor(t *testing.T) {
	g := NewGrid[handle](10)
	cases := []struct {
		pos  geom.Vec2
		want CellKey
	}{
		{geom.V(0, 0), CellKey{0, 0}},
		{geom.V(9.99, 9.99), CellKey{0, 0}},
		{geom.V(-0.01, 0), CellKey{-1, 0}},
		{geom.V(-10, -10), CellKey{-1, -1}},
		{geom.V(-10.01, 25), CellKey{-2, 2}},
	}
	for _, c := range cases {
		if got := g.CellKeyFor(c.pos); got != c.want {
			t.Errorf("CellKeyFor(%v) = %v, want %v", c.pos, got, c.want)
		}
	}

	// Entities either side of the origin must see each other.
	g.Register(1, geom.V(-0.4, 0))
	g.Register(2, geom.V(0.4, 0))
	if got := g.QueryRadiusExcept(geom.V(-0.4, 0), 1, 1); !equalSets(got, []handle{2}) {
		t.Errorf("neighbour across origin missing: %v", got)
	}
}

func TestDegenerateQueries(t *testing.T) {
	g := NewGrid[handle](10)
	g.Register(1, geom.V(0, 0))
	for _, r := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if got := g.QueryRadius(geom.V(0, 0), r); len(got) != 0 {
			t.Errorf("radius %v: expected empty, got %v", r, got)
		}
	}
	if got := g.QueryRadius(geom.V(math.Inf(-1), 0), 5); len(got) != 0 {
		t.Errorf("infinite center: expected empty, got %v", got)
	}
}

func TestQueryBoundaryInclusive(t *testing.T) {
	g := NewGrid[handle](4)
	g.Register(1, geom.V(3, 4)) // distance exactly 5 from origin
	if got := g.QueryRadius(geom.V(0, 0), 5); !contains(got, 1) {
		t.Error("entity at exactly radius should be included")
	}
	if got := g.QueryRadius(geom.V(0, 0), 4.999); contains(got, 1) {
		t.Error("entity outside radius included (corner cell false positive)")
	}
}

func TestQueryExcludesSelf(t *testing.T) {
	g := NewGrid[handle](8)
	g.Register(1, geom.V(0, 0))
	g.Register(2, geom.V(1, 0))
	g.Register(3, geom.V(0, 0))

	if got := g.QueryRadiusExcept(geom.V(0, 0), 2, 1); !equalSets(got, []handle{2, 3}) {
		t.Errorf("QueryRadiusExcept: got %v", got)
	}
	buf := make([]handle, 0, 8)
	buf = g.AppendRadius(buf, geom.V(0, 0), 2, 3)
	if !equalSets(buf, []handle{1, 2}) {
		t.Errorf("AppendRadius: got %v", buf)
	}
}

func TestHugeRadiusSparseGrid(t *testing.T) {
	g := NewGrid[handle](1)
	g.Register(1, geom.V(-1e6, 0))
	g.Register(2, geom.V(1e6, 0))
	g.Register(3, geom.V(5e6, 0))
	got := g.QueryRadius(geom.V(0, 0), 2e6)
	if !equalSets(got, []handle{1, 2}) {
		t.Errorf("got %v", got)
	}
}

// TestClampedCellRange covers radii whose cell range saturates the int32
// clamp, where the cell count no longer fits in an int64 product.
func TestClampedCellRange(t *testing.T) {
	for _, r := range []float64{1e11, 1.4e11, 1e12, 1e300} {
		g := NewGrid[handle](64)
		g.Register(1, geom.V(0, 0))
		g.Register(2, geom.V(5e10, -5e10))
		done := make(chan []handle, 1)
		go func() { done <- g.QueryRadius(geom.V(0, 0), r) }()
		select {
		case got := <-done:
			if !equalSets(got, []handle{1, 2}) {
				t.Errorf("radius %g: got %v", r, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("radius %g: query did not return", r)
		}
	}
}

// TestFarOutsideClampMatchesBruteForce places entities past ±2^31 cells,
// where several positions share a clamped edge cell, and compares queries
// with an O(N) scan.
func TestFarOutsideClampMatchesBruteForce(t *testing.T) {
	const cellSize = 4.0
	edge := float64(math.MaxInt32) * cellSize
	g := NewGrid[handle](cellSize)
	truth := map[handle]geom.Vec2{
		1: geom.V(0, 0),
		2: geom.V(edge*2, 0),
		3: geom.V(edge*2+3, 1),
		4: geom.V(-edge*3, -edge*3),
		5: geom.V(1e15, 1e15),
		6: geom.V(-1e15, 7),
		7: geom.V(edge-1, edge-1),
	}
	for h, p := range truth {
		if err := g.Register(h, p); err != nil {
			t.Fatalf("Register(%d): %v", h, err)
		}
	}
	queries := []struct {
		center geom.Vec2
		radius float64
	}{
		{geom.V(0, 0), 10},
		{geom.V(edge*2, 0), 5},
		{geom.V(edge*2, 0), 1},
		{geom.V(1e15, 1e15), 1},
		{geom.V(-edge*3, -edge*3), edge},
		{geom.V(0, 0), 1e16},
		{geom.V(edge, edge), 2},
		{geom.V(-1e15, 0), 10},
	}
	for _, q := range queries {
		var want []handle
		for h, p := range truth {
			if p.DistSq(q.center) <= q.radius*q.radius {
				want = append(want, h)
			}
		}
		if got := g.QueryRadius(q.center, q.radius); !equalSets(got, want) {
			t.Errorf("query(%v, %g): got %v, want %v", q.center, q.radius, sorted(got), sorted(want))
		}
	}
}

func TestEmptyCellsArePruned(t *testing.T) {
	g := NewGrid[handle](10)
	g.Register(1, geom.V(0, 0))
	g.UpdatePosition(1, geom.V(100, 0))
	g.UpdatePosition(1, geom.V(200, 0))
	if st := g.Stats(); st.Cells != 1 {
		t.Errorf("expected 1 live cell, got %d", st.Cells)
	}
	g.Unregister(1)
	if st := g.Stats(); st.Cells != 0 {
		t.Errorf("expected 0 cells, got %d", st.Cells)
	}
}

func TestStatsAndClear(t *testing.T) {
	g := NewGrid[handle](10)
	g.Register(1, geom.V(1, 1))
	g.Register(2, geom.V(2, 2))
	g.Register(3, geom.V(50, 50))
	st := g.Stats()
	if st.Cells != 2 || st.Entities != 3 || st.MaxInCell != 2 || st.AvgPerNonEmpty != 1.5 {
		t.Errorf("unexpected stats %+v", st)
	}
	var inCell []handle
	g.EachInCell(CellKey{0, 0}, func(h handle) { inCell = append(inCell, h) })
	if !equalSets(inCell, []handle{1, 2}) {
		t.Errorf("EachInCell: %v", inCell)
	}
	g.Clear()
	if g.Len() != 0 || g.Stats().Cells != 0 {
		t.Error("Clear left entries behind")
	}
}

func TestDefaultCellSize(t *testing.T) {
	for _, cs := range []float64{0, -3, math.NaN(), math.Inf(1)} {
		if got := NewGrid[handle](cs).CellSize(); got != DefaultCellSize {
			t.Errorf("NewGrid(%v).CellSize() = %v", cs, got)
		}
	}
}

func BenchmarkUpdateAndQuery(b *testing.B) {
	const n = 2000
	rng := rand.New(rand.NewSource(1))
	g := NewGrid[handle](32)
	pos := make([]geom.Vec2, n+1)
	for i := 1; i <= n; i++ {
		pos[i] = geom.V(rng.Float64()*2000, rng.Float64()*2000)
		g.Register(handle(i), pos[i])
	}
	buf := make([]handle, 0, 64)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h := handle(i%n + 1)
		pos[h] = pos[h].Add(geom.V(rng.Float64()-0.5, rng.Float64()-0.5))
		g.UpdatePosition(h, pos[h])
		buf = g.AppendRadius(buf[:0], pos[h], 16, h)
	}
}
