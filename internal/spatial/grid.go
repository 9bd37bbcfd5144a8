// Package spatial implements the uniform-grid index used for neighbour
// queries over moving entities.
//
// Accessed only from the simulation goroutine, so there are no locks.
package spatial

import (
	"errors"
	"math"

	"github.com/l1jgo/swarm/internal/geom"
)

// DefaultCellSize is used when a grid is built with a non-positive cell size.
// It sits at roughly twice the largest enemy separation radius.
const DefaultCellSize = 64.0

var (
	ErrAlreadyRegistered = errors.New("spatial: entity already registered")
	ErrInvalidPosition   = errors.New("spatial: position is not finite")
)

// CellKey identifies one grid cell.
type CellKey struct {
	CX int32
	CY int32
}

// entry is the per-entity bookkeeping: last known position and the cell it
// was filed under. Keeping it lets Unregister and UpdatePosition work without
// the caller remembering the old position.
type entry struct {
	pos  geom.Vec2
	cell CellKey
}

// Grid tracks which entities are in which cells.
// T is the entity handle; its zero value is never a valid handle.
type Grid[T comparable] struct {
	cellSize    float64
	invCellSize float64
	cells       map[CellKey]map[T]struct{} // cellKey → set of handles
	entries     map[T]*entry
}

// NewGrid creates an empty grid. cellSize should be one to two times the
// largest interaction radius queried against it.
func NewGrid[T comparable](cellSize float64) *Grid[T] {
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		cellSize = DefaultCellSize
	}
	return &Grid[T]{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cells:       make(map[CellKey]map[T]struct{}),
		entries:     make(map[T]*entry, 256),
	}
}

// CellSize returns the edge length of one cell in world units.
func (g *Grid[T]) CellSize() float64 { return g.cellSize }

// toCellCoord floors so that -0.5 and 0.5 land in different cells.
func (g *Grid[T]) toCellCoord(v float64) int32 {
	c := math.Floor(v * g.invCellSize)
	switch {
	case c > math.MaxInt32:
		return math.MaxInt32
	case c < math.MinInt32:
		return math.MinInt32
	}
	return int32(c)
}

// CellKeyFor returns the cell a position falls in.
func (g *Grid[T]) CellKeyFor(pos geom.Vec2) CellKey {
	return CellKey{CX: g.toCellCoord(pos.X), CY: g.toCellCoord(pos.Y)}
}

func mustHandle[T comparable](e T) {
	var zero T
	if e == zero {
		panic("spatial: zero entity handle")
	}
}

// Register places an entity into the grid. A handle that is already
// registered is rejected with ErrAlreadyRegistered and the grid is left as it
// was; use UpdatePosition to move it.
func (g *Grid[T]) Register(e T, pos geom.Vec2) error {
	mustHandle(e)
	if !pos.IsFinite() {
		return ErrInvalidPosition
	}
	if _, ok := g.entries[e]; ok {
		return ErrAlreadyRegistered
	}
	k := g.CellKeyFor(pos)
	g.entries[e] = &entry{pos: pos, cell: k}
	g.add(k, e)
	return nil
}

// Unregister takes an entity out of the grid. Unknown handles are ignored.
func (g *Grid[T]) Unregister(e T) {
	en, ok := g.entries[e]
	if !ok {
		return
	}
	g.remove(en.cell, e)
	delete(g.entries, e)
}

// UpdatePosition records a new position and refiles the entity if it crossed
// a cell boundary. Unknown handles and non-finite positions are ignored.
func (g *Grid[T]) UpdatePosition(e T, pos geom.Vec2) {
	en, ok := g.entries[e]
	if !ok || !pos.IsFinite() {
		return
	}
	en.pos = pos
	k := g.CellKeyFor(pos)
	if k == en.cell {
		return
	}
	g.remove(en.cell, e)
	g.add(k, e)
	en.cell = k
}

func (g *Grid[T]) add(k CellKey, e T) {
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[T]struct{})
		g.cells[k] = cell
	}
	cell[e] = struct{}{}
}

func (g *Grid[T]) remove(k CellKey, e T) {
	cell := g.cells[k]
	if cell != nil {
		delete(cell, e)
		if len(cell) == 0 {
			delete(g.cells, k)
		}
	}
}

// QueryRadius returns every registered entity within radius of center
// (inclusive). Order is unspecified.
func (g *Grid[T]) QueryRadius(center geom.Vec2, radius float64) []T {
	var zero T
	return g.AppendRadius(nil, center, radius, zero)
}

// QueryRadiusExcept is QueryRadius without self. The querying entity is
// filtered here so callers never see themselves in a neighbour list.
func (g *Grid[T]) QueryRadiusExcept(center geom.Vec2, radius float64, self T) []T {
	return g.AppendRadius(nil, center, radius, self)
}

// AppendRadius appends matches to dst and returns it. Passing the zero value
// for self excludes nothing. Reusing dst across calls keeps the per-tick
// separation pass allocation free.
func (g *Grid[T]) AppendRadius(dst []T, center geom.Vec2, radius float64, self T) []T {
	if !(radius > 0) || math.IsInf(radius, 0) || !center.IsFinite() {
		return dst
	}
	minX := g.toCellCoord(center.X - radius)
	maxX := g.toCellCoord(center.X + radius)
	minY := g.toCellCoord(center.Y - radius)
	maxY := g.toCellCoord(center.Y + radius)

	r2 := radius * radius
	// Few cells overlap the circle in the normal case, so walk the key range.
	// A huge radius against a sparse grid walks the occupied cells instead.
	// Both widths reach 2^32 at the clamp, so compare without multiplying.
	w := int64(maxX) - int64(minX) + 1
	h := int64(maxY) - int64(minY) + 1
	if w > int64(len(g.cells))/h {
		for k, cell := range g.cells {
			if k.CX < minX || k.CX > maxX || k.CY < minY || k.CY > maxY {
				continue
			}
			dst = g.appendCell(dst, cell, center, r2, self)
		}
		return dst
	}
	for cx := minX; cx <= maxX; cx++ {
		for cy := minY; cy <= maxY; cy++ {
			if cell := g.cells[CellKey{CX: cx, CY: cy}]; cell != nil {
				dst = g.appendCell(dst, cell, center, r2, self)
			}
			if cy == math.MaxInt32 {
				break
			}
		}
		if cx == math.MaxInt32 {
			break
		}
	}
	return dst
}

func (g *Grid[T]) appendCell(dst []T, cell map[T]struct{}, center geom.Vec2, r2 float64, self T) []T {
	for e := range cell {
		if e == self {
			continue
		}
		if g.entries[e].pos.DistSq(center) <= r2 {
			dst = append(dst, e)
		}
	}
	return dst
}

// Contains reports whether e is registered.
func (g *Grid[T]) Contains(e T) bool {
	_, ok := g.entries[e]
	return ok
}

// Position returns the last position recorded for e.
func (g *Grid[T]) Position(e T) (geom.Vec2, bool) {
	en, ok := g.entries[e]
	if !ok {
		return geom.Vec2{}, false
	}
	return en.pos, true
}

// CellOf returns the cell e is currently filed under.
func (g *Grid[T]) CellOf(e T) (CellKey, bool) {
	en, ok := g.entries[e]
	if !ok {
		return CellKey{}, false
	}
	return en.cell, true
}

// Len returns the number of registered entities.
func (g *Grid[T]) Len() int { return len(g.entries) }

// Clear drops every entity and cell.
func (g *Grid[T]) Clear() {
	g.cells = make(map[CellKey]map[T]struct{})
	g.entries = make(map[T]*entry, 256)
}

// EachInCell calls fn for every entity filed under k.
func (g *Grid[T]) EachInCell(k CellKey, fn func(T)) {
	for e := range g.cells[k] {
		fn(e)
	}
}

// GridStats contains grid statistics for debugging.
type GridStats struct {
	CellSize       float64 `json:"cell_size"`
	Cells          int     `json:"cells"`
	Entities       int     `json:"entities"`
	MaxInCell      int     `json:"max_in_cell"`
	AvgPerNonEmpty float64 `json:"avg_per_non_empty"`
}

// Stats walks the occupied cells. O(cells), not for the hot path.
func (g *Grid[T]) Stats() GridStats {
	s := GridStats{CellSize: g.cellSize, Cells: len(g.cells), Entities: len(g.entries)}
	for _, cell := range g.cells {
		if n := len(cell); n > s.MaxInCell {
			s.MaxInCell = n
		}
	}
	if s.Cells > 0 {
		s.AvgPerNonEmpty = float64(s.Entities) / float64(s.Cells)
	}
	return s
}
