// Package matrix implements the occupancy index used for collision tests and
// simulated sensors: an adaptive quadtree that rasterizes line segments into
// square cells, and a ray caster walking those cells.
//
// A Matrix is not safe for concurrent use. Callers serialize access, usually
// with one lock owning the whole matrix.
package matrix

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/stagesim/geom"
)

const (
	// ErrTypeInvalidConfig is the error type returned when a matrix is created
	// with an invalid resolution or world size.
	ErrTypeInvalidConfig = "matrix_invalid_config"

	// Leaves at resolution span 2 half resolution units.
	leafSpan = 2

	// Beyond 2^32 cells per side, the nudge applied when leaving a cell gets
	// lost in float64 rounding far from the origin.
	maxRootExponent = 32

	nudgeFactor = 1e-6
)

// ObjectID is an opaque handle to an object stored in the matrix.
type ObjectID uint32

// Predicate reports whether an occupant is the one a caller is looking for.
type Predicate func(ObjectID) bool

// Option configures a matrix.
type Option func(*Matrix)

// WithPruning sets whether empty sibling cells are collapsed when objects are
// removed. Pruning is enabled by default.
func WithPruning(v bool) Option {
	return func(m *Matrix) {
		m.pruning = v
	}
}

// Matrix is an adaptive quadtree mapping world coordinates to the objects
// occupying them.
type Matrix struct {
	ppm        float64
	resolution float64
	nudge      float64
	rootSpan   int64
	pruning    bool

	cells []cell
	free  []CellID

	// Exact inverse of the cells occupant lists, multiplicity included.
	registry map[ObjectID][]CellID
}

// New creates a matrix with ppm cells per meter, covering a world of the given
// width and height centered on the origin.
func New(ppm, width, height float64, opts ...Option) (*Matrix, error) {
	if !geom.IsFinite(ppm) || ppm <= 0 {
		return nil, errors.New("resolution must be a positive number").
			WithType(ErrTypeInvalidConfig).
			WithTag("resolution", ppm)
	}

	if !geom.IsFinite(width) || !geom.IsFinite(height) || width <= 0 || height <= 0 {
		return nil, errors.New("world size must be positive").
			WithType(ErrTypeInvalidConfig).
			WithTag("width", width).
			WithTag("height", height)
	}

	// Smallest power of two number of cells covering the world.
	need := math.Max(width, height) * ppm
	exp := 0
	for math.Ldexp(1, exp) < need {
		exp++
		if exp > maxRootExponent {
			return nil, errors.New("world is too large for the resolution").
				WithType(ErrTypeInvalidConfig).
				WithTag("resolution", ppm).
				WithTag("width", width).
				WithTag("height", height)
		}
	}

	m := &Matrix{
		ppm:        ppm,
		resolution: 1 / ppm,
		nudge:      nudgeFactor / ppm,
		rootSpan:   leafSpan << exp,
		pruning:    true,
		registry:   make(map[ObjectID][]CellID),
	}
	for _, opt := range opts {
		opt(m)
	}

	half := m.rootSpan / 2
	m.newCell(NoCell, -half, -half, m.rootSpan, 0)
	instrumentCells(1)
	return m, nil
}

// Resolution returns the side length of the smallest cells, in meters.
func (m *Matrix) Resolution() float64 {
	return m.resolution
}

// PPM returns the number of cells per meter at the finest level.
func (m *Matrix) PPM() float64 {
	return m.ppm
}

// RootSize returns the side length of the root cell, in meters.
func (m *Matrix) RootSize() float64 {
	return m.cells[rootCell].size
}

// Root returns the root cell.
func (m *Matrix) Root() CellID {
	return rootCell
}

// Locate returns the leaf containing p, starting the search from hint. Any
// cell can be used as a hint; nearby cells make the search shorter.
//
// It returns false when p is outside of the root cell.
func (m *Matrix) Locate(hint CellID, p geom.Point) (CellID, bool) {
	id := m.locate(hint, p)
	return id, id != NoCell
}

// Cell is a snapshot of a quadtree cell.
type Cell struct {
	ID        CellID     `json:"id"`
	Parent    CellID     `json:"parent"`
	Center    geom.Point `json:"center"`
	Size      float64    `json:"size"`
	Depth     int        `json:"depth"`
	XMin      float64    `json:"xmin"`
	XMax      float64    `json:"xmax"`
	YMin      float64    `json:"ymin"`
	YMax      float64    `json:"ymax"`
	Leaf      bool       `json:"leaf"`
	Occupants []ObjectID `json:"occupants,omitempty"`
}

// Cell returns a snapshot of the given cell. It returns false when the id
// does not address a live cell.
func (m *Matrix) Cell(id CellID) (Cell, bool) {
	if id < 0 || int(id) >= len(m.cells) || m.cells[id].free {
		return Cell{}, false
	}

	c := &m.cells[id]
	return Cell{
		ID:        id,
		Parent:    c.parent,
		Center:    geom.Point{X: c.x, Y: c.y},
		Size:      c.size,
		Depth:     c.depth,
		XMin:      c.xmin,
		XMax:      c.xmax,
		YMin:      c.ymin,
		YMax:      c.ymax,
		Leaf:      c.leaf(),
		Occupants: append([]ObjectID(nil), c.data...),
	}, true
}

// Occupants returns the objects registered in the leaf containing p, in
// insertion order.
func (m *Matrix) Occupants(p geom.Point) []ObjectID {
	id := m.locate(rootCell, p)
	if id == NoCell {
		return nil
	}
	return append([]ObjectID(nil), m.cells[id].data...)
}

// Contains reports whether obj occupies at least one cell.
func (m *Matrix) Contains(obj ObjectID) bool {
	_, ok := m.registry[obj]
	return ok
}

// Cells returns the number of cell registrations of obj.
func (m *Matrix) Cells(obj ObjectID) int {
	return len(m.registry[obj])
}

// DebugInfo is a summary of the matrix state.
type DebugInfo struct {
	PPM               float64 `json:"ppm"`
	Resolution        float64 `json:"resolution"`
	RootSize          float64 `json:"root_size"`
	CellCount         int     `json:"cell_count"`
	LeafCount         int     `json:"leaf_count"`
	OccupiedLeafCount int     `json:"occupied_leaf_count"`
	MaxDepth          int     `json:"max_depth"`
	ObjectCount       int     `json:"object_count"`
	Pruning           bool    `json:"pruning"`
}

func (m *Matrix) DebugInfo() DebugInfo {
	info := DebugInfo{
		PPM:         m.ppm,
		Resolution:  m.resolution,
		RootSize:    m.RootSize(),
		ObjectCount: len(m.registry),
		Pruning:     m.pruning,
	}

	for i := range m.cells {
		c := &m.cells[i]
		if c.free {
			continue
		}

		info.CellCount++
		if c.depth > info.MaxDepth {
			info.MaxDepth = c.depth
		}
		if !c.leaf() {
			continue
		}

		info.LeafCount++
		if len(c.data) != 0 {
			info.OccupiedLeafCount++
		}
	}

	return info
}
