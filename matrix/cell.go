package matrix

import (
	"math"

	"github.com/aukilabs/stagesim/geom"
)

// CellID addresses a cell in the matrix arena.
type CellID int32

const (
	// NoCell is returned when a point lies outside of the matrix.
	NoCell CellID = -1

	rootCell CellID = 0

	// Below this magnitude a direction component is considered null.
	axisEpsilon = 1e-9
)

// cell is a square region of the quadtree. Leaves hold occupants, internal
// cells hold exactly four children.
//
// Lattice coordinates (ix, iy, span) are expressed in half resolution units so
// that the root can be centered on the origin whatever its size. Float bounds
// are derived from them once, at creation.
type cell struct {
	ix, iy int64
	span   int64
	depth  int

	x, y                   float64
	size                   float64
	xmin, xmax, ymin, ymax float64

	parent   CellID
	children [4]CellID
	data     []ObjectID
	free     bool
}

func (c *cell) leaf() bool {
	return c.children[0] == NoCell
}

func (c *cell) contains(p geom.Point) bool {
	return c.xmin <= p.X && p.X < c.xmax && c.ymin <= p.Y && p.Y < c.ymax
}

// quadrant returns the index of the child covering p:
//
//	2 | 3
//	--+--
//	0 | 1
func (c *cell) quadrant(p geom.Point) int {
	q := 0
	if p.X >= c.x {
		q |= 1
	}
	if p.Y >= c.y {
		q |= 2
	}
	return q
}

func (c *cell) remove(obj ObjectID) {
	data := c.data[:0]
	for _, o := range c.data {
		if o != obj {
			data = append(data, o)
		}
	}
	c.data = data
}

// exit returns the point where a ray starting at p, inside the cell, leaves
// the cell.
func (c *cell) exit(p geom.Point, h heading) geom.Point {
	switch {
	case h.horizontal:
		if h.cos > 0 {
			return geom.Point{X: c.xmax, Y: p.Y}
		}
		return geom.Point{X: c.xmin, Y: p.Y}

	case h.vertical:
		if h.sin > 0 {
			return geom.Point{X: p.X, Y: c.ymax}
		}
		return geom.Point{X: p.X, Y: c.ymin}
	}

	// Top or bottom edge first.
	ey := c.ymin
	if h.sin > 0 {
		ey = c.ymax
	}
	ex := p.X + (ey-p.Y)/h.tan
	if ex >= c.xmin && ex <= c.xmax {
		return geom.Point{X: ex, Y: ey}
	}

	// Otherwise the ray leaves through the left or right edge.
	ex = c.xmin
	if h.cos > 0 {
		ex = c.xmax
	}
	return geom.Point{X: ex, Y: p.Y + (ex-p.X)*h.tan}
}

// heading caches the trigonometry of a direction.
type heading struct {
	cos, sin, tan float64

	horizontal bool
	vertical   bool
}

func newHeading(a float64) heading {
	cos, sin := math.Cos(a), math.Sin(a)
	return heading{
		cos:        cos,
		sin:        sin,
		tan:        math.Tan(a),
		horizontal: math.Abs(sin) < axisEpsilon,
		vertical:   math.Abs(cos) < axisEpsilon,
	}
}

func (h heading) step(d float64) geom.Point {
	return geom.Point{X: h.cos * d, Y: h.sin * d}
}

func (m *Matrix) newCell(parent CellID, ix, iy, span int64, depth int) CellID {
	half := span / 2
	c := cell{
		ix:       ix,
		iy:       iy,
		span:     span,
		depth:    depth,
		x:        m.lattice(ix + half),
		y:        m.lattice(iy + half),
		size:     m.lattice(span),
		xmin:     m.lattice(ix),
		xmax:     m.lattice(ix + span),
		ymin:     m.lattice(iy),
		ymax:     m.lattice(iy + span),
		parent:   parent,
		children: [4]CellID{NoCell, NoCell, NoCell, NoCell},
	}

	if n := len(m.free); n != 0 {
		id := m.free[n-1]
		m.free = m.free[:n-1]
		m.cells[id] = c
		return id
	}

	m.cells = append(m.cells, c)
	return CellID(len(m.cells) - 1)
}

// lattice converts half resolution units to meters.
func (m *Matrix) lattice(v int64) float64 {
	return float64(v) / (2 * m.ppm)
}

// split creates the four children of a leaf.
func (m *Matrix) split(id CellID) {
	parent := m.cells[id]
	half := parent.span / 2

	var children [4]CellID
	for q := 0; q < 4; q++ {
		ix := parent.ix + int64(q&1)*half
		iy := parent.iy + int64(q>>1)*half
		children[q] = m.newCell(id, ix, iy, half, parent.depth+1)
	}

	m.cells[id].children = children
	instrumentCells(4)
}

func (m *Matrix) release(id CellID) {
	m.cells[id] = cell{
		parent:   NoCell,
		children: [4]CellID{NoCell, NoCell, NoCell, NoCell},
		free:     true,
	}
	m.free = append(m.free, id)
}

// refine splits the leaf containing p until it reaches the resolution.
func (m *Matrix) refine(id CellID, p geom.Point) CellID {
	for m.cells[id].span > leafSpan {
		if m.cells[id].leaf() {
			m.split(id)
		}
		c := &m.cells[id]
		id = c.children[c.quadrant(p)]
	}
	return id
}

func (m *Matrix) locate(hint CellID, p geom.Point) CellID {
	id := hint
	if id < 0 || int(id) >= len(m.cells) || m.cells[id].free {
		id = rootCell
	}

	for !m.cells[id].contains(p) {
		id = m.cells[id].parent
		if id == NoCell {
			return NoCell
		}
	}

	for {
		c := &m.cells[id]
		if c.leaf() {
			return id
		}
		id = c.children[c.quadrant(p)]
	}
}

// leave returns the point just past the exit of the cell along the heading.
// When the nudge is lost to rounding on a min edge, the point is moved to the
// next representable value so that it falls in the neighbor cell.
func (m *Matrix) leave(id CellID, p geom.Point, h heading) geom.Point {
	c := &m.cells[id]
	next := c.exit(p, h).Add(h.step(m.nudge))
	if !c.contains(next) {
		return next
	}

	if !h.vertical && h.cos < 0 && next.X <= c.xmin {
		next.X = math.Nextafter(c.xmin, math.Inf(-1))
	}
	if !h.horizontal && h.sin < 0 && next.Y <= c.ymin {
		next.Y = math.Nextafter(c.ymin, math.Inf(-1))
	}
	return next
}

// stepLimit bounds the number of cells visited while walking length meters.
// A walk never visits more cells than twice the root span, whatever its
// length.
func (m *Matrix) stepLimit(length float64) int {
	limit := float64(2*m.rootSpan + 4)
	if n := 2*math.Ceil(length/m.resolution) + 4; n < limit {
		limit = n
	}
	return int(limit)
}
