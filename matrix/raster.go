package matrix

import (
	"github.com/aukilabs/stagesim/geom"
)

// Insert rasterizes the given segments and registers obj in every cell they
// cross.
func (m *Matrix) Insert(obj ObjectID, segments ...geom.Segment) {
	for _, s := range segments {
		m.InsertLine(obj, s.A, s.B)
	}
}

// InsertLine registers obj in every resolution cell crossed by the segment
// from a to b. Zero length segments are ignored. The part of a segment lying
// outside of the root cell is not recorded.
func (m *Matrix) InsertLine(obj ObjectID, a, b geom.Point) {
	length := a.Distance(b)
	if length == 0 || !geom.IsFinite(length) {
		return
	}

	h := newHeading(a.Angle(b))
	remaining := length
	maxSteps := m.stepLimit(length)

	p := a
	id := rootCell
	recorded := 0

	for step := 0; step < maxSteps; step++ {
		if id = m.locate(id, p); id == NoCell {
			break
		}
		id = m.refine(id, p)

		m.cells[id].data = append(m.cells[id].data, obj)
		m.registry[obj] = append(m.registry[obj], id)
		recorded++

		if m.cells[id].contains(b) {
			break
		}

		next := m.leave(id, p, h)
		leap := p.Distance(next)
		if leap >= remaining {
			break
		}
		remaining -= leap
		p = next
	}

	instrumentRasterizedCells(recorded)
}

// Remove unregisters obj from all the cells it occupies. Removing an object
// that is not in the matrix does nothing.
func (m *Matrix) Remove(obj ObjectID) {
	cells, ok := m.registry[obj]
	if !ok {
		return
	}
	delete(m.registry, obj)

	for _, id := range cells {
		m.cells[id].remove(obj)
	}

	if !m.pruning {
		return
	}

	collapsed := 0
	for _, id := range cells {
		if m.cells[id].free {
			continue
		}
		collapsed += m.collapse(m.cells[id].parent)
	}
	instrumentCollapsedCells(collapsed)
}

// collapse turns id back into a leaf when its four children are empty
// leaves, then tries again with its parent. It returns the number of released
// cells.
func (m *Matrix) collapse(id CellID) int {
	released := 0

	for id != NoCell {
		c := &m.cells[id]
		if c.leaf() {
			break
		}

		for _, child := range c.children {
			cc := &m.cells[child]
			if !cc.leaf() || len(cc.data) != 0 {
				return released
			}
		}

		for i, child := range c.children {
			m.release(child)
			c.children[i] = NoCell
		}
		released += 4
		id = c.parent
	}

	return released
}
