package matrix

import (
	"math"
	"math/rand"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/stagesim/geom"
	"github.com/stretchr/testify/require"
)

func newTestMatrix(t *testing.T, opts ...Option) *Matrix {
	m, err := New(10, 16, 16, opts...)
	require.NoError(t, err)
	return m
}

// requireRegistryInverse checks that the registry is the exact inverse of the
// cells occupant lists.
func requireRegistryInverse(t *testing.T, m *Matrix) {
	fromCells := make(map[ObjectID]map[CellID]int)
	for i := range m.cells {
		c := &m.cells[i]
		if c.free {
			require.Empty(t, c.data)
			continue
		}
		if len(c.data) != 0 {
			require.True(t, c.leaf(), "only leaves hold occupants")
		}
		for _, obj := range c.data {
			if fromCells[obj] == nil {
				fromCells[obj] = make(map[CellID]int)
			}
			fromCells[obj][CellID(i)]++
		}
	}

	fromRegistry := make(map[ObjectID]map[CellID]int)
	for obj, cells := range m.registry {
		fromRegistry[obj] = make(map[CellID]int)
		for _, id := range cells {
			require.False(t, m.cells[id].free)
			fromRegistry[obj][id]++
		}
	}

	require.Equal(t, fromCells, fromRegistry)
}

func TestNew(t *testing.T) {
	t.Run("root covers the world", func(t *testing.T) {
		m := newTestMatrix(t)
		require.InDelta(t, 25.6, m.RootSize(), 1e-9)
		require.InDelta(t, 0.1, m.Resolution(), 1e-12)
		require.Equal(t, float64(10), m.PPM())

		root, ok := m.Cell(m.Root())
		require.True(t, ok)
		require.True(t, root.Leaf)
		require.Equal(t, NoCell, root.Parent)
		require.Equal(t, geom.Point{}, root.Center)
		require.InDelta(t, -12.8, root.XMin, 1e-9)
		require.InDelta(t, 12.8, root.YMax, 1e-9)

		info := m.DebugInfo()
		require.Equal(t, 1, info.CellCount)
		require.Equal(t, 1, info.LeafCount)
		require.Equal(t, 0, info.MaxDepth)
		require.True(t, info.Pruning)
	})

	t.Run("root is the smallest power of two multiple of the resolution", func(t *testing.T) {
		tests := []struct {
			ppm, width, height float64
			size               float64
		}{
			{ppm: 1, width: 8, height: 3, size: 8},
			{ppm: 1, width: 8.5, height: 3, size: 16},
			{ppm: 2, width: 3, height: 7, size: 8},
			{ppm: 10, width: 0.05, height: 0.05, size: 0.1},
			{ppm: 0.5, width: 5, height: 5, size: 8},
		}

		for _, test := range tests {
			m, err := New(test.ppm, test.width, test.height)
			require.NoError(t, err)
			require.InDelta(t, test.size, m.RootSize(), 1e-9)
		}
	})

	t.Run("invalid configuration", func(t *testing.T) {
		tests := []struct {
			name               string
			ppm, width, height float64
		}{
			{name: "zero resolution", ppm: 0, width: 1, height: 1},
			{name: "negative resolution", ppm: -1, width: 1, height: 1},
			{name: "nan resolution", ppm: math.NaN(), width: 1, height: 1},
			{name: "infinite resolution", ppm: math.Inf(1), width: 1, height: 1},
			{name: "zero width", ppm: 1, width: 0, height: 1},
			{name: "negative height", ppm: 1, width: 1, height: -1},
			{name: "infinite width", ppm: 1, width: math.Inf(1), height: 1},
			{name: "nan height", ppm: 1, width: 1, height: math.NaN()},
			{name: "too large", ppm: 1e10, width: 1e10, height: 1},
		}

		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				m, err := New(test.ppm, test.width, test.height)
				require.Error(t, err)
				require.Nil(t, m)
				require.True(t, errors.IsType(err, ErrTypeInvalidConfig))
			})
		}
	})
}

func TestLocate(t *testing.T) {
	m := newTestMatrix(t)
	m.InsertLine(1, geom.Point{X: 0.05, Y: 0.05}, geom.Point{X: 0.05, Y: 0.15})

	t.Run("finds a resolution leaf", func(t *testing.T) {
		id, ok := m.Locate(m.Root(), geom.Point{X: 0.05, Y: 0.05})
		require.True(t, ok)

		c, ok := m.Cell(id)
		require.True(t, ok)
		require.True(t, c.Leaf)
		require.Equal(t, 8, c.Depth)
		require.InDelta(t, 0.1, c.Size, 1e-12)
		require.InDelta(t, 0, c.XMin, 1e-12)
		require.InDelta(t, 0.1, c.XMax, 1e-12)
		require.Equal(t, []ObjectID{1}, c.Occupants)
	})

	t.Run("ascends from a hint", func(t *testing.T) {
		hint, ok := m.Locate(m.Root(), geom.Point{X: 0.05, Y: 0.05})
		require.True(t, ok)

		id, ok := m.Locate(hint, geom.Point{X: -10, Y: 10})
		require.True(t, ok)
		c, _ := m.Cell(id)
		require.True(t, c.Leaf)
		require.Equal(t, 1, c.Depth)
		require.InDelta(t, 12.8, c.Size, 1e-9)
	})

	t.Run("bounds are half open", func(t *testing.T) {
		id, ok := m.Locate(m.Root(), geom.Point{X: 0.1, Y: 0.1})
		require.True(t, ok)
		c, _ := m.Cell(id)
		require.InDelta(t, 0.1, c.XMin, 1e-12)
		require.InDelta(t, 0.1, c.YMin, 1e-12)
	})

	t.Run("outside of the world", func(t *testing.T) {
		hint, _ := m.Locate(m.Root(), geom.Point{X: 0.05, Y: 0.05})

		_, ok := m.Locate(hint, geom.Point{X: 12.8, Y: 0})
		require.False(t, ok)

		_, ok = m.Locate(m.Root(), geom.Point{X: -13, Y: 0})
		require.False(t, ok)

		_, ok = m.Locate(m.Root(), geom.Point{X: math.NaN(), Y: 0})
		require.False(t, ok)
	})

	t.Run("invalid hint falls back to the root", func(t *testing.T) {
		id, ok := m.Locate(CellID(1<<20), geom.Point{X: 0.05, Y: 0.05})
		require.True(t, ok)
		c, _ := m.Cell(id)
		require.Equal(t, 8, c.Depth)
	})
}

func TestInsertLine(t *testing.T) {
	t.Run("zero length segment is ignored", func(t *testing.T) {
		m := newTestMatrix(t)
		m.InsertLine(1, geom.Point{X: 1, Y: 1}, geom.Point{X: 1, Y: 1})

		require.False(t, m.Contains(1))
		require.Equal(t, 1, m.DebugInfo().CellCount)
	})

	t.Run("huge segment keeps its part inside the world", func(t *testing.T) {
		m := newTestMatrix(t)
		m.InsertLine(1, geom.Point{X: 0.05, Y: 0.05}, geom.Point{X: 1e300, Y: 0.05})

		require.Equal(t, 128, m.Cells(1))
		require.Contains(t, m.Occupants(geom.Point{X: 12.75, Y: 0.05}), ObjectID(1))
		requireRegistryInverse(t, m)
	})

	t.Run("horizontal segment", func(t *testing.T) {
		m := newTestMatrix(t)
		m.InsertLine(1, geom.Point{X: 0.05, Y: 0.05}, geom.Point{X: 0.95, Y: 0.05})

		require.Equal(t, 10, m.Cells(1))
		require.Equal(t, 10, m.DebugInfo().OccupiedLeafCount)
		requireRegistryInverse(t, m)
	})

	t.Run("vertical segment going down", func(t *testing.T) {
		m := newTestMatrix(t)
		m.InsertLine(1, geom.Point{X: -2.05, Y: 1.05}, geom.Point{X: -2.05, Y: 0.05})

		require.Equal(t, 11, m.Cells(1))
		require.Contains(t, m.Occupants(geom.Point{X: -2.01, Y: 0.51}), ObjectID(1))
		requireRegistryInverse(t, m)
	})

	t.Run("short segment occupies its cells", func(t *testing.T) {
		m := newTestMatrix(t)
		m.InsertLine(1, geom.Point{X: 0.05, Y: 0.05}, geom.Point{X: 0.12, Y: 0.05})

		require.Equal(t, 2, m.Cells(1))
		require.Contains(t, m.Occupants(geom.Point{X: 0.15, Y: 0.05}), ObjectID(1))
	})

	t.Run("diagonal segment occupies the cells it crosses", func(t *testing.T) {
		m := newTestMatrix(t)
		a := geom.Point{X: -3.01, Y: -2.04}
		b := geom.Point{X: 4.01, Y: 4.98}
		m.InsertLine(7, a, b)

		require.Contains(t, m.Occupants(a), ObjectID(7))
		require.Contains(t, m.Occupants(b), ObjectID(7))

		for _, id := range m.registry[7] {
			c, ok := m.Cell(id)
			require.True(t, ok)
			require.InDelta(t, 0.1, c.Size, 1e-12)

			// y = x + 0.97 must cross the cell.
			low, high := c.XMin+0.97, c.XMax+0.97
			require.True(t, high >= c.YMin-1e-6 && low <= c.YMax+1e-6)
		}
		requireRegistryInverse(t, m)
	})

	t.Run("parts outside of the world are dropped", func(t *testing.T) {
		m := newTestMatrix(t)
		m.InsertLine(1, geom.Point{X: 20, Y: 20}, geom.Point{X: 30, Y: 20})
		require.False(t, m.Contains(1))

		m.InsertLine(2, geom.Point{X: 12.05, Y: 0.05}, geom.Point{X: 20, Y: 0.05})
		require.Equal(t, 8, m.Cells(2))
		requireRegistryInverse(t, m)
	})

	t.Run("polygon outline", func(t *testing.T) {
		m := newTestMatrix(t)
		m.Insert(3, geom.Rect(geom.Point{}, 2, 2).Segments()...)

		require.True(t, m.Contains(3))
		require.Contains(t, m.Occupants(geom.Point{X: 1, Y: 0}), ObjectID(3))
		require.Contains(t, m.Occupants(geom.Point{X: -1, Y: 0.5}), ObjectID(3))
		require.Empty(t, m.Occupants(geom.Point{X: 0, Y: 0}))
		requireRegistryInverse(t, m)
	})
}

func TestRemove(t *testing.T) {
	t.Run("round trip returns to a bare root", func(t *testing.T) {
		m := newTestMatrix(t)
		r := rand.New(rand.NewSource(42))

		for obj := ObjectID(1); obj <= 25; obj++ {
			for i := 0; i < 4; i++ {
				a := geom.Point{X: r.Float64()*16 - 8, Y: r.Float64()*16 - 8}
				b := geom.Point{X: r.Float64()*16 - 8, Y: r.Float64()*16 - 8}
				m.InsertLine(obj, a, b)
			}
		}
		requireRegistryInverse(t, m)
		require.Equal(t, 25, m.DebugInfo().ObjectCount)

		for obj := ObjectID(1); obj <= 25; obj++ {
			m.Remove(obj)
			requireRegistryInverse(t, m)
		}

		info := m.DebugInfo()
		require.Equal(t, 1, info.CellCount)
		require.Equal(t, 1, info.LeafCount)
		require.Equal(t, 0, info.OccupiedLeafCount)
		require.Equal(t, 0, info.ObjectCount)
	})

	t.Run("keeps the cells of remaining objects", func(t *testing.T) {
		m := newTestMatrix(t)
		m.Insert(1, geom.Rect(geom.Point{}, 2, 2).Segments()...)
		m.Insert(2, geom.Rect(geom.Point{X: 0.5}, 2, 2).Segments()...)

		cells := m.Cells(2)
		m.Remove(1)

		require.False(t, m.Contains(1))
		require.Equal(t, cells, m.Cells(2))
		require.Contains(t, m.Occupants(geom.Point{X: 1.5, Y: 0}), ObjectID(2))
		require.Empty(t, m.Occupants(geom.Point{X: -1, Y: 0}))
		requireRegistryInverse(t, m)
	})

	t.Run("removal is idempotent", func(t *testing.T) {
		m := newTestMatrix(t)
		m.Insert(1, geom.Rect(geom.Point{}, 2, 2).Segments()...)
		m.Insert(2, geom.Rect(geom.Point{X: 3}, 1, 1).Segments()...)

		m.Remove(1)
		once := m.DebugInfo()
		cells := append([]cell(nil), m.cells...)

		m.Remove(1)
		require.Equal(t, once, m.DebugInfo())
		require.Equal(t, cells, m.cells)
		requireRegistryInverse(t, m)
	})

	t.Run("removing an unknown object does nothing", func(t *testing.T) {
		m := newTestMatrix(t)
		m.Remove(42)
		require.Equal(t, 1, m.DebugInfo().CellCount)
	})

	t.Run("without pruning cells are kept", func(t *testing.T) {
		m := newTestMatrix(t, WithPruning(false))
		m.Insert(1, geom.Rect(geom.Point{}, 2, 2).Segments()...)
		cellCount := m.DebugInfo().CellCount

		m.Remove(1)
		info := m.DebugInfo()
		require.False(t, info.Pruning)
		require.Equal(t, cellCount, info.CellCount)
		require.Equal(t, 0, info.OccupiedLeafCount)
	})

	t.Run("released cells are reused", func(t *testing.T) {
		m := newTestMatrix(t)
		m.Insert(1, geom.Rect(geom.Point{}, 2, 2).Segments()...)
		arena := len(m.cells)

		m.Remove(1)
		m.Insert(1, geom.Rect(geom.Point{}, 2, 2).Segments()...)
		require.Equal(t, arena, len(m.cells))
		requireRegistryInverse(t, m)
	})
}

func TestDepthBound(t *testing.T) {
	tests := []struct {
		ppm, size float64
	}{
		{ppm: 10, size: 16},
		{ppm: 3, size: 10},
		{ppm: 1, size: 100},
		{ppm: 50, size: 4},
	}

	for _, test := range tests {
		m, err := New(test.ppm, test.size, test.size)
		require.NoError(t, err)

		r := rand.New(rand.NewSource(7))
		half := test.size / 2
		for obj := ObjectID(1); obj <= 20; obj++ {
			a := geom.Point{X: r.Float64()*test.size - half, Y: r.Float64()*test.size - half}
			b := geom.Point{X: r.Float64()*test.size - half, Y: r.Float64()*test.size - half}
			m.InsertLine(obj, a, b)
		}

		bound := int(math.Ceil(math.Log2(test.size * test.ppm)))
		require.LessOrEqual(t, m.DebugInfo().MaxDepth, bound)
		require.Equal(t, bound, m.DebugInfo().MaxDepth)
	}
}
