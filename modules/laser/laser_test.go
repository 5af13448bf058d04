package laser

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/stagesim/geom"
	"github.com/aukilabs/stagesim/models"
	"github.com/aukilabs/stagesim/modules"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func newTestWorld(t *testing.T) *models.World {
	w, err := models.NewWorld(models.WorldConfig{
		Resolution:    10,
		Width:         16,
		Height:        16,
		FrameDuration: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	return w
}

func addBox(t *testing.T, w *models.World, parentID uint32, x, y, size float64, laser models.LaserReturn) uint32 {
	id, err := w.AddModel(&models.Model{
		ParentID:       parentID,
		Pose:           geom.Pose{X: x, Y: y},
		Polygons:       []geom.Polygon{geom.Rect(geom.Point{}, size, size)},
		ObstacleReturn: true,
		LaserReturn:    laser,
	})
	require.NoError(t, err)
	return id
}

func TestLaser(t *testing.T) {
	w := newTestWorld(t)
	robot := addBox(t, w, 0, 0, 0, 0.2, models.LaserVisible)
	addBox(t, w, robot, 0.5, 0, 0.2, models.LaserVisible)
	wall := addBox(t, w, 0, 3, 0, 1, models.LaserVisible)
	addBox(t, w, 0, 0, 1.5, 0.4, models.LaserTransparent)
	beacon := addBox(t, w, 0, 0, 3, 1, models.LaserBright)

	laser := New(Config{
		Samples:  3,
		FOV:      math.Pi,
		RangeMax: 8,
	})
	cancel, err := modules.Attach(w, robot, laser)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, w.Step(context.Background()))

	scan := laser.State().Scan()
	require.Equal(t, 100*time.Millisecond, scan.SimTime)
	require.Len(t, scan.Samples, 3)

	t.Run("beam with nothing in range", func(t *testing.T) {
		s := scan.Samples[0]
		require.InDelta(t, -math.Pi/2, s.Bearing, 1e-9)
		require.False(t, s.Hit)
		require.Equal(t, float64(8), s.Range)
	})

	t.Run("beam ignores the laser model and its children", func(t *testing.T) {
		s := scan.Samples[1]
		require.Zero(t, s.Bearing)
		require.True(t, s.Hit)
		require.Equal(t, wall, s.ModelID)
		require.InDelta(t, 2.5, s.Range, 0.1+1e-6)
		require.Zero(t, s.Reflectance)
	})

	t.Run("beam goes through transparent models", func(t *testing.T) {
		s := scan.Samples[2]
		require.InDelta(t, math.Pi/2, s.Bearing, 1e-9)
		require.True(t, s.Hit)
		require.Equal(t, beacon, s.ModelID)
		require.InDelta(t, 2.5, s.Range, 0.1+1e-6)
		require.Equal(t, float64(1), s.Reflectance)
	})

	t.Run("state is published in the world", func(t *testing.T) {
		state, ok := w.ModuleState(modules.StateKey("laser", robot))
		require.True(t, ok)
		require.Equal(t, laser.State(), state)

		b, err := json.Marshal(state)
		require.NoError(t, err)

		var decoded Scan
		require.NoError(t, json.Unmarshal(b, &decoded))
		require.Equal(t, scan, decoded)
	})

	t.Run("scan follows the model", func(t *testing.T) {
		require.NoError(t, w.SetPose(robot, geom.Pose{X: 1}))
		require.NoError(t, w.Step(context.Background()))

		s := laser.State().Scan().Samples[1]
		require.True(t, s.Hit)
		require.InDelta(t, 1.5, s.Range, 0.1+1e-6)
	})
}

func TestLaserRangeMin(t *testing.T) {
	w := newTestWorld(t)
	robot := addBox(t, w, 0, 0, 0, 0.2, models.LaserVisible)
	addBox(t, w, 0, 1, 0, 1, models.LaserVisible)

	laser := New(Config{Samples: 1, RangeMin: 1, RangeMax: 4})
	_, err := modules.Attach(w, robot, laser)
	require.NoError(t, err)
	require.NoError(t, w.Step(context.Background()))

	s := laser.State().Scan().Samples[0]
	require.True(t, s.Hit)
	require.Equal(t, float64(1), s.Range)
}

func TestLaserInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		conf Config
	}{
		{name: "no samples", conf: Config{Samples: 0, FOV: 1, RangeMax: 1}},
		{name: "negative fov", conf: Config{Samples: 1, FOV: -1, RangeMax: 1}},
		{name: "too wide fov", conf: Config{Samples: 1, FOV: 7, RangeMax: 1}},
		{name: "zero range", conf: Config{Samples: 1, FOV: 1}},
		{name: "range min above range max", conf: Config{Samples: 1, FOV: 1, RangeMin: 2, RangeMax: 1}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := newTestWorld(t)
			robot := addBox(t, w, 0, 0, 0, 0.2, models.LaserVisible)

			_, err := modules.Attach(w, robot, New(test.conf))
			require.Error(t, err)
			require.True(t, errors.IsType(err, modules.ErrTypeModuleInit))
		})
	}
}

func TestLaserRemovedModel(t *testing.T) {
	w := newTestWorld(t)
	robot := addBox(t, w, 0, 0, 0, 0.2, models.LaserVisible)

	laser := New(DefaultConfig())
	require.NoError(t, laser.Init(w, &models.Model{ID: robot}))
	require.NoError(t, w.RemoveModel(robot))

	err := laser.HandleFrame(context.Background())
	require.True(t, errors.IsType(err, models.ErrTypeModelNotFound))
}

func TestLaserDetachedOnModelRemoval(t *testing.T) {
	w := newTestWorld(t)
	robot := addBox(t, w, 0, 0, 0, 0.2, models.LaserVisible)

	laser := New(DefaultConfig())
	_, err := modules.Attach(w, robot, laser)
	require.NoError(t, err)

	key := modules.StateKey("laser", robot)
	_, ok := w.ModuleState(key)
	require.True(t, ok)

	require.NoError(t, w.RemoveModel(robot))
	_, ok = w.ModuleState(key)
	require.False(t, ok)

	other := addBox(t, w, 0, 3, 3, 0.2, models.LaserVisible)
	require.Equal(t, robot, other)

	require.NoError(t, w.Step(context.Background()))

	_, ok = w.ModuleState(key)
	require.False(t, ok)
	require.Zero(t, laser.State().Scan().SimTime)
	require.Empty(t, laser.State().Scan().Samples)
}
