package modules

import (
	"context"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/stagesim/models"
	"github.com/stretchr/testify/require"
)

type counter struct {
	initErr error
	model   *models.Model
	frames  int
}

func (c *counter) Name() string {
	return "counter"
}

func (c *counter) Init(w *models.World, m *models.Model) error {
	c.model = m
	return c.initErr
}

func (c *counter) HandleFrame(context.Context) error {
	c.frames++
	return nil
}

func newTestWorld(t *testing.T) *models.World {
	w, err := models.NewWorld(models.WorldConfig{
		Resolution:    10,
		Width:         4,
		Height:        4,
		FrameDuration: time.Second,
	})
	require.NoError(t, err)
	return w
}

func TestAttach(t *testing.T) {
	t.Run("modules are driven by the world steps", func(t *testing.T) {
		w := newTestWorld(t)
		id, err := w.AddModel(&models.Model{Name: "robot"})
		require.NoError(t, err)

		a, b := &counter{}, &counter{}
		cancel, err := Attach(w, id, a, b)
		require.NoError(t, err)
		require.Equal(t, "robot", a.model.Name)

		require.NoError(t, w.Step(context.Background()))
		require.Equal(t, 1, a.frames)
		require.Equal(t, 1, b.frames)

		cancel()
		require.NoError(t, w.Step(context.Background()))
		require.Equal(t, 1, a.frames)
		require.Equal(t, 1, b.frames)
	})

	t.Run("modules are detached when the model is removed", func(t *testing.T) {
		w := newTestWorld(t)
		parent, err := w.AddModel(&models.Model{Name: "base"})
		require.NoError(t, err)
		id, err := w.AddModel(&models.Model{Name: "robot", ParentID: parent})
		require.NoError(t, err)

		c := &counter{}
		cancel, err := Attach(w, id, c)
		require.NoError(t, err)
		w.SetModuleState(StateKey(c.Name(), id), c)

		require.NoError(t, w.RemoveModel(parent))
		_, ok := w.ModuleState(StateKey(c.Name(), id))
		require.False(t, ok)

		_, err = w.AddModel(&models.Model{Name: "newcomer"})
		require.NoError(t, err)
		_, err = w.AddModel(&models.Model{Name: "newcomer"})
		require.NoError(t, err)

		require.NoError(t, w.Step(context.Background()))
		require.Zero(t, c.frames)

		cancel()
	})

	t.Run("cancel keeps other subscribers", func(t *testing.T) {
		w := newTestWorld(t)
		id, err := w.AddModel(&models.Model{})
		require.NoError(t, err)

		a := &counter{}
		cancel, err := Attach(w, id, a)
		require.NoError(t, err)
		cancel()

		b := &counter{}
		_, err = Attach(w, id, b)
		require.NoError(t, err)
		cancel()

		require.NoError(t, w.Step(context.Background()))
		require.Zero(t, a.frames)
		require.Equal(t, 1, b.frames)
	})

	t.Run("unknown model", func(t *testing.T) {
		w := newTestWorld(t)

		_, err := Attach(w, 42, &counter{})
		require.Error(t, err)
		require.True(t, errors.IsType(err, models.ErrTypeModelNotFound))
	})

	t.Run("init failure", func(t *testing.T) {
		w := newTestWorld(t)
		id, err := w.AddModel(&models.Model{})
		require.NoError(t, err)

		c := &counter{initErr: errors.New("bad config")}
		_, err = Attach(w, id, c)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeModuleInit))

		require.NoError(t, w.Step(context.Background()))
		require.Zero(t, c.frames)
	})
}

func TestStateKey(t *testing.T) {
	require.Equal(t, "laser/3", StateKey("laser", 3))
}
