package modules

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/stagesim/models"
)

const (
	ErrTypeModuleInit = "module_init"
)

// Module is the interface that describes a sensor or actuator attached to a
// model and driven at each simulation step.
type Module interface {
	// Returns the module name.
	Name() string

	// Initializes the module for the given model. A module is initialized
	// once.
	Init(*models.World, *models.Model) error

	// Handles a simulation step. Returned errors are logged by the world and
	// do not stop the step.
	HandleFrame(context.Context) error
}

// Attach initializes the given modules for a model and subscribes them to the
// world steps. The modules are detached, and their states deleted, when the
// model is removed from the world. The returned cancel function detaches them
// earlier.
func Attach(w *models.World, modelID uint32, modules ...Module) (cancel func(), err error) {
	model, ok := w.Model(modelID)
	if !ok {
		return nil, errors.New("model not found").
			WithType(models.ErrTypeModelNotFound).
			WithTag("model_id", modelID)
	}

	for _, m := range modules {
		if err := m.Init(w, &model); err != nil {
			return nil, errors.New("initializing module failed").
				WithType(ErrTypeModuleInit).
				WithTag("module", m.Name()).
				WithTag("model_id", modelID).
				Wrap(err)
		}
	}

	var detached atomic.Bool
	cancels := make([]func(), len(modules))
	for i, m := range modules {
		handleFrame := m.HandleFrame
		cancels[i] = w.Subscribe(func(ctx context.Context) error {
			if detached.Load() {
				return nil
			}
			return handleFrame(ctx)
		})
	}

	var detachOnce sync.Once
	detach := func() {
		detachOnce.Do(func() {
			detached.Store(true)
			for _, c := range cancels {
				c()
			}
		})
	}

	cancelOnRemove, err := w.OnRemove(modelID, func() {
		detach()
		for _, m := range modules {
			w.DeleteModuleState(StateKey(m.Name(), modelID))
		}
	})
	if err != nil {
		detach()
		return nil, err
	}

	return func() {
		cancelOnRemove()
		detach()
	}, nil
}

// StateKey returns the key under which a module publishes the state of a
// model.
func StateKey(name string, modelID uint32) string {
	return fmt.Sprintf("%s/%d", name, modelID)
}
