// Package fiducial implements a fiducial finder: it detects the models
// carrying a marker that are in its field of view and in line of sight.
package fiducial

import (
	"context"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/stagesim/geom"
	"github.com/aukilabs/stagesim/models"
	"github.com/aukilabs/stagesim/modules"
)

type Config struct {
	RangeMin float64
	RangeMax float64

	// Markers further than this are detected without being identified.
	RangeMaxID float64

	FOV float64
}

func DefaultConfig() Config {
	return Config{
		RangeMin:   0,
		RangeMax:   8,
		RangeMaxID: 5,
		FOV:        math.Pi,
	}
}

func (c Config) validate() error {
	switch {
	case !geom.IsFinite(c.FOV) || c.FOV < 0 || c.FOV > 2*math.Pi:
		return errors.New("fiducial field of view must be within [0, 2pi]").
			WithTag("fov", c.FOV)

	case !geom.IsFinite(c.RangeMax) || c.RangeMax <= 0 || c.RangeMin < 0 || c.RangeMin > c.RangeMax:
		return errors.New("invalid fiducial range").
			WithTag("range_min", c.RangeMin).
			WithTag("range_max", c.RangeMax)

	case c.RangeMaxID < 0:
		return errors.New("invalid fiducial identification range").
			WithTag("range_max_id", c.RangeMaxID)
	}
	return nil
}

type Module struct {
	Config Config

	world   *models.World
	modelID uint32
	state   *State
}

func New(conf Config) *Module {
	return &Module{Config: conf}
}

func (m *Module) Name() string {
	return "fiducial"
}

func (m *Module) Init(w *models.World, model *models.Model) error {
	if err := m.Config.validate(); err != nil {
		return err
	}

	m.world = w
	m.modelID = model.ID

	key := modules.StateKey(m.Name(), model.ID)
	state, ok := w.ModuleState(key)
	if !ok {
		state = &State{}
		w.SetModuleState(key, state)
	}
	m.state = state.(*State)
	return nil
}

func (m *Module) State() *State {
	return m.state
}

func (m *Module) HandleFrame(ctx context.Context) error {
	pose, err := m.world.GlobalPose(m.modelID)
	if err != nil {
		return err
	}

	detection := Detection{SimTime: m.world.SimTime()}

	for _, target := range m.world.Models() {
		if err := ctx.Err(); err != nil {
			return err
		}

		if target.FiducialReturn == 0 || m.world.Related(m.modelID, target.ID) {
			continue
		}

		targetPose, err := m.world.GlobalPose(target.ID)
		if err != nil {
			// Removed since listed.
			continue
		}

		if f, ok := m.detect(pose, target, targetPose); ok {
			detection.Fiducials = append(detection.Fiducials, f)
		}
	}

	m.state.SetDetection(detection)
	return nil
}

func (m *Module) detect(pose geom.Pose, target models.Model, targetPose geom.Pose) (Fiducial, bool) {
	origin := pose.Point()
	rng := origin.Distance(targetPose.Point())
	if rng < m.Config.RangeMin || rng > m.Config.RangeMax {
		return Fiducial{}, false
	}

	bearing := geom.NormalizeAngle(origin.Angle(targetPose.Point()) - pose.A)
	if math.Abs(bearing) > m.Config.FOV/2 {
		return Fiducial{}, false
	}

	hit, ok := m.world.RaytraceFromTo(m.modelID, origin, targetPose.Point(), func(o *models.Model) bool {
		return o.ID == target.ID || o.ObstacleReturn
	})
	if ok && hit.ModelID != target.ID {
		return Fiducial{}, false
	}

	id := -1
	if rng <= m.Config.RangeMaxID {
		id = target.FiducialReturn
	}

	return Fiducial{
		ID:      id,
		ModelID: target.ID,
		Range:   rng,
		Bearing: bearing,
		Heading: geom.NormalizeAngle(targetPose.A - pose.A),
	}, true
}
