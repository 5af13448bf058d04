// Package laser implements a scanning laser range finder.
package laser

import (
	"context"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/stagesim/geom"
	"github.com/aukilabs/stagesim/models"
	"github.com/aukilabs/stagesim/modules"
)

type Config struct {
	// The number of beams in a scan.
	Samples int

	// The angle covered by a scan, in radians, centered on the model heading.
	FOV float64

	RangeMin float64
	RangeMax float64
}

func DefaultConfig() Config {
	return Config{
		Samples:  180,
		FOV:      math.Pi,
		RangeMin: 0,
		RangeMax: 8,
	}
}

func (c Config) validate() error {
	switch {
	case c.Samples < 1:
		return errors.New("laser needs at least one sample").
			WithTag("samples", c.Samples)

	case !geom.IsFinite(c.FOV) || c.FOV < 0 || c.FOV > 2*math.Pi:
		return errors.New("laser field of view must be within [0, 2pi]").
			WithTag("fov", c.FOV)

	case !geom.IsFinite(c.RangeMax) || c.RangeMax <= 0 || c.RangeMin < 0 || c.RangeMin > c.RangeMax:
		return errors.New("invalid laser range").
			WithTag("range_min", c.RangeMin).
			WithTag("range_max", c.RangeMax)
	}
	return nil
}

// bearing returns the bearing of the i-th beam, relative to the laser.
func (c Config) bearing(i int) float64 {
	if c.Samples == 1 {
		return 0
	}
	return -c.FOV/2 + float64(i)*c.FOV/float64(c.Samples-1)
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
	return "laser"
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

	scan := Scan{
		SimTime: m.world.SimTime(),
		Pose:    pose,
		Samples: make([]Sample, m.Config.Samples),
	}

	for i := range scan.Samples {
		if err := ctx.Err(); err != nil {
			return err
		}
		scan.Samples[i] = m.sample(pose, m.Config.bearing(i))
	}

	m.state.SetScan(scan)
	return nil
}

func (m *Module) sample(pose geom.Pose, bearing float64) Sample {
	s := Sample{
		Bearing: bearing,
		Range:   m.Config.RangeMax,
	}

	hit, ok := m.world.RaytraceFrom(m.modelID, pose.Point(), pose.A+bearing, m.Config.RangeMax, visible)
	if !ok {
		return s
	}

	model, _ := m.world.Model(hit.ModelID)
	s.Hit = true
	s.ModelID = hit.ModelID
	s.Range = math.Max(hit.Range, m.Config.RangeMin)
	if model.LaserReturn == models.LaserBright {
		s.Reflectance = 1
	}
	return s
}

func visible(m *models.Model) bool {
	return m.LaserReturn != models.LaserTransparent
}
