// Package ranger implements sonar and infrared range sensors. Each transducer
// samples its cone with a few rays and reports the nearest return.
package ranger

import (
	"context"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/stagesim/geom"
	"github.com/aukilabs/stagesim/models"
	"github.com/aukilabs/stagesim/modules"
)

// Transducer is a single range sensor. Its pose is relative to the model.
type Transducer struct {
	Pose     geom.Pose
	FOV      float64
	RangeMin float64
	RangeMax float64

	// The number of rays sampling the cone.
	Rays int
}

func (t Transducer) validate() error {
	switch {
	case t.Rays < 1:
		return errors.New("transducer needs at least one ray").
			WithTag("rays", t.Rays)

	case !geom.IsFinite(t.FOV) || t.FOV < 0 || t.FOV > 2*math.Pi:
		return errors.New("transducer field of view must be within [0, 2pi]").
			WithTag("fov", t.FOV)

	case !geom.IsFinite(t.RangeMax) || t.RangeMax <= 0 || t.RangeMin < 0 || t.RangeMin > t.RangeMax:
		return errors.New("invalid transducer range").
			WithTag("range_min", t.RangeMin).
			WithTag("range_max", t.RangeMax)
	}
	return nil
}

// SonarRing returns n sonar transducers evenly spread around a circle of the
// given radius, all facing outward.
func SonarRing(n int, radius float64) []Transducer {
	transducers := make([]Transducer, n)
	for i := range transducers {
		a := geom.NormalizeAngle(2 * math.Pi * float64(i) / float64(n))
		transducers[i] = Transducer{
			Pose: geom.Pose{
				X: radius * math.Cos(a),
				Y: radius * math.Sin(a),
				A: a,
			},
			FOV:      15 * math.Pi / 180,
			RangeMax: 5,
			Rays:     3,
		}
	}
	return transducers
}

type Module struct {
	Transducers []Transducer

	world   *models.World
	modelID uint32
	state   *State
}

func New(transducers ...Transducer) *Module {
	return &Module{Transducers: transducers}
}

func (m *Module) Name() string {
	return "ranger"
}

func (m *Module) Init(w *models.World, model *models.Model) error {
	for i, t := range m.Transducers {
		if err := t.validate(); err != nil {
			return errors.New("invalid transducer").
				WithTag("index", i).
				Wrap(err)
		}
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

	readings := Readings{
		SimTime:  m.world.SimTime(),
		Readings: make([]Reading, len(m.Transducers)),
	}

	for i, t := range m.Transducers {
		if err := ctx.Err(); err != nil {
			return err
		}
		readings.Readings[i] = m.read(geom.Compose(pose, t.Pose), t)
	}

	m.state.SetReadings(readings)
	return nil
}

func (m *Module) read(pose geom.Pose, t Transducer) Reading {
	r := Reading{Range: t.RangeMax}

	for i := 0; i < t.Rays; i++ {
		bearing := 0.0
		if t.Rays > 1 {
			bearing = -t.FOV/2 + float64(i)*t.FOV/float64(t.Rays-1)
		}

		hit, ok := m.world.RaytraceFrom(m.modelID, pose.Point(), pose.A+bearing, t.RangeMax, echoes)
		if ok && (!r.Hit || hit.Range < r.Range) {
			r.Hit = true
			r.ModelID = hit.ModelID
			r.Range = math.Max(hit.Range, t.RangeMin)
		}
	}
	return r
}

func echoes(m *models.Model) bool {
	return m.RangerReturn
}
