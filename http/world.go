package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/stagesim/geom"
	"github.com/aukilabs/stagesim/matrix"
	"github.com/aukilabs/stagesim/models"
	"github.com/segmentio/encoding/json"
)

const (
	defaultRaytraceRange = 10
)

type worldResponse struct {
	UUID    string           `json:"uuid"`
	SimTime time.Duration    `json:"sim_time"`
	Matrix  matrix.DebugInfo `json:"matrix"`
	Models  []models.Model   `json:"models"`
	Modules map[string]any   `json:"modules,omitempty"`
}

// HandleWorld writes a JSON snapshot of the world: its matrix summary, its
// models and the last published module states.
func HandleWorld(world *models.World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		writeJSON(w, http.StatusOK, worldResponse{
			UUID:    world.UUID,
			SimTime: world.SimTime(),
			Matrix:  world.MatrixInfo(),
			Models:  world.Models(),
			Modules: world.ModuleStates(),
		})
	}
}

type raytraceResponse struct {
	Hit     bool       `json:"hit"`
	ModelID uint32     `json:"model_id,omitempty"`
	Point   geom.Point `json:"point"`
	Range   float64    `json:"range"`
}

// HandleRaytrace casts a ray against the obstacles of the world. The ray is
// described by the x, y, a (bearing) and range query parameters. When from is
// set, the models related to the given model id are ignored.
func HandleRaytrace(world *models.World) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()

		var origin geom.Point
		var bearing float64
		rng := float64(defaultRaytraceRange)

		err := parseFloats(q.Get,
			floatParam{name: "x", value: &origin.X, required: true},
			floatParam{name: "y", value: &origin.Y, required: true},
			floatParam{name: "a", value: &bearing, required: true},
			floatParam{name: "range", value: &rng},
		)
		if err == nil && (rng < 0 || !geom.IsFinite(rng)) {
			err = errors.New("range must be a positive number").WithTag("range", rng)
		}

		var from uint64
		if err == nil && q.Get("from") != "" {
			if from, err = strconv.ParseUint(q.Get("from"), 10, 32); err != nil {
				err = errors.New("invalid from parameter").Wrap(err)
			}
		}

		if err != nil {
			logs.WithTag("query", r.URL.RawQuery).Debug(err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var hit models.Hit
		var ok bool
		if from != 0 {
			hit, ok = world.RaytraceFrom(uint32(from), origin, bearing, rng, obstacle)
		} else {
			hit, ok = world.Raytrace(origin, bearing, rng, obstacle)
		}

		writeJSON(w, http.StatusOK, raytraceResponse{
			Hit:     ok,
			ModelID: hit.ModelID,
			Point:   hit.Point,
			Range:   hit.Range,
		})
	}
}

func obstacle(m *models.Model) bool {
	return m.ObstacleReturn
}

type floatParam struct {
	name     string
	value    *float64
	required bool
}

func parseFloats(get func(string) string, params ...floatParam) error {
	for _, p := range params {
		s := get(p.name)
		if s == "" {
			if p.required {
				return errors.Newf("missing %s parameter", p.name)
			}
			continue
		}

		v, err := strconv.ParseFloat(s, 64)
		if err != nil || !geom.IsFinite(v) {
			return errors.Newf("invalid %s parameter", p.name).WithTag("value", s)
		}
		*p.value = v
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Warn(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
