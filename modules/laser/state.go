package laser

import (
	"sync"
	"time"

	"github.com/aukilabs/stagesim/geom"
	"github.com/segmentio/encoding/json"
)

// Sample is the reading of one laser beam. Bearing is relative to the laser.
type Sample struct {
	Bearing     float64 `json:"bearing"`
	Range       float64 `json:"range"`
	Reflectance float64 `json:"reflectance"`
	Hit         bool    `json:"hit"`
	ModelID     uint32  `json:"model_id,omitempty"`
}

// Scan is a full sweep of the laser.
type Scan struct {
	SimTime time.Duration `json:"sim_time"`
	Pose    geom.Pose     `json:"pose"`
	Samples []Sample      `json:"samples"`
}

type State struct {
	mutex sync.RWMutex
	scan  Scan
}

func (s *State) SetScan(v Scan) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.scan = v
}

// Scan returns the last published scan.
func (s *State) Scan() Scan {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.scan
}

func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Scan())
}
