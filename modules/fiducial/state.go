package fiducial

import (
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
)

// Fiducial is a marker detected by the finder. Range, bearing and heading are
// relative to the finder.
type Fiducial struct {
	// The marker value, -1 when the marker is too far to be identified.
	ID      int     `json:"id"`
	ModelID uint32  `json:"model_id"`
	Range   float64 `json:"range"`
	Bearing float64 `json:"bearing"`
	Heading float64 `json:"heading"`
}

type Detection struct {
	SimTime   time.Duration `json:"sim_time"`
	Fiducials []Fiducial    `json:"fiducials"`
}

type State struct {
	mutex     sync.RWMutex
	detection Detection
}

func (s *State) SetDetection(v Detection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.detection = v
}

func (s *State) Detection() Detection {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.detection
}

func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Detection())
}
