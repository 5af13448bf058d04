package ranger

import (
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
)

// Reading is the nearest range measured by one transducer.
type Reading struct {
	Range   float64 `json:"range"`
	Hit     bool    `json:"hit"`
	ModelID uint32  `json:"model_id,omitempty"`
}

type Readings struct {
	SimTime  time.Duration `json:"sim_time"`
	Readings []Reading     `json:"readings"`
}

type State struct {
	mutex    sync.RWMutex
	readings Readings
}

func (s *State) SetReadings(v Readings) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.readings = v
}

func (s *State) Readings() Readings {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.readings
}

func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Readings())
}
