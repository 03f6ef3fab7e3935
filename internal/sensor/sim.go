package sensor

import (
	"math"
	"sync"

	"cloudpico-beacon/internal/tlm"
)

// Sim produces a slow deterministic wave around a base reading. Queued failures are
// returned instead of a reading, one per call.
type Sim struct {
	Base      tlm.Reading
	Amplitude tlm.Reading

	mu       sync.Mutex
	n        int
	failures []error
	closed   bool
}

func NewSim() *Sim {
	return &Sim{
		Base:      tlm.Reading{TemperatureC: 21.5, HumidityPct: 45},
		Amplitude: tlm.Reading{TemperatureC: 1.5, HumidityPct: 5},
	}
}

// FailNext queues a failure of the given kind.
func (s *Sim) FailNext(kind Kind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &Error{Kind: kind, Err: err})
}

func (s *Sim) ReadSample() (tlm.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tlm.Reading{}, &Error{Kind: FetchFailed, Err: ErrNotReady}
	}
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return tlm.Reading{}, err
	}
	phase := math.Sin(float64(s.n) * 2 * math.Pi / 60)
	s.n++
	return tlm.Reading{
		TemperatureC: s.Base.TemperatureC + s.Amplitude.TemperatureC*float32(phase),
		HumidityPct:  s.Base.HumidityPct + s.Amplitude.HumidityPct*float32(phase),
	}, nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
