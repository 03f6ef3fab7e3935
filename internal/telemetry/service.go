// Package telemetry joins the frame encoder and the advertising controller: it owns the
// advertisement counter and decides per sample whether to update or (re)start broadcasting.
package telemetry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cloudpico-beacon/internal/advertising"
	"cloudpico-beacon/internal/fault"
	"cloudpico-beacon/internal/radio"
	"cloudpico-beacon/internal/tlm"
)

var (
	// ErrRadioDisabled is returned by OnSample once radio initialisation has failed.
	ErrRadioDisabled = errors.New("telemetry: radio disabled")
	ErrClosed        = errors.New("telemetry: service closed")
)

type radioStatus int

const (
	radioPending radioStatus = iota
	radioReady
	radioDisabled
)

// Service is safe for concurrent use. OnRadioReady normally arrives from the radio's
// goroutine while OnSample runs on the sampling loop; one mutex serializes both.
type Service struct {
	params radio.Params
	logger *slog.Logger

	mu      sync.Mutex
	ctrl    *advertising.Controller
	counter uint32
	last    tlm.Frame
	status  radioStatus
	closed  bool
}

func NewService(ctrl *advertising.Controller, params radio.Params, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ctrl:   ctrl,
		params: params,
		logger: logger,
	}
}

// OnRadioReady handles the radio's enable result. Only the first delivery counts.
// A failure here disables publishing for the lifetime of the service.
func (s *Service) OnRadioReady(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != radioPending {
		s.logger.Warn("telemetry: duplicate radio ready notification ignored", "error", err)
		return nil
	}
	if err != nil {
		s.status = radioDisabled
		return fault.New(fault.RadioInitFailed, fmt.Errorf("radio enable: %w", err))
	}
	s.status = radioReady
	if s.closed {
		return nil
	}

	f := tlm.Encode(tlm.Reading{}, &s.counter, 0)
	s.last = f
	if err := s.ctrl.Create(s.params); err != nil {
		return fault.New(fault.RadioInitFailed, err)
	}
	if err := s.ctrl.PublishInitial(f); err != nil {
		return fault.New(fault.RadioInitFailed, err)
	}
	s.logger.Info("telemetry: advertising started",
		"kind", s.params.Kind.String(),
		"name", s.params.LocalName,
		"frame", f.String(),
	)
	return nil
}

// OnSample encodes r and publishes it. Before the radio is ready the frame is only
// encoded. Publish failures are returned but leave the service usable; the next sample
// retries from whatever state the controller is in.
func (s *Service) OnSample(r tlm.Reading, uptimeMs uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	f := tlm.Encode(r, &s.counter, uptimeMs)
	s.last = f

	switch s.status {
	case radioPending:
		s.logger.Debug("telemetry: radio not ready, frame not published", "count", f.Count())
		return nil
	case radioDisabled:
		return ErrRadioDisabled
	}

	var err error
	if s.ctrl.Advertising() {
		err = s.ctrl.PublishUpdate(f)
	} else {
		// a Create that failed in OnRadioReady left the controller Failed with its params,
		// so PublishInitial re-creates the channel
		s.logger.Info("telemetry: (re)starting advertising", "state", s.ctrl.State().String())
		err = s.ctrl.PublishInitial(f)
	}
	if err != nil {
		return fault.New(fault.RadioInitFailed, err)
	}
	s.logger.Debug("telemetry: frame published",
		"count", f.Count(),
		"temperature_c", r.TemperatureC,
		"humidity_pct", r.HumidityPct,
		"frame", f.String(),
	)
	return nil
}

// Snapshot is a consistent view of the service taken under one lock.
type Snapshot struct {
	State   advertising.State
	Counter uint32
	Frame   tlm.Frame
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.ctrl.State(), Counter: s.counter, Frame: s.last}
}

// LastFrame is the most recently encoded frame, published or not.
func (s *Service) LastFrame() tlm.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Service) Counter() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

func (s *Service) State() advertising.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.State()
}

// Close stops advertising and releases the channel. Later samples return ErrClosed.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.ctrl.Close()
}
