package radio

import (
	"errors"
	"sync"

	"cloudpico-beacon/internal/tlm"
)

// Op names a channel operation for failure injection.
type Op string

const (
	OpEnable     Op = "enable"
	OpCreate     Op = "create"
	OpSetPayload Op = "set-payload"
	OpStart      Op = "start"
	OpStop       Op = "stop"
	OpClose      Op = "close"
)

// Event is one recorded call on the simulated stack.
type Event struct {
	Op      Op
	Channel int
	Frame   tlm.Frame
	Err     error
}

// Sim is an in-memory Radio. It allows a single live channel at a time, like a controller
// with one advertising set, and records every operation. Failures are injected per Op and
// consumed by the next matching call.
type Sim struct {
	// ReadyErr is passed to the onReady callback of Enable.
	ReadyErr error
	// Async delivers onReady from a new goroutine instead of inline.
	Async bool

	mu       sync.Mutex
	enabled  bool
	onReady  func(error)
	nextID   int
	live     *SimChannel
	failures map[Op][]error
	events   []Event
}

func NewSim() *Sim {
	return &Sim{failures: map[Op][]error{}}
}

// FailNext makes the next call of op return err. Calls queue up.
func (s *Sim) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures == nil {
		s.failures = map[Op][]error{}
	}
	s.failures[op] = append(s.failures[op], err)
}

func (s *Sim) Enable(onReady func(error)) error {
	s.mu.Lock()
	if err := s.takeFailure(OpEnable); err != nil {
		s.record(Event{Op: OpEnable, Err: err})
		s.mu.Unlock()
		return err
	}
	if s.onReady != nil {
		s.mu.Unlock()
		return errors.New("radio: enable called twice")
	}
	s.onReady = onReady
	readyErr := s.ReadyErr
	s.enabled = readyErr == nil
	s.record(Event{Op: OpEnable, Err: readyErr})
	async := s.Async
	s.mu.Unlock()

	if onReady == nil {
		return nil
	}
	if async {
		go onReady(readyErr)
	} else {
		onReady(readyErr)
	}
	return nil
}

func (s *Sim) CreateChannel(p Params) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return nil, ErrNotEnabled
	}
	if err := s.takeFailure(OpCreate); err != nil {
		s.record(Event{Op: OpCreate, Err: err})
		return nil, err
	}
	if s.live != nil {
		s.record(Event{Op: OpCreate, Err: ErrNoResources})
		return nil, ErrNoResources
	}
	s.nextID++
	ch := &SimChannel{sim: s, id: s.nextID, params: p}
	s.live = ch
	s.record(Event{Op: OpCreate, Channel: ch.id})
	return ch, nil
}

// Events returns a copy of everything recorded so far.
func (s *Sim) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Live returns the channel currently holding the advertising set, or nil.
func (s *Sim) Live() *SimChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Channels returns how many channels were ever created.
func (s *Sim) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}

func (s *Sim) takeFailure(op Op) error {
	q := s.failures[op]
	if len(q) == 0 {
		return nil
	}
	s.failures[op] = q[1:]
	return q[0]
}

func (s *Sim) record(e Event) {
	s.events = append(s.events, e)
}

// SimChannel is a channel of Sim.
type SimChannel struct {
	sim    *Sim
	id     int
	params Params

	payload     tlm.Frame
	hasPayload  bool
	advertising bool
	closed      bool
	sent        []tlm.Frame
}

func (c *SimChannel) Kind() Kind { return c.params.Kind }

func (c *SimChannel) Params() Params { return c.params }

func (c *SimChannel) ID() int { return c.id }

func (c *SimChannel) SetPayload(f tlm.Frame) error {
	return c.do(OpSetPayload, f, func() error {
		c.payload = f
		c.hasPayload = true
		if c.advertising {
			c.sent = append(c.sent, f)
		}
		return nil
	})
}

func (c *SimChannel) Start() error {
	return c.do(OpStart, c.payload, func() error {
		if c.advertising {
			return ErrAlreadyStarted
		}
		if !c.hasPayload {
			return errors.New("radio: start without payload")
		}
		c.advertising = true
		c.sent = append(c.sent, c.payload)
		return nil
	})
}

func (c *SimChannel) Stop() error {
	return c.do(OpStop, c.payload, func() error {
		if !c.advertising {
			return ErrAlreadyStopped
		}
		c.advertising = false
		return nil
	})
}

func (c *SimChannel) Close() error {
	s := c.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := s.takeFailure(OpClose); err != nil {
		s.record(Event{Op: OpClose, Channel: c.id, Err: err})
		return err
	}
	c.closed = true
	c.advertising = false
	if s.live == c {
		s.live = nil
	}
	s.record(Event{Op: OpClose, Channel: c.id})
	return nil
}

// Advertising reports whether the channel is transmitting.
func (c *SimChannel) Advertising() bool {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()
	return c.advertising
}

// Payload returns the frame currently loaded.
func (c *SimChannel) Payload() tlm.Frame {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()
	return c.payload
}

// Sent returns every frame that went on air, in order.
func (c *SimChannel) Sent() []tlm.Frame {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()
	return append([]tlm.Frame(nil), c.sent...)
}

func (c *SimChannel) do(op Op, f tlm.Frame, fn func() error) error {
	s := c.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	err := s.takeFailure(op)
	if err == nil {
		err = fn()
	}
	s.record(Event{Op: op, Channel: c.id, Frame: f, Err: err})
	return err
}
