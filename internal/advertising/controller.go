// Package advertising owns the lifecycle of one radio channel: create, first publish,
// in-place updates, shutdown, and recovery after a failed step.
package advertising

import (
	"errors"
	"fmt"
	"log/slog"

	"cloudpico-beacon/internal/radio"
	"cloudpico-beacon/internal/tlm"
)

type State int

const (
	Uninitialized State = iota
	Created
	Advertising
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Created:
		return "created"
	case Advertising:
		return "advertising"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrInvalidState = errors.New("advertising: invalid state")
	ErrNoParams     = errors.New("advertising: channel never created")
)

// Controller is not safe for concurrent use; the owner serializes calls.
type Controller struct {
	radio  radio.Radio
	logger *slog.Logger

	state   State
	channel radio.Channel
	params  radio.Params
	created bool
}

func NewController(r radio.Radio, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{radio: r, logger: logger}
}

func (c *Controller) State() State { return c.state }

func (c *Controller) Advertising() bool { return c.state == Advertising }

// Create allocates a channel with p and remembers p for later re-creation.
// A rejection (e.g. no free advertising set) leaves the controller Failed; nothing retries.
func (c *Controller) Create(p radio.Params) error {
	switch c.state {
	case Created, Advertising:
		return fmt.Errorf("%w: create while %s", ErrInvalidState, c.state)
	}
	c.release()
	c.params = p
	c.created = true
	return c.create()
}

// PublishInitial installs f and starts transmitting. From Stopped or Failed the old
// channel is released and a new one is created from the last params first.
func (c *Controller) PublishInitial(f tlm.Frame) error {
	switch c.state {
	case Advertising:
		return fmt.Errorf("%w: initial publish while advertising", ErrInvalidState)
	case Uninitialized:
		return fmt.Errorf("%w: initial publish before create", ErrInvalidState)
	case Stopped, Failed:
		if !c.created {
			return ErrNoParams
		}
		c.logger.Info("advertising: re-creating channel", "from", c.state.String(), "kind", c.params.Kind.String())
		c.release()
		if err := c.create(); err != nil {
			return err
		}
	}

	if err := c.channel.SetPayload(f); err != nil {
		return c.fail("set payload", err)
	}
	if err := c.channel.Start(); err != nil {
		return c.fail("start", err)
	}
	c.state = Advertising
	c.logger.Debug("advertising: started", "kind", c.channel.Kind().String(), "frame", f.String())
	return nil
}

// PublishUpdate replaces the payload of a running channel as one logical step:
// stop, install f, start. Any failure leaves the controller Failed.
func (c *Controller) PublishUpdate(f tlm.Frame) error {
	if c.state != Advertising {
		return fmt.Errorf("%w: update while %s", ErrInvalidState, c.state)
	}
	if err := c.stop(); err != nil {
		return c.fail("stop", err)
	}
	if err := c.channel.SetPayload(f); err != nil {
		return c.fail("set payload", err)
	}
	if err := c.channel.Start(); err != nil {
		return c.fail("restart", err)
	}
	return nil
}

// Shutdown stops transmitting. It is idempotent and never reports "already stopped".
func (c *Controller) Shutdown() error {
	switch c.state {
	case Uninitialized, Stopped:
		return nil
	}
	if c.channel != nil {
		if err := c.stop(); err != nil {
			c.state = Failed
			return fmt.Errorf("advertising stop: %w", err)
		}
	}
	c.state = Stopped
	return nil
}

// Close shuts down and releases the channel.
func (c *Controller) Close() error {
	err := c.Shutdown()
	c.release()
	return err
}

func (c *Controller) create() error {
	ch, err := c.radio.CreateChannel(c.params)
	if err != nil {
		c.state = Failed
		return fmt.Errorf("advertising create: %w", err)
	}
	c.channel = ch
	c.state = Created
	return nil
}

func (c *Controller) stop() error {
	err := c.channel.Stop()
	if errors.Is(err, radio.ErrAlreadyStopped) {
		return nil
	}
	return err
}

func (c *Controller) release() {
	if c.channel == nil {
		return
	}
	if err := c.channel.Close(); err != nil && !errors.Is(err, radio.ErrClosed) {
		c.logger.Warn("advertising: release channel", "error", err)
	}
	c.channel = nil
}

func (c *Controller) fail(step string, err error) error {
	c.state = Failed
	return fmt.Errorf("advertising %s: %w", step, err)
}
