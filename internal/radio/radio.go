// Package radio is the boundary to the platform Bluetooth stack: enabling the adapter
// and allocating broadcast channels that carry a telemetry frame.
package radio

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloudpico-beacon/internal/tlm"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyStopped is returned by Channel.Stop when nothing is transmitting.
	// It is an outcome, not a failure.
	ErrAlreadyStopped = errors.New("radio: channel already stopped")
	ErrAlreadyStarted = errors.New("radio: channel already started")
	ErrNoResources    = errors.New("radio: no free advertising set")
	ErrNotEnabled     = errors.New("radio: adapter not enabled")
	ErrClosed         = errors.New("radio: channel closed")
)

// Kind selects how a channel carries the frame.
type Kind int

const (
	// Broadcast is connectionless Eddystone-TLM service data.
	Broadcast Kind = iota
	// GATTNotify is connectable advertising plus an Environmental Sensing service whose
	// temperature and humidity characteristics are notified on every update.
	GATTNotify
)

func (k Kind) String() string {
	switch k {
	case Broadcast:
		return "broadcast"
	case GATTNotify:
		return "gatt-notify"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Params are the radio parameters of one channel.
type Params struct {
	Kind      Kind
	LocalName string
	Interval  time.Duration
	// LongRange asks for the coded PHY where the controller supports it.
	LongRange bool
	// ServiceUUID overrides the GATT service UUID, zero means Environmental Sensing.
	ServiceUUID uuid.UUID
}

// ParseMode maps a BROADCAST_MODE value onto channel kind and PHY.
func ParseMode(s string) (Kind, bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eddystone", "broadcast":
		return Broadcast, false, nil
	case "eddystone-long-range", "long-range":
		return Broadcast, true, nil
	case "gatt", "gatt-notify":
		return GATTNotify, false, nil
	}
	return Broadcast, false, fmt.Errorf("invalid broadcast mode %q (allowed: eddystone, eddystone-long-range, gatt)", s)
}

// Radio is the Bluetooth stack. Enable reports readiness asynchronously through onReady,
// at most once; a synchronous error means onReady will never be called.
type Radio interface {
	Enable(onReady func(error)) error
	CreateChannel(p Params) (Channel, error)
}

// Channel is one advertising resource. All methods complete synchronously.
type Channel interface {
	Kind() Kind
	SetPayload(f tlm.Frame) error
	Start() error
	// Stop returns ErrAlreadyStopped when the channel is not transmitting.
	Stop() error
	// Close releases the resource; the channel is unusable afterwards.
	Close() error
}
