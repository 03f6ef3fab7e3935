// Package fault holds the fault code vocabulary shared by the sampling loop and the
// telemetry pipeline, and the LED indicator that blinks those codes.
package fault

import (
	"errors"
	"fmt"
)

// Code is a fault discriminant. The indicator blinks it Code times.
type Code uint8

const (
	None Code = iota
	LEDInit
	LEDConfig
	SensorNotReady
	SensorFetchFailed
	SensorTempReadFailed
	SensorHumidityReadFailed
	RadioInitFailed
)

func (c Code) String() string {
	switch c {
	case None:
		return "none"
	case LEDInit:
		return "led-init"
	case LEDConfig:
		return "led-config"
	case SensorNotReady:
		return "sensor-not-ready"
	case SensorFetchFailed:
		return "sensor-fetch-failed"
	case SensorTempReadFailed:
		return "sensor-temp-read-failed"
	case SensorHumidityReadFailed:
		return "sensor-humidity-read-failed"
	case RadioInitFailed:
		return "radio-init-failed"
	}
	return fmt.Sprintf("fault(%d)", uint8(c))
}

// Error carries a fault code and the underlying cause.
type Error struct {
	Code Code
	Err  error
}

func New(code Code, err error) *Error { return &Error{Code: code, Err: err} }

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the fault code from err. nil maps to None, errors without a code
// to fallback.
func CodeOf(err error, fallback Code) Code {
	if err == nil {
		return None
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fallback
}
