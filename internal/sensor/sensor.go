// Package sensor reads temperature and humidity from an I2C sensor or a simulation.
package sensor

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloudpico-beacon/internal/fault"
	"cloudpico-beacon/internal/tlm"
)

// ErrNotReady is returned when the device does not answer at startup.
var ErrNotReady = errors.New("sensor: device not ready")

// Kind is the stage of a sample read that failed.
type Kind int

const (
	FetchFailed Kind = iota + 1
	TempReadFailed
	HumidityReadFailed
)

func (k Kind) String() string {
	switch k {
	case FetchFailed:
		return "fetch"
	case TempReadFailed:
		return "temperature read"
	case HumidityReadFailed:
		return "humidity read"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Fault maps the failed stage onto the fault vocabulary.
func (k Kind) Fault() fault.Code {
	switch k {
	case FetchFailed:
		return fault.SensorFetchFailed
	case TempReadFailed:
		return fault.SensorTempReadFailed
	case HumidityReadFailed:
		return fault.SensorHumidityReadFailed
	}
	return fault.SensorFetchFailed
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("sensor %s failed: %v", e.Kind, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// FaultOf returns the fault code for a ReadSample or Open error.
func FaultOf(err error) fault.Code {
	if err == nil {
		return fault.None
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind.Fault()
	}
	if errors.Is(err, ErrNotReady) {
		return fault.SensorNotReady
	}
	return fault.SensorFetchFailed
}

// Sensor produces one reading per call.
type Sensor interface {
	ReadSample() (tlm.Reading, error)
	Close() error
}

type Driver string

const (
	DriverSHT3x  Driver = "sht3x"
	DriverBME280 Driver = "bme280"
	DriverSim    Driver = "sim"
)

func ParseDriver(s string) (Driver, error) {
	switch d := Driver(strings.ToLower(strings.TrimSpace(s))); d {
	case DriverSHT3x, DriverBME280, DriverSim:
		return d, nil
	}
	return "", fmt.Errorf("invalid sensor driver %q (allowed: sht3x, bme280, sim)", s)
}

type Options struct {
	Driver  Driver
	Bus     string // periph bus name, "" for the default bus
	Address uint16 // 0 for the driver default
}

// Open initialises the host, opens the I2C bus and checks the device answers.
// A device that does not answer yields an error wrapping ErrNotReady.
func Open(opts Options, logger *slog.Logger) (Sensor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch opts.Driver {
	case DriverSim:
		logger.Info("sensor: using simulated readings")
		return NewSim(), nil
	case DriverBME280:
		return OpenBME280(opts.Bus, opts.Address, logger)
	case DriverSHT3x, "":
		return OpenSHT3x(opts.Bus, opts.Address, logger)
	}
	return nil, fmt.Errorf("sensor: unknown driver %q", opts.Driver)
}
