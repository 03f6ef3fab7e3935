package sensor

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"cloudpico-beacon/internal/tlm"

	"github.com/juju/errors"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

const bme280DefaultAddress = 0x76

var errNoHumidity = errors.New("device has no humidity channel")

type envSensor interface {
	Sense(e *physic.Env) error
	Halt() error
	String() string
}

// BME280 is a Bosch BME280 (or BMP280, which lacks humidity) read through periph.io.
type BME280 struct {
	dev         envSensor
	closer      io.Closer
	hasHumidity bool
}

func OpenBME280(busName string, addr uint16, logger *slog.Logger) (*BME280, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == 0 {
		addr = bme280DefaultAddress
	}
	bus, err := openBus(busName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("%w: bmxx80 addr=0x%02X: %v", ErrNotReady, addr, err)
	}
	s := newBME280(dev, bus)
	if !s.hasHumidity {
		logger.Warn("sensor: device reports no humidity, every sample will fail", "device", dev.String())
	}
	logger.Info("sensor: bmxx80 ready", "bus", busName, "address", addr, "device", dev.String())
	return s, nil
}

func newBME280(dev envSensor, closer io.Closer) *BME280 {
	return &BME280{
		dev:         dev,
		closer:      closer,
		hasHumidity: strings.HasPrefix(dev.String(), "BME280"),
	}
}

func (s *BME280) ReadSample() (tlm.Reading, error) {
	var env physic.Env
	if err := s.dev.Sense(&env); err != nil {
		return tlm.Reading{}, &Error{Kind: FetchFailed, Err: errors.Annotate(err, "bmxx80 sense")}
	}
	if !s.hasHumidity {
		return tlm.Reading{}, &Error{Kind: HumidityReadFailed, Err: errNoHumidity}
	}
	// env.Humidity is fixed point at 0.00001 %rH.
	return tlm.Reading{
		TemperatureC: float32(env.Temperature.Celsius()),
		HumidityPct:  float32(float64(env.Humidity) / 100000),
	}, nil
}

func (s *BME280) Close() error {
	err := s.dev.Halt()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return errors.Trace(err)
}
