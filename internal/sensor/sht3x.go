package sensor

import (
	"fmt"
	"io"
	"log/slog"

	"cloudpico-beacon/internal/tlm"

	"github.com/juju/errors"
	"tinygo.org/x/drivers/sht3x"
)

type sht3xReader interface {
	ReadTemperatureHumidity() (int32, int16, error)
}

// SHT3x is a Sensirion SHT30/31/35 read in single-shot mode.
type SHT3x struct {
	dev    sht3xReader
	closer io.Closer
	logger *slog.Logger
}

// OpenSHT3x checks the sensor with one measurement; a silent device is ErrNotReady.
func OpenSHT3x(busName string, addr uint16, logger *slog.Logger) (*SHT3x, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bus, err := openBus(busName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	dev := sht3x.New(tinygoBus{bus: bus})
	if addr != 0 {
		dev.Address = addr
	}

	s := &SHT3x{dev: &dev, closer: bus, logger: logger}
	if _, _, err := s.dev.ReadTemperatureHumidity(); err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("%w: sht3x first read addr=0x%02X: %v", ErrNotReady, dev.Address, err)
	}
	logger.Info("sensor: sht3x ready", "bus", busName, "address", dev.Address)
	return s, nil
}

func (s *SHT3x) ReadSample() (tlm.Reading, error) {
	milliC, centiPct, err := s.dev.ReadTemperatureHumidity()
	if err != nil {
		return tlm.Reading{}, &Error{Kind: FetchFailed, Err: errors.Annotate(err, "sht3x measure")}
	}
	return tlm.Reading{
		TemperatureC: float32(milliC) / 1000,
		HumidityPct:  float32(centiPct) / 100,
	}, nil
}

func (s *SHT3x) Close() error {
	if s.closer == nil {
		return nil
	}
	return errors.Trace(s.closer.Close())
}
