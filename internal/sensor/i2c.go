package sensor

import (
	"github.com/juju/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

func openBus(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph/init")
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Annotatef(err, "i2c open bus=%q", name)
	}
	return bus, nil
}

// tinygoBus lets tinygo.org/x/drivers devices talk through a periph.io bus.
type tinygoBus struct {
	bus i2c.Bus
}

func (b tinygoBus) Tx(addr uint16, w, r []byte) error {
	return b.bus.Tx(addr, w, r)
}

func (b tinygoBus) ReadRegister(addr uint8, reg uint8, buf []byte) error {
	return b.bus.Tx(uint16(addr), []byte{reg}, buf)
}

func (b tinygoBus) WriteRegister(addr uint8, reg uint8, buf []byte) error {
	w := make([]byte, 0, len(buf)+1)
	w = append(w, reg)
	w = append(w, buf...)
	return b.bus.Tx(uint16(addr), w, nil)
}
