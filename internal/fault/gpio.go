package fault

import (
	"io"

	"github.com/juju/errors"
	"github.com/temoto/gpio-cdev-go"
)

const gpioConsumer = "cloudpico-beacon"

// GPIOOutput drives an LED on one line of a Linux GPIO character device.
type GPIOOutput struct {
	chip  io.Closer
	lines gpio.Lineser
	set   gpio.LineSetFunc
}

// OpenGPIO requests line of chipPath (e.g. /dev/gpiochip0) as an output.
// Failures carry LEDInit or LEDConfig, matching what the LED could not do.
func OpenGPIO(chipPath string, line uint32) (*GPIOOutput, error) {
	chip, err := gpio.Open(chipPath, gpioConsumer)
	if err != nil {
		return nil, New(LEDInit, errors.Annotatef(err, "gpio open %s", chipPath))
	}
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, gpioConsumer, line)
	if err != nil {
		_ = chip.Close()
		return nil, New(LEDConfig, errors.Annotatef(err, "gpio request line %d on %s", line, chipPath))
	}
	return newGPIOOutput(chip, lines, line), nil
}

func newGPIOOutput(chip io.Closer, lines gpio.Lineser, line uint32) *GPIOOutput {
	return &GPIOOutput{
		chip:  chip,
		lines: lines,
		set:   lines.SetFunc(line),
	}
}

func (o *GPIOOutput) Set(on bool) error {
	var v byte
	if on {
		v = 1
	}
	o.set(v)
	return errors.Annotate(o.lines.Flush(), "gpio flush")
}

func (o *GPIOOutput) Close() error {
	err := o.lines.Close()
	if cerr := o.chip.Close(); err == nil {
		err = cerr
	}
	return errors.Trace(err)
}
