package fault

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/gpio-cdev-go"
	gpio_mock "github.com/temoto/gpio-cdev-go/mock"
)

func TestGPIOOutput(t *testing.T) {
	var written []byte
	lines := &gpio_mock.MockLines{}
	lines.On("SetFunc", uint32(17)).Return(gpio.LineSetFunc(func(v byte) { written = append(written, v) }))
	lines.On("Flush").Return(nil)
	lines.On("Close").Return(nil)
	chip := &gpio_mock.MockChip{}
	chip.On("Close").Return(nil)

	out := newGPIOOutput(chip, lines, 17)
	require.NoError(t, out.Set(true))
	require.NoError(t, out.Set(false))
	require.NoError(t, out.Close())

	assert.Equal(t, []byte{1, 0}, written)
	lines.AssertNumberOfCalls(t, "Flush", 2)
	lines.AssertExpectations(t)
	chip.AssertExpectations(t)
}

func TestGPIOOutput_FlushError(t *testing.T) {
	lines := &gpio_mock.MockLines{}
	lines.On("SetFunc", uint32(4)).Return(gpio.LineSetFunc(func(byte) {}))
	lines.On("Flush").Return(errors.New("ioctl: device busy"))
	chip := &gpio_mock.MockChip{}

	out := newGPIOOutput(chip, lines, 4)
	err := out.Set(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gpio flush")
}

func TestGPIOOutput_DrivesIndicator(t *testing.T) {
	var written []byte
	lines := &gpio_mock.MockLines{}
	lines.On("SetFunc", uint32(17)).Return(gpio.LineSetFunc(func(v byte) { written = append(written, v) }))
	lines.On("Flush").Return(nil)

	ind := NewIndicator(newGPIOOutput(&gpio_mock.MockChip{}, lines, 17), Policy{Repeat: 1}, nil)
	require.NoError(t, ind.Indicate(context.Background(), LEDConfig))

	assert.Equal(t, []byte{0, 1, 0, 1, 0}, written)
}

func TestOpenGPIO_MissingChip(t *testing.T) {
	_, err := OpenGPIO("/dev/does-not-exist-gpiochip", 17)
	require.Error(t, err)
	assert.Equal(t, LEDInit, CodeOf(err, None))
}
