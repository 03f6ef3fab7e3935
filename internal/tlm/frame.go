// Package tlm encodes and decodes the 14-byte Eddystone-TLM frame the beacon broadcasts.
//
// Layout (all multi-byte fields big-endian):
//
//	[0]     frame type 0x20
//	[1]     version 0x00
//	[2:4]   humidity carried in the battery slot, round(%RH * 33) "mV"
//	[4:6]   temperature, signed 8.8 fixed point
//	[6:10]  advertisement count
//	[10:14] uptime in deciseconds
package tlm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	FrameType    = 0x20
	FrameVersion = 0x00
	FrameLen     = 14

	// HumidityScale maps 0..100 %RH onto 0..3300 in the battery voltage slot.
	HumidityScale = 33
	// TemperatureScale is the 8.8 fixed point factor.
	TemperatureScale = 256
)

// EddystoneServiceUUID is the 16-bit service UUID the frame is broadcast under.
const EddystoneServiceUUID uint16 = 0xFEAA

var (
	ErrShortFrame = errors.New("tlm: frame too short")
	ErrFrameType  = errors.New("tlm: not a telemetry frame")
)

// Reading is one temperature/humidity sample.
type Reading struct {
	TemperatureC float32
	HumidityPct  float32
}

// Frame is an encoded telemetry frame. It is a value type, copies are independent.
type Frame [FrameLen]byte

func (f Frame) Bytes() []byte {
	out := make([]byte, FrameLen)
	copy(out, f[:])
	return out
}

func (f Frame) HumidityField() uint16    { return binary.BigEndian.Uint16(f[2:4]) }
func (f Frame) TemperatureField() uint16 { return binary.BigEndian.Uint16(f[4:6]) }
func (f Frame) Count() uint32            { return binary.BigEndian.Uint32(f[6:10]) }
func (f Frame) UptimeDeciseconds() uint32 {
	return binary.BigEndian.Uint32(f[10:14])
}

func (f Frame) String() string { return fmt.Sprintf("% X", f[:]) }

// Encode builds a frame from r, advancing *counter by one and storing the new value.
// Out of range readings are truncated by the fixed point conversions, never rejected.
func Encode(r Reading, counter *uint32, uptimeMs uint32) Frame {
	var f Frame
	f[0] = FrameType
	f[1] = FrameVersion
	binary.BigEndian.PutUint16(f[2:4], humidityField(r.HumidityPct))
	binary.BigEndian.PutUint16(f[4:6], temperatureField(r.TemperatureC))

	*counter++
	binary.BigEndian.PutUint32(f[6:10], *counter)
	binary.BigEndian.PutUint32(f[10:14], uptimeMs/100)
	return f
}

// Conversions go through int64 so that out of range values wrap the same way on every
// platform instead of hitting Go's implementation-defined float to uint conversion.
func humidityField(pct float32) uint16 {
	return uint16(toInt64(math.Round(float64(pct) * HumidityScale)))
}

func temperatureField(c float32) uint16 {
	return uint16(int16(toInt64(math.Trunc(float64(c) * TemperatureScale))))
}

func toInt64(v float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	if v <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(v)
}
