package tlm

import (
	"encoding/binary"
	"fmt"
)

// Telemetry is a decoded frame in engineering units.
type Telemetry struct {
	Version            byte
	TemperatureC       float64
	HumidityPct        float64
	AdvertisementCount uint32
	UptimeSeconds      float64
}

// Decode parses service data received by a scanner. Trailing bytes are ignored.
func Decode(data []byte) (Telemetry, error) {
	if len(data) < FrameLen {
		return Telemetry{}, fmt.Errorf("%w: %d bytes, need %d", ErrShortFrame, len(data), FrameLen)
	}
	if data[0] != FrameType {
		return Telemetry{}, fmt.Errorf("%w: type 0x%02X", ErrFrameType, data[0])
	}
	var f Frame
	copy(f[:], data[:FrameLen])
	return f.Telemetry(), nil
}

// Telemetry converts the fixed point fields back to engineering units.
func (f Frame) Telemetry() Telemetry {
	return Telemetry{
		Version:            f[1],
		TemperatureC:       float64(int16(f.TemperatureField())) / TemperatureScale,
		HumidityPct:        float64(f.HumidityField()) / HumidityScale,
		AdvertisementCount: f.Count(),
		UptimeSeconds:      float64(binary.BigEndian.Uint32(f[10:14])) / 10,
	}
}
