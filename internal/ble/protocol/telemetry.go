package protocol

import (
	"encoding/binary"
	"math"
)

// TLMVersion is the version byte of unencrypted TLM frames.
const TLMVersion = 0x00

// TemperatureUnsupported is the 8.8 fixed-point value advertised when the
// beacon has no temperature sensor (-128 °C).
const TemperatureUnsupported int16 = math.MinInt16

// Telemetry is the unencrypted TLM record. All fields are big-endian on air.
type Telemetry struct {
	Version       uint8
	BatteryMV     uint16 // 0 when not supported
	Temperature   int16  // 8.8 fixed point °C
	PDUCount      uint32 // advertising PDUs since boot
	TimeSinceBoot uint32 // 0.1 s units
}

// FixedTemperature converts degrees Celsius to 8.8 fixed point, saturating
// at the representable range.
func FixedTemperature(celsius float64) int16 {
	v := math.Round(celsius * 256)
	switch {
	case math.IsNaN(v):
		return TemperatureUnsupported
	case v > math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16 + 1
	}
	return int16(v)
}

// Celsius converts the 8.8 fixed-point temperature back to degrees.
func (t Telemetry) Celsius() float64 { return float64(t.Temperature) / 256 }

func (t Telemetry) payload() [TLMPayloadLength]byte {
	var b [TLMPayloadLength]byte
	binary.BigEndian.PutUint16(b[0:2], t.BatteryMV)
	binary.BigEndian.PutUint16(b[2:4], uint16(t.Temperature))
	binary.BigEndian.PutUint32(b[4:8], t.PDUCount)
	binary.BigEndian.PutUint32(b[8:12], t.TimeSinceBoot)
	return b
}

func parseTelemetry(b []byte) Telemetry {
	return Telemetry{
		BatteryMV:     binary.BigEndian.Uint16(b[0:2]),
		Temperature:   int16(binary.BigEndian.Uint16(b[2:4])),
		PDUCount:      binary.BigEndian.Uint32(b[4:8]),
		TimeSinceBoot: binary.BigEndian.Uint32(b[8:12]),
	}
}
