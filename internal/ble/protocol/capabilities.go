package protocol

import (
	"encoding/binary"
	"fmt"
)

// Capability flags.
const (
	CapVariableAdvInterval uint8 = 0x01
	CapVariableTxPower     uint8 = 0x02
)

// Supported frame type bits.
const (
	SupportsUID uint16 = 0x0001
	SupportsURL uint16 = 0x0002
	SupportsTLM uint16 = 0x0004
	SupportsEID uint16 = 0x0008
)

const capabilitiesHeaderLen = 6

// Capabilities is the read-only descriptor of the configuration service.
type Capabilities struct {
	Version         uint8
	MaxSlots        uint8
	MaxEIDSlots     uint8
	Flags           uint8
	SupportedFrames uint16
	TxPowerLevels   []int8
}

// DefaultCapabilities returns the descriptor of a beacon with slots slots
// that supports every frame type and variable interval and power.
func DefaultCapabilities(slots int, txPowerLevels []int8) Capabilities {
	levels := make([]int8, len(txPowerLevels))
	copy(levels, txPowerLevels)
	return Capabilities{
		Version:         0x00,
		MaxSlots:        uint8(slots),
		MaxEIDSlots:     uint8(slots),
		Flags:           CapVariableAdvInterval | CapVariableTxPower,
		SupportedFrames: SupportsUID | SupportsURL | SupportsTLM | SupportsEID,
		TxPowerLevels:   levels,
	}
}

// Bytes encodes the descriptor:
//
//	[version][max slots][max EID slots][flags][frame types BE16][power levels...]
func (c Capabilities) Bytes() []byte {
	b := make([]byte, capabilitiesHeaderLen+len(c.TxPowerLevels))
	b[0] = c.Version
	b[1] = c.MaxSlots
	b[2] = c.MaxEIDSlots
	b[3] = c.Flags
	binary.BigEndian.PutUint16(b[4:6], c.SupportedFrames)
	for i, p := range c.TxPowerLevels {
		b[capabilitiesHeaderLen+i] = byte(p)
	}
	return b
}

// ParseCapabilities decodes a descriptor produced by Bytes.
func ParseCapabilities(b []byte) (Capabilities, error) {
	if len(b) < capabilitiesHeaderLen {
		return Capabilities{}, fmt.Errorf("protocol: capabilities of %d bytes", len(b))
	}
	c := Capabilities{
		Version:         b[0],
		MaxSlots:        b[1],
		MaxEIDSlots:     b[2],
		Flags:           b[3],
		SupportedFrames: binary.BigEndian.Uint16(b[4:6]),
	}
	for _, p := range b[capabilitiesHeaderLen:] {
		c.TxPowerLevels = append(c.TxPowerLevels, int8(p))
	}
	return c, nil
}
