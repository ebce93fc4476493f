// Package protocol implements the Eddystone advertising frame formats: the
// fixed-size per-slot frame buffer, the UID, URL, TLM and EID encoders, and
// the capabilities descriptor exposed by the configuration service.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ServiceUUID16 is the 16-bit Eddystone service UUID.
const ServiceUUID16 uint16 = 0xFEAA

// FrameSize is the size of one slot's frame buffer.
const FrameSize = 32

// FrameType is the Eddystone frame type tag.
type FrameType uint8

const (
	FrameTypeUID FrameType = 0x00
	FrameTypeURL FrameType = 0x10
	FrameTypeTLM FrameType = 0x20
	FrameTypeEID FrameType = 0x30
)

// Payload sizes per frame type.
const (
	UIDLength        = 16 // 10-byte namespace + 6-byte instance
	URLMaxLength     = 18 // scheme byte + up to 17 encoded bytes
	TLMPayloadLength = 12
	EIDLength        = 8
)

// Byte offsets within a Frame.
const (
	lengthOffset  = 0
	advOffset     = 1
	typeOffset    = 3
	powerOffset   = 4
	payloadOffset = 5

	// frameOverhead is the part of the length byte that is not payload:
	// service UUID (2), frame type and tx power.
	frameOverhead = 4
)

// ErrInvalidFrame is returned when a frame buffer or field set does not
// describe a well-formed Eddystone frame.
var ErrInvalidFrame = errors.New("protocol: invalid frame")

// String returns the conventional name of the frame type.
func (t FrameType) String() string {
	switch t {
	case FrameTypeUID:
		return "UID"
	case FrameTypeURL:
		return "URL"
	case FrameTypeTLM:
		return "TLM"
	case FrameTypeEID:
		return "EID"
	default:
		return fmt.Sprintf("FrameType(0x%02x)", uint8(t))
	}
}

// Valid reports whether t is one of the four Eddystone frame types.
func (t FrameType) Valid() bool {
	switch t {
	case FrameTypeUID, FrameTypeURL, FrameTypeTLM, FrameTypeEID:
		return true
	}
	return false
}

// ParseFrameType maps a frame type name ("uid", "URL", ...) to its tag.
func ParseFrameType(name string) (FrameType, error) {
	switch name {
	case "uid", "UID":
		return FrameTypeUID, nil
	case "url", "URL":
		return FrameTypeURL, nil
	case "tlm", "TLM":
		return FrameTypeTLM, nil
	case "eid", "EID":
		return FrameTypeEID, nil
	}
	return 0, fmt.Errorf("protocol: unknown frame type %q", name)
}

// Frame is one slot's raw frame buffer:
//
//	[length][0xAA 0xFE][type][tx power][payload...]
//
// The length byte counts every byte after itself, so it is the payload
// length plus four. All accessors stay within the buffer.
type Frame [FrameSize]byte

// Fields is the decoded form of a Frame.
type Fields struct {
	Type    FrameType
	TxPower int8 // TLM frames carry the TLM version here
	Payload []byte
}

// Encode builds a frame from its fields, checking the payload size of the
// frame type.
func Encode(fields Fields) (Frame, error) {
	var f Frame
	if err := checkPayload(fields.Type, len(fields.Payload)); err != nil {
		return f, err
	}
	f.set(fields.Type, byte(fields.TxPower), fields.Payload)
	return f, nil
}

// Decode returns the fields held in the frame.
func (f *Frame) Decode() (Fields, error) {
	if err := f.Validate(); err != nil {
		return Fields{}, err
	}
	payload := make([]byte, f.PayloadLength())
	copy(payload, f.Payload())
	return Fields{Type: f.Type(), TxPower: f.TxPower(), Payload: payload}, nil
}

// Validate checks that the length byte, service UUID and type tag are
// consistent with each other.
func (f *Frame) Validate() error {
	n := int(f[lengthOffset])
	if n < frameOverhead || n > FrameSize-1 {
		return fmt.Errorf("%w: length byte %d", ErrInvalidFrame, n)
	}
	if binary.LittleEndian.Uint16(f[advOffset:typeOffset]) != ServiceUUID16 {
		return fmt.Errorf("%w: service UUID %02x%02x", ErrInvalidFrame, f[2], f[1])
	}
	return checkPayload(f.Type(), n-frameOverhead)
}

func checkPayload(t FrameType, n int) error {
	var ok bool
	switch t {
	case FrameTypeUID:
		ok = n == UIDLength
	case FrameTypeURL:
		ok = n >= 1 && n <= URLMaxLength
	case FrameTypeTLM:
		ok = n == TLMPayloadLength
	case FrameTypeEID:
		ok = n == EIDLength
	default:
		return fmt.Errorf("%w: unknown type %s", ErrInvalidFrame, t)
	}
	if !ok {
		return fmt.Errorf("%w: %s payload of %d bytes", ErrInvalidFrame, t, n)
	}
	return nil
}

func (f *Frame) set(t FrameType, power byte, payload []byte) {
	*f = Frame{}
	f[lengthOffset] = byte(len(payload) + frameOverhead)
	// The UUID goes on air little-endian.
	binary.LittleEndian.PutUint16(f[advOffset:typeOffset], ServiceUUID16)
	f[typeOffset] = byte(t)
	f[powerOffset] = power
	copy(f[payloadOffset:], payload)
}

// length returns the length byte clamped to the buffer.
func (f *Frame) length() int {
	n := int(f[lengthOffset])
	if n > FrameSize-1 {
		return FrameSize - 1
	}
	return n
}

// Length returns the total advertisement length (the length byte).
func (f *Frame) Length() int { return int(f[lengthOffset]) }

// Adv returns the advertisement-relevant bytes: everything after the
// length byte, starting at the service UUID.
func (f *Frame) Adv() []byte { return f[advOffset : advOffset+f.length()] }

// ServiceData returns the Eddystone service data carried in the
// advertisement: frame type, tx power and payload.
func (f *Frame) ServiceData() []byte {
	n := f.length()
	if n < 2 {
		return nil
	}
	return f[typeOffset : advOffset+n]
}

// ServiceDataLength returns the length of ServiceData: the payload
// length plus 2, while the length byte counts the payload plus 4.
func (f *Frame) ServiceDataLength() int { return len(f.ServiceData()) }

// Payload returns the type-specific payload, after the tx power byte.
func (f *Frame) Payload() []byte {
	n := f.length()
	if n < frameOverhead {
		return nil
	}
	return f[payloadOffset : advOffset+n]
}

// PayloadLength returns the length of Payload.
func (f *Frame) PayloadLength() int { return len(f.Payload()) }

// Type returns the frame type tag.
func (f *Frame) Type() FrameType { return FrameType(f[typeOffset]) }

// TxPower returns the calibrated tx power byte.
func (f *Frame) TxPower() int8 { return int8(f[powerOffset]) }

// SetTxPower updates the tx power byte in place. TLM frames keep their
// version byte in that position and are left untouched.
func (f *Frame) SetTxPower(p int8) {
	if f.Type() == FrameTypeTLM {
		return
	}
	f[powerOffset] = byte(p)
}

// Bytes returns the length byte followed by the advertisement bytes.
func (f *Frame) Bytes() []byte { return f[:advOffset+f.length()] }

// SetBytes loads a raw frame, as produced by Bytes, after validating it.
func (f *Frame) SetBytes(raw []byte) error {
	if len(raw) == 0 || len(raw) > FrameSize {
		return fmt.Errorf("%w: raw frame of %d bytes", ErrInvalidFrame, len(raw))
	}
	var tmp Frame
	copy(tmp[:], raw)
	if err := tmp.Validate(); err != nil {
		return err
	}
	if tmp.length()+advOffset != len(raw) {
		return fmt.Errorf("%w: length byte %d for %d bytes", ErrInvalidFrame, tmp[0], len(raw))
	}
	*f = tmp
	return nil
}

// SetUID encodes a UID frame.
func (f *Frame) SetUID(txPower int8, uid [UIDLength]byte) {
	f.set(FrameTypeUID, byte(txPower), uid[:])
}

// UID returns the namespace+instance of a UID frame.
func (f *Frame) UID() (uid [UIDLength]byte, ok bool) {
	if f.Type() != FrameTypeUID || f.PayloadLength() != UIDLength {
		return uid, false
	}
	copy(uid[:], f.Payload())
	return uid, true
}

// SetURL encodes a URL frame from already encoded data: the scheme byte
// followed by the tokenized URL.
func (f *Frame) SetURL(txPower int8, encoded []byte) error {
	if err := checkPayload(FrameTypeURL, len(encoded)); err != nil {
		return err
	}
	f.set(FrameTypeURL, byte(txPower), encoded)
	return nil
}

// SetURLString encodes url and stores it as a URL frame.
func (f *Frame) SetURLString(txPower int8, url string) error {
	encoded, err := EncodeURL(url)
	if err != nil {
		return err
	}
	return f.SetURL(txPower, encoded)
}

// SetEID encodes an EID frame.
func (f *Frame) SetEID(txPower int8, eid [EIDLength]byte) {
	f.set(FrameTypeEID, byte(txPower), eid[:])
}

// EID returns the ephemeral identifier of an EID frame.
func (f *Frame) EID() (eid [EIDLength]byte, ok bool) {
	if f.Type() != FrameTypeEID || f.PayloadLength() != EIDLength {
		return eid, false
	}
	copy(eid[:], f.Payload())
	return eid, true
}

// SetTLM encodes an unencrypted TLM frame.
func (f *Frame) SetTLM(t Telemetry) {
	payload := t.payload()
	f.set(FrameTypeTLM, t.Version, payload[:])
}

// TLM decodes the telemetry of a TLM frame.
func (f *Frame) TLM() (Telemetry, bool) {
	if f.Type() != FrameTypeTLM || f.PayloadLength() != TLMPayloadLength {
		return Telemetry{}, false
	}
	t := parseTelemetry(f.Payload())
	t.Version = f[powerOffset]
	return t, true
}
