// Package slot holds the per-slot advertising configuration of a beacon
// and keeps each slot's encoded frame consistent with that configuration.
package slot

import (
	"errors"
	"fmt"
	"time"

	"github.com/chaz8081/eddystone-beacon/internal/ble/crypto"
	"github.com/chaz8081/eddystone-beacon/internal/ble/protocol"
)

// ErrInvalidSlot is returned for a slot index outside the store.
var ErrInvalidSlot = errors.New("slot: index out of range")

// Slot is one advertising slot.
type Slot struct {
	Type         protocol.FrameType
	RadioTxPower int8
	AdvTxPower   int8
	Interval     uint16 // milliseconds, 0 = disabled
	Frame        protocol.Frame
	IdentityKey  crypto.IdentityKey
	Rotation     crypto.Rotation
}

// Enabled reports whether the slot advertises at all.
func (s Slot) Enabled() bool { return s.Interval != 0 }

// TelemetrySource supplies the sensor fields of TLM frames. Each method
// receives the previous value and returns the new one.
type TelemetrySource interface {
	BatteryVoltage(prev uint16) uint16
	BeaconTemperature(prev int16) int16
}

// Store owns the slot arena. It is not safe for concurrent use; callers
// serialize access through the event loop.
type Store struct {
	slots    []Slot
	defaults Defaults
	levels   PowerLevels
	limits   IntervalLimits
	uptime   func() time.Duration

	tlm    protocol.Telemetry
	source TelemetrySource
}

// NewStore builds a store from the compiled-in defaults and factory
// resets it. uptime reports the time since boot.
func NewStore(d Defaults, levels PowerLevels, limits IntervalLimits, uptime func() time.Duration) (*Store, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := levels.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		slots:    make([]Slot, d.Len()),
		defaults: d,
		levels:   levels,
		limits:   limits,
		uptime:   uptime,
		tlm:      protocol.Telemetry{Version: protocol.TLMVersion, Temperature: protocol.TemperatureUnsupported},
	}
	if err := s.FactoryReset(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetTelemetrySource installs the battery and temperature provider.
func (s *Store) SetTelemetrySource(src TelemetrySource) { s.source = src }

// Len returns the number of slots.
func (s *Store) Len() int { return len(s.slots) }

// Levels returns the radio and calibrated advertised power tables.
func (s *Store) Levels() PowerLevels { return s.levels }

// SetLevels replaces the power tables, as read back from storage. The
// table size cannot change.
func (s *Store) SetLevels(levels PowerLevels) error {
	if err := levels.Validate(); err != nil {
		return err
	}
	if len(levels.Radio) != len(s.levels.Radio) {
		return fmt.Errorf("slot: %d power levels, want %d", len(levels.Radio), len(s.levels.Radio))
	}
	s.levels = levels
	return nil
}

// Limits returns the accepted advertising interval range.
func (s *Store) Limits() IntervalLimits { return s.limits }

// Get returns a copy of slot i.
func (s *Store) Get(i int) (Slot, error) {
	sl, err := s.slot(i)
	if err != nil {
		return Slot{}, err
	}
	return *sl, nil
}

// All returns a copy of every slot.
func (s *Store) All() []Slot {
	out := make([]Slot, len(s.slots))
	copy(out, s.slots)
	return out
}

// AnyEnabled reports whether at least one slot has a nonzero interval.
func (s *Store) AnyEnabled() bool {
	for i := range s.slots {
		if s.slots[i].Enabled() {
			return true
		}
	}
	return false
}

func (s *Store) slot(i int) (*Slot, error) {
	if i < 0 || i >= len(s.slots) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlot, i)
	}
	return &s.slots[i], nil
}

// TimeSecs returns whole seconds since boot.
func (s *Store) TimeSecs() uint32 { return uint32(s.uptime() / time.Second) }

// FactoryReset restores every slot to the compiled-in defaults and
// recomputes the EID frames.
func (s *Store) FactoryReset() error {
	d := s.defaults
	for i := range s.slots {
		sl := Slot{
			Type:         d.Types[i],
			RadioTxPower: d.RadioTxPower[i],
			AdvTxPower:   s.levels.Adv[s.levels.Index(d.RadioTxPower[i])],
			Interval:     s.limits.Clamp(d.Intervals[i]),
			IdentityKey:  d.IdentityKeys[i],
			Rotation:     crypto.Rotation{Exponent: d.Exponents[i]},
		}
		switch sl.Type {
		case protocol.FrameTypeUID:
			sl.Frame.SetUID(sl.AdvTxPower, d.UIDs[i])
		case protocol.FrameTypeURL:
			if err := sl.Frame.SetURLString(sl.AdvTxPower, d.URLs[i]); err != nil {
				return fmt.Errorf("slot %d: default URL: %w", i, err)
			}
		case protocol.FrameTypeTLM:
			sl.Frame.SetTLM(s.tlm)
		case protocol.FrameTypeEID:
			sl.Frame.SetEID(sl.AdvTxPower, [protocol.EIDLength]byte{})
			s.rotate(&sl, true)
		default:
			return fmt.Errorf("slot %d: %w: default type %s", i, protocol.ErrInvalidFrame, sl.Type)
		}
		s.slots[i] = sl
	}
	return nil
}

// SetSlot re-encodes slot i as frameType from a type-specific payload:
// 16 UID bytes, an encoded URL, nothing for TLM, or a plain 16-byte
// identity key followed by the rotation exponent for EID.
func (s *Store) SetSlot(i int, frameType protocol.FrameType, payload []byte) error {
	switch frameType {
	case protocol.FrameTypeUID:
		if len(payload) != protocol.UIDLength {
			return fmt.Errorf("%w: UID payload of %d bytes", protocol.ErrInvalidFrame, len(payload))
		}
		var uid [protocol.UIDLength]byte
		copy(uid[:], payload)
		return s.SetUID(i, uid)
	case protocol.FrameTypeURL:
		return s.SetURL(i, payload)
	case protocol.FrameTypeTLM:
		if len(payload) != 0 {
			return fmt.Errorf("%w: TLM payload of %d bytes", protocol.ErrInvalidFrame, len(payload))
		}
		return s.SetTLM(i)
	case protocol.FrameTypeEID:
		if len(payload) != crypto.IdentityKeySize+1 {
			return fmt.Errorf("%w: EID payload of %d bytes", protocol.ErrInvalidFrame, len(payload))
		}
		var ik crypto.IdentityKey
		copy(ik[:], payload)
		return s.SetEID(i, ik, payload[crypto.IdentityKeySize])
	}
	return fmt.Errorf("%w: unknown type %s", protocol.ErrInvalidFrame, frameType)
}

// SetUID makes slot i a UID slot.
func (s *Store) SetUID(i int, uid [protocol.UIDLength]byte) error {
	sl, err := s.slot(i)
	if err != nil {
		return err
	}
	sl.Frame.SetUID(sl.AdvTxPower, uid)
	sl.Type = protocol.FrameTypeUID
	return nil
}

// SetURL makes slot i a URL slot from an encoded URL (scheme byte first).
func (s *Store) SetURL(i int, encoded []byte) error {
	sl, err := s.slot(i)
	if err != nil {
		return err
	}
	var f protocol.Frame
	if err := f.SetURL(sl.AdvTxPower, encoded); err != nil {
		return err
	}
	sl.Frame = f
	sl.Type = protocol.FrameTypeURL
	return nil
}

// SetTLM makes slot i a TLM slot.
func (s *Store) SetTLM(i int) error {
	sl, err := s.slot(i)
	if err != nil {
		return err
	}
	sl.Type = protocol.FrameTypeTLM
	s.refreshTLM(sl)
	return nil
}

// SetEID makes slot i an EID slot with a new identity key and computes
// the EID for the current time.
func (s *Store) SetEID(i int, ik crypto.IdentityKey, exponent uint8) error {
	if exponent > crypto.MaxRotationExponent {
		return fmt.Errorf("slot: rotation exponent %d exceeds %d", exponent, crypto.MaxRotationExponent)
	}
	sl, err := s.slot(i)
	if err != nil {
		return err
	}
	sl.Type = protocol.FrameTypeEID
	sl.IdentityKey = ik
	sl.Rotation = crypto.Rotation{Exponent: exponent}
	sl.Frame.SetEID(sl.AdvTxPower, [protocol.EIDLength]byte{})
	s.rotate(sl, true)
	return nil
}

// Refresh brings slot i's frame up to date: TLM frames get fresh
// telemetry every time, EID frames rotate only when their period is over.
func (s *Store) Refresh(i int) error {
	sl, err := s.slot(i)
	if err != nil {
		return err
	}
	switch sl.Type {
	case protocol.FrameTypeTLM:
		s.refreshTLM(sl)
	case protocol.FrameTypeEID:
		s.rotate(sl, false)
	}
	return nil
}

// Advertisement refreshes slot i and returns a copy of its service data
// and its length.
func (s *Store) Advertisement(i int) ([]byte, int, error) {
	if err := s.Refresh(i); err != nil {
		return nil, 0, err
	}
	sl := &s.slots[i]
	data := append([]byte(nil), sl.Frame.ServiceData()...)
	return data, len(data), nil
}

// SetTxPower sets the calibrated advertised power of slot i, written in
// place into the frame.
func (s *Store) SetTxPower(i int, advTxPower int8) error {
	sl, err := s.slot(i)
	if err != nil {
		return err
	}
	sl.AdvTxPower = advTxPower
	sl.Frame.SetTxPower(advTxPower)
	return nil
}

// SetRadioTxPower snaps radioTxPower to a supported level, stores it for
// slot i along with the matching advertised power, and returns the level
// actually used.
func (s *Store) SetRadioTxPower(i int, radioTxPower int8) (int8, error) {
	sl, err := s.slot(i)
	if err != nil {
		return 0, err
	}
	idx := s.levels.Index(radioTxPower)
	sl.RadioTxPower = s.levels.Radio[idx]
	sl.AdvTxPower = s.levels.Adv[idx]
	sl.Frame.SetTxPower(sl.AdvTxPower)
	return sl.RadioTxPower, nil
}

// SetInterval sets the advertising interval of slot i, clamped to the
// accepted range, and returns the stored value.
func (s *Store) SetInterval(i int, ms uint16) (uint16, error) {
	sl, err := s.slot(i)
	if err != nil {
		return 0, err
	}
	sl.Interval = s.limits.Clamp(ms)
	return sl.Interval, nil
}

// CountPDU records one advertised PDU in the TLM counter.
func (s *Store) CountPDU() { s.tlm.PDUCount++ }

// Telemetry returns the current TLM record.
func (s *Store) Telemetry() protocol.Telemetry { return s.tlm }

// Restore replaces every slot, as read back from storage. Frames are
// validated against their declared type, and EID frames are recomputed
// since the time base restarts at boot.
func (s *Store) Restore(slots []Slot) error {
	if len(slots) != len(s.slots) {
		return fmt.Errorf("slot: restoring %d slots into a store of %d", len(slots), len(s.slots))
	}
	restored := make([]Slot, len(slots))
	for i, sl := range slots {
		if err := sl.Frame.Validate(); err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
		if sl.Frame.Type() != sl.Type {
			return fmt.Errorf("slot %d: %w: frame type %s, slot type %s", i, protocol.ErrInvalidFrame, sl.Frame.Type(), sl.Type)
		}
		if sl.Rotation.Exponent > crypto.MaxRotationExponent {
			return fmt.Errorf("slot %d: rotation exponent %d exceeds %d", i, sl.Rotation.Exponent, crypto.MaxRotationExponent)
		}
		sl.Interval = s.limits.Clamp(sl.Interval)
		if sl.Type == protocol.FrameTypeEID {
			sl.Frame.SetTxPower(sl.AdvTxPower)
			s.rotate(&sl, true)
		}
		restored[i] = sl
	}
	copy(s.slots, restored)
	return nil
}

func (s *Store) rotate(sl *Slot, force bool) {
	now := s.TimeSecs()
	r := sl.Rotation
	if force {
		r.Next = 0
	}
	eid, r, ok := r.Rotate(sl.IdentityKey, now)
	if !ok {
		return
	}
	sl.Rotation = r
	sl.Frame.SetEID(sl.AdvTxPower, eid)
}

func (s *Store) refreshTLM(sl *Slot) {
	if s.source != nil {
		s.tlm.Temperature = s.source.BeaconTemperature(s.tlm.Temperature)
		s.tlm.BatteryMV = s.source.BatteryVoltage(s.tlm.BatteryMV)
	}
	s.tlm.TimeSinceBoot = uint32(s.uptime() / (100 * time.Millisecond))
	sl.Frame.SetTLM(s.tlm)
}
