package beacon

import (
	"fmt"
	"log/slog"

	"github.com/chaz8081/eddystone-beacon/internal/access"
	"github.com/chaz8081/eddystone-beacon/internal/ble/crypto"
	"github.com/chaz8081/eddystone-beacon/internal/ble/protocol"
	"github.com/chaz8081/eddystone-beacon/internal/slot"
)

// Params is everything the beacon persists across restarts. The ECDH key
// pair is deliberately absent: it is regenerated on every boot.
type Params struct {
	ActiveSlot        int
	LockState         access.State
	UnlockKey         access.Key
	RemainConnectable bool
	RadioPowerLevels  []int8
	AdvPowerLevels    []int8
	Slots             []SlotParams
}

// SlotParams is the persisted form of one slot.
type SlotParams struct {
	Type             protocol.FrameType
	Interval         uint16
	RadioTxPower     int8
	AdvTxPower       int8
	Frame            []byte // length byte onward, as returned by Frame.Bytes
	IdentityKey      crypto.IdentityKey
	RotationExponent uint8
}

// ParamStore loads and saves Params. LoadParams reports false when
// nothing has been saved yet.
type ParamStore interface {
	LoadParams() (Params, bool, error)
	SaveParams(Params) error
}

// Params exports the current state.
func (s *Service) Params() Params {
	levels := s.store.Levels()
	p := Params{
		ActiveSlot:        s.activeSlot,
		LockState:         s.lock.State(),
		UnlockKey:         s.lock.Key(),
		RemainConnectable: s.remainConnectable,
		RadioPowerLevels:  append([]int8(nil), levels.Radio...),
		AdvPowerLevels:    append([]int8(nil), levels.Adv...),
	}
	for _, sl := range s.store.All() {
		p.Slots = append(p.Slots, SlotParams{
			Type:             sl.Type,
			Interval:         sl.Interval,
			RadioTxPower:     sl.RadioTxPower,
			AdvTxPower:       sl.AdvTxPower,
			Frame:            append([]byte(nil), sl.Frame.Bytes()...),
			IdentityKey:      sl.IdentityKey,
			RotationExponent: sl.Rotation.Exponent,
		})
	}
	return p
}

// Restore imports p. Either all of p is applied or, on error, nothing.
func (s *Service) Restore(p Params) error {
	if len(p.Slots) != s.store.Len() {
		return fmt.Errorf("beacon: params hold %d slots, beacon has %d", len(p.Slots), s.store.Len())
	}
	if p.ActiveSlot < 0 || p.ActiveSlot >= len(p.Slots) {
		return fmt.Errorf("beacon: active slot %d out of range", p.ActiveSlot)
	}
	if !p.LockState.Valid() {
		return fmt.Errorf("beacon: invalid lock state %d", p.LockState)
	}
	levels := slot.PowerLevels{Radio: p.RadioPowerLevels, Adv: p.AdvPowerLevels}
	if err := levels.Validate(); err != nil {
		return fmt.Errorf("beacon: %w", err)
	}
	if len(levels.Radio) != len(s.store.Levels().Radio) {
		return fmt.Errorf("beacon: params hold %d power levels, beacon has %d", len(levels.Radio), len(s.store.Levels().Radio))
	}

	slots := make([]slot.Slot, len(p.Slots))
	for i, sp := range p.Slots {
		sl := slot.Slot{
			Type:         sp.Type,
			Interval:     sp.Interval,
			RadioTxPower: sp.RadioTxPower,
			AdvTxPower:   sp.AdvTxPower,
			IdentityKey:  sp.IdentityKey,
			Rotation:     crypto.Rotation{Exponent: sp.RotationExponent},
		}
		if err := sl.Frame.SetBytes(sp.Frame); err != nil {
			return fmt.Errorf("beacon: slot %d: %w", i, err)
		}
		slots[i] = sl
	}
	if err := s.store.Restore(slots); err != nil {
		return fmt.Errorf("beacon: %w", err)
	}
	if err := s.store.SetLevels(levels); err != nil {
		return fmt.Errorf("beacon: %w", err)
	}
	if err := s.lock.Restore(p.LockState, p.UnlockKey); err != nil {
		return fmt.Errorf("beacon: %w", err)
	}
	s.activeSlot = p.ActiveSlot
	s.remainConnectable = p.RemainConnectable
	s.caps = protocol.DefaultCapabilities(s.store.Len(), levels.Radio)
	return nil
}

// save writes the current params to the param store, if there is one.
func (s *Service) save() {
	if s.params == nil {
		return
	}
	if err := s.params.SaveParams(s.Params()); err != nil {
		slog.Error("[BEACON] save params failed", "error", err)
	}
}
