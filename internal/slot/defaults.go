package slot

import (
	"fmt"

	"github.com/chaz8081/eddystone-beacon/internal/ble/crypto"
	"github.com/chaz8081/eddystone-beacon/internal/ble/protocol"
)

// MaxSlots is the largest slot count a store accepts.
const MaxSlots = 8

// Defaults is the compiled-in slot table restored by a factory reset.
// Every field holds one entry per slot.
type Defaults struct {
	Types        []protocol.FrameType
	Intervals    []uint16
	RadioTxPower []int8
	UIDs         [][protocol.UIDLength]byte
	URLs         []string
	IdentityKeys []crypto.IdentityKey
	Exponents    []uint8
}

// Len returns the slot count.
func (d Defaults) Len() int { return len(d.Types) }

// Validate checks that every column has one entry per slot.
func (d Defaults) Validate() error {
	n := d.Len()
	if n < 1 || n > MaxSlots {
		return fmt.Errorf("slot: %d slots, want 1..%d", n, MaxSlots)
	}
	cols := map[string]int{
		"intervals":     len(d.Intervals),
		"tx powers":     len(d.RadioTxPower),
		"UIDs":          len(d.UIDs),
		"URLs":          len(d.URLs),
		"identity keys": len(d.IdentityKeys),
		"exponents":     len(d.Exponents),
	}
	for name, got := range cols {
		if got != n {
			return fmt.Errorf("slot: %d default %s for %d slots", got, name, n)
		}
	}
	for i, e := range d.Exponents {
		if e > crypto.MaxRotationExponent {
			return fmt.Errorf("slot %d: rotation exponent %d exceeds %d", i, e, crypto.MaxRotationExponent)
		}
	}
	return nil
}

// PowerLevels pairs the supported radio output powers with the calibrated
// power measured at 0 m for each of them. Both are ascending.
type PowerLevels struct {
	Radio []int8
	Adv   []int8
}

// Validate checks the two tables match and are ascending.
func (p PowerLevels) Validate() error {
	if len(p.Radio) == 0 || len(p.Radio) != len(p.Adv) {
		return fmt.Errorf("slot: %d radio and %d advertised power levels", len(p.Radio), len(p.Adv))
	}
	for i := 1; i < len(p.Radio); i++ {
		if p.Radio[i] <= p.Radio[i-1] {
			return fmt.Errorf("slot: radio power levels not ascending at %d", i)
		}
	}
	return nil
}

// Index returns the first level at or above txPower, or the highest level.
func (p PowerLevels) Index(txPower int8) int {
	for i, l := range p.Radio {
		if txPower <= l {
			return i
		}
	}
	return len(p.Radio) - 1
}

// IntervalLimits is the platform's accepted advertising interval range in
// milliseconds.
type IntervalLimits struct {
	MinNonConnectable uint16
	Max               uint16
}

// Clamp maps a nonzero interval into the accepted range. Zero, meaning
// disabled, is kept.
func (l IntervalLimits) Clamp(ms uint16) uint16 {
	switch {
	case ms == 0:
		return 0
	case ms < l.MinNonConnectable:
		return l.MinNonConnectable
	case l.Max != 0 && ms > l.Max:
		return l.Max
	}
	return ms
}
