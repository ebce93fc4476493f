// Package access guards the Eddystone configuration service. It holds the
// lock state machine with its challenge/token unlock protocol and the
// static table describing how each characteristic may be read or written.
// Every write is validated here before anything is applied.
package access

import (
	"errors"
	"fmt"

	"github.com/chaz8081/eddystone-beacon/internal/ble"
)

var (
	ErrReadNotPermitted  = errors.New("access: read not permitted")
	ErrWriteNotPermitted = errors.New("access: write not permitted")
	ErrInvalidLength     = errors.New("access: invalid attribute value length")
	ErrInvalidOffset     = errors.New("access: invalid offset")
)

// Characteristic identifies one characteristic of the configuration
// service. The order matches the service's characteristic table.
type Characteristic int

const (
	Capabilities Characteristic = iota
	ActiveSlot
	AdvInterval
	RadioTxPower
	AdvTxPower
	LockState
	Unlock
	PublicECDHKey
	EIDIdentityKey
	AdvSlotData
	FactoryReset
	RemainConnectable

	numCharacteristics
)

// Policy says how the lock state gates a characteristic.
type Policy uint8

const (
	// PolicyOpen characteristics are readable whatever the lock state.
	PolicyOpen Policy = iota
	// PolicyGated characteristics need the beacon unlocked.
	PolicyGated
	// PolicyChallenge is the unlock characteristic: readable and
	// writable only while locked.
	PolicyChallenge
)

// Descriptor is one row of the characteristic table.
type Descriptor struct {
	UUID     string
	Size     int  // value size; the maximum when Variable
	Variable bool // writes may be 1..Size bytes
	Read     Policy
	Write    Policy
	Readable bool
	Writable bool
}

// MaxSlotDataSize fits the largest AdvSlotData write: the EID tag, a 32
// byte public key and the rotation exponent.
const MaxSlotDataSize = 34

// LockStateKeyedSize is a lock-state write carrying a new encrypted key.
const LockStateKeyedSize = 1 + 16

var table = [numCharacteristics]Descriptor{
	Capabilities:      {UUID: ble.CapabilitiesCharUUID, Read: PolicyOpen, Readable: true},
	ActiveSlot:        {UUID: ble.ActiveSlotCharUUID, Size: 1, Read: PolicyGated, Write: PolicyGated, Readable: true, Writable: true},
	AdvInterval:       {UUID: ble.AdvIntervalCharUUID, Size: 2, Read: PolicyGated, Write: PolicyGated, Readable: true, Writable: true},
	RadioTxPower:      {UUID: ble.RadioTxPowerCharUUID, Size: 1, Read: PolicyGated, Write: PolicyGated, Readable: true, Writable: true},
	AdvTxPower:        {UUID: ble.AdvTxPowerCharUUID, Size: 1, Read: PolicyGated, Write: PolicyGated, Readable: true, Writable: true},
	LockState:         {UUID: ble.LockStateCharUUID, Size: LockStateKeyedSize, Read: PolicyOpen, Write: PolicyGated, Readable: true, Writable: true},
	Unlock:            {UUID: ble.UnlockCharUUID, Size: 16, Read: PolicyChallenge, Write: PolicyChallenge, Readable: true, Writable: true},
	PublicECDHKey:     {UUID: ble.PublicECDHKeyCharUUID, Size: 32, Read: PolicyGated, Readable: true},
	EIDIdentityKey:    {UUID: ble.EIDIdentityKeyCharUUID, Size: 16, Read: PolicyGated, Readable: true},
	AdvSlotData:       {UUID: ble.AdvSlotDataCharUUID, Size: MaxSlotDataSize, Variable: true, Read: PolicyGated, Write: PolicyGated, Readable: true, Writable: true},
	FactoryReset:      {UUID: ble.FactoryResetCharUUID, Size: 1, Write: PolicyGated, Writable: true},
	RemainConnectable: {UUID: ble.RemainConnectableCharUUID, Size: 1, Read: PolicyGated, Write: PolicyGated, Readable: true, Writable: true},
}

var byUUID = func() map[string]Characteristic {
	m := make(map[string]Characteristic, len(table))
	for i, d := range table {
		m[d.UUID] = Characteristic(i)
	}
	return m
}()

// Describe returns the table row for c.
func Describe(c Characteristic) Descriptor { return table[c] }

// Lookup finds the characteristic with the given UUID.
func Lookup(uuid string) (Characteristic, bool) {
	c, ok := byUUID[uuid]
	return c, ok
}

// Characteristics lists every characteristic in table order.
func Characteristics() []Characteristic {
	out := make([]Characteristic, numCharacteristics)
	for i := range out {
		out[i] = Characteristic(i)
	}
	return out
}

func (c Characteristic) String() string {
	switch c {
	case Capabilities:
		return "Capabilities"
	case ActiveSlot:
		return "ActiveSlot"
	case AdvInterval:
		return "AdvInterval"
	case RadioTxPower:
		return "RadioTxPower"
	case AdvTxPower:
		return "AdvTxPower"
	case LockState:
		return "LockState"
	case Unlock:
		return "Unlock"
	case PublicECDHKey:
		return "PublicECDHKey"
	case EIDIdentityKey:
		return "EIDIdentityKey"
	case AdvSlotData:
		return "AdvSlotData"
	case FactoryReset:
		return "FactoryReset"
	case RemainConnectable:
		return "RemainConnectable"
	default:
		return fmt.Sprintf("Characteristic(%d)", int(c))
	}
}

// ValidateWrite checks a fixed-size write: exactly size bytes at offset 0.
func ValidateWrite(value []byte, offset, size int) error {
	if len(value) != size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(value), size)
	}
	if offset != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOffset, offset)
	}
	return nil
}

// ValidateWriteMax checks a variable-size write: 1..max bytes at offset 0.
func ValidateWriteMax(value []byte, offset, max int) error {
	if len(value) == 0 || len(value) > max {
		return fmt.Errorf("%w: got %d bytes, want 1..%d", ErrInvalidLength, len(value), max)
	}
	if offset != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOffset, offset)
	}
	return nil
}
