package access

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/chaz8081/eddystone-beacon/internal/ble/crypto"
)

// State is the beacon lock state as carried over the air.
type State uint8

const (
	Locked                     State = 0x00
	Unlocked                   State = 0x01
	UnlockedAutoRelockDisabled State = 0x02
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	case UnlockedAutoRelockDisabled:
		return "unlocked-auto-relock-disabled"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the three lock states.
func (s State) Valid() bool { return s <= UnlockedAutoRelockDisabled }

// ParseState parses a lock state name as written by String.
func ParseState(name string) (State, error) {
	for _, s := range []State{Locked, Unlocked, UnlockedAutoRelockDisabled} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("access: unknown lock state %q", name)
}

// Key is a 128-bit unlock key.
type Key [16]byte

// Controller is the lock state machine. It is not safe for concurrent
// use; the beacon drives it from its event loop.
type Controller struct {
	state     State
	key       Key
	challenge crypto.Block
	token     crypto.Block
	issued    bool // a challenge has been handed out since the last reset
	entropy   io.Reader
}

// NewController returns an unlocked controller holding key. Challenges are
// drawn from entropy, or crypto/rand when nil.
func NewController(key Key, entropy io.Reader) *Controller {
	return &Controller{state: Unlocked, key: key, entropy: entropy}
}

// State returns the current lock state.
func (c *Controller) State() State { return c.state }

// Key returns the unlock key for persistence.
func (c *Controller) Key() Key { return c.key }

// Locked reports whether gated characteristics are closed.
func (c *Controller) Locked() bool { return c.state == Locked }

// Restore installs persisted state. Any outstanding challenge is
// forgotten, so a restored locked beacon needs a fresh challenge first.
func (c *Controller) Restore(state State, key Key) error {
	if !state.Valid() {
		return fmt.Errorf("access: restore: invalid lock state %d", state)
	}
	c.state = state
	c.key = key
	c.forget()
	return nil
}

// Reset returns to the factory state: unlocked under key with no
// challenge outstanding.
func (c *Controller) Reset(key Key) {
	c.state = Unlocked
	c.key = key
	c.forget()
}

func (c *Controller) forget() {
	c.challenge = crypto.Block{}
	c.token = crypto.Block{}
	c.issued = false
}

// Challenge issues a fresh random challenge and remembers the token a
// central must answer with. It is only available while locked.
func (c *Controller) Challenge() (crypto.Block, error) {
	if c.state != Locked {
		return crypto.Block{}, ErrReadNotPermitted
	}
	if err := c.regenerate(); err != nil {
		return crypto.Block{}, err
	}
	c.issued = true
	return c.challenge, nil
}

func (c *Controller) regenerate() error {
	ch, err := crypto.RandomBlock(c.entropy)
	if err != nil {
		return fmt.Errorf("access: challenge: %w", err)
	}
	c.challenge = ch
	c.token = crypto.EncryptBlock(c.key, ch)
	return nil
}

// Unlock checks a written token. Only the token of the most recently
// issued challenge unlocks; anything else leaves the state unchanged and
// invalidates that challenge.
func (c *Controller) Unlock(value []byte, offset int) error {
	if c.state != Locked {
		return ErrWriteNotPermitted
	}
	if err := ValidateWrite(value, offset, len(c.token)); err != nil {
		return err
	}
	if !c.issued || !crypto.Equal(value, c.token[:]) {
		// One guess per challenge.
		c.forget()
		slog.Warn("[ACCESS] unlock rejected")
		return ErrWriteNotPermitted
	}
	c.state = Unlocked
	slog.Info("[ACCESS] unlocked")
	// The answered challenge must not unlock twice.
	if err := c.regenerate(); err != nil {
		c.forget()
	}
	return nil
}

// SetLockState applies a lock-state write: the new state alone, or
// Locked followed by a new unlock key encrypted under the current one.
func (c *Controller) SetLockState(value []byte, offset int) error {
	if c.state == Locked {
		return ErrWriteNotPermitted
	}
	if len(value) != 1 && len(value) != LockStateKeyedSize {
		return fmt.Errorf("%w: got %d bytes, want 1 or %d", ErrInvalidLength, len(value), LockStateKeyedSize)
	}
	if offset != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOffset, offset)
	}
	next := State(value[0])
	if !next.Valid() {
		return ErrWriteNotPermitted
	}
	if len(value) == LockStateKeyedSize {
		if next != Locked {
			return ErrWriteNotPermitted
		}
		var enc crypto.Block
		copy(enc[:], value[1:])
		c.key = Key(crypto.DecryptBlock(c.key, enc))
		slog.Info("[ACCESS] unlock key replaced")
	}
	if next != c.state {
		slog.Info("[ACCESS] lock state changed", "from", c.state, "to", next)
	}
	c.state = next
	c.forget()
	return nil
}

// AuthorizeRead checks whether ch may be read in the current state.
func (c *Controller) AuthorizeRead(ch Characteristic) error {
	d := Describe(ch)
	if !d.Readable {
		return ErrReadNotPermitted
	}
	switch d.Read {
	case PolicyGated:
		if c.state == Locked {
			return ErrReadNotPermitted
		}
	case PolicyChallenge:
		if c.state != Locked {
			return ErrReadNotPermitted
		}
	}
	return nil
}

// AuthorizeWrite validates a write to ch without applying it: the lock
// state first, then the value length, then the offset.
func (c *Controller) AuthorizeWrite(ch Characteristic, value []byte, offset int) error {
	d := Describe(ch)
	if !d.Writable {
		return ErrWriteNotPermitted
	}
	switch d.Write {
	case PolicyGated:
		if c.state == Locked {
			return ErrWriteNotPermitted
		}
	case PolicyChallenge:
		if c.state != Locked {
			return ErrWriteNotPermitted
		}
	}
	switch {
	case ch == LockState:
		if len(value) != 1 && len(value) != LockStateKeyedSize {
			return fmt.Errorf("%w: got %d bytes, want 1 or %d", ErrInvalidLength, len(value), LockStateKeyedSize)
		}
		if offset != 0 {
			return fmt.Errorf("%w: %d", ErrInvalidOffset, offset)
		}
		return nil
	case d.Variable:
		return ValidateWriteMax(value, offset, d.Size)
	default:
		return ValidateWrite(value, offset, d.Size)
	}
}

// EncryptKey returns AES(unlockKey, k), the only form in which an
// identity key leaves the beacon.
func (c *Controller) EncryptKey(k crypto.IdentityKey) crypto.Block {
	return crypto.EncryptBlock(c.key, crypto.Block(k))
}

// DecryptKey recovers an identity key written encrypted under the
// unlock key.
func (c *Controller) DecryptKey(enc crypto.Block) crypto.IdentityKey {
	return crypto.IdentityKey(crypto.DecryptBlock(c.key, enc))
}
