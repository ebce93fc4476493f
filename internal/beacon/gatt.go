package beacon

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/chaz8081/eddystone-beacon/internal/access"
	"github.com/chaz8081/eddystone-beacon/internal/ble"
	"github.com/chaz8081/eddystone-beacon/internal/ble/crypto"
	"github.com/chaz8081/eddystone-beacon/internal/ble/protocol"
)

// eidRecordSize is an AdvSlotData read of an EID slot:
// [type][exponent][time BE32][EID].
const eidRecordSize = 2 + 4 + crypto.EIDSize

// registerService adds the configuration service with one characteristic
// per table row.
func (s *Service) registerService() error {
	var chars []ble.Characteristic
	for _, ch := range access.Characteristics() {
		d := access.Describe(ch)
		chars = append(chars, ble.Characteristic{
			UUID:     d.UUID,
			Readable: d.Readable,
			Writable: d.Writable,
		})
	}
	onWrite := func(uuid string, offset int, value []byte) {
		err := s.loop.Call(context.Background(), func() {
			ch, ok := access.Lookup(uuid)
			if !ok {
				slog.Warn("[GATT] write to unknown characteristic", "uuid", uuid)
				return
			}
			if err := s.Write(ch, value, offset); err != nil {
				slog.Warn("[GATT] write rejected", "characteristic", ch, "len", len(value), "offset", offset, "error", err)
			}
		})
		if err != nil {
			slog.Warn("[GATT] write dropped", "uuid", uuid, "error", err)
		}
	}
	if err := s.radio.AddService(ble.ConfigServiceUUID, chars, onWrite); err != nil {
		return fmt.Errorf("beacon: register config service: %w", err)
	}
	slog.Info("[GATT] config service registered", "characteristics", len(chars))
	return nil
}

// publish pushes every readable value to the GATT server. Values a
// central may not read in the current lock state are published empty.
func (s *Service) publish() {
	for _, ch := range access.Characteristics() {
		d := access.Describe(ch)
		if !d.Readable {
			continue
		}
		v, err := s.Read(ch)
		if err != nil {
			v = nil
		}
		if err := s.radio.SetValue(d.UUID, v); err != nil {
			slog.Warn("[GATT] publish failed", "characteristic", ch, "error", err)
		}
	}
}

// Read returns the value a central reads from ch, after authorization.
func (s *Service) Read(ch access.Characteristic) ([]byte, error) {
	if err := s.lock.AuthorizeRead(ch); err != nil {
		return nil, err
	}
	active, err := s.store.Get(s.activeSlot)
	if err != nil {
		return nil, err
	}

	switch ch {
	case access.Capabilities:
		return s.caps.Bytes(), nil
	case access.ActiveSlot:
		return []byte{byte(s.activeSlot)}, nil
	case access.AdvInterval:
		return binary.BigEndian.AppendUint16(nil, active.Interval), nil
	case access.RadioTxPower:
		return []byte{byte(active.RadioTxPower)}, nil
	case access.AdvTxPower:
		return []byte{byte(active.AdvTxPower)}, nil
	case access.LockState:
		return []byte{byte(s.lock.State())}, nil
	case access.Unlock:
		// Every read hands out a new challenge.
		if !s.issueChallenge() {
			return nil, fmt.Errorf("%w: no challenge available", access.ErrReadNotPermitted)
		}
		return append([]byte(nil), s.challenge...), nil
	case access.PublicECDHKey:
		return append([]byte(nil), s.pub[:]...), nil
	case access.EIDIdentityKey:
		enc := s.lock.EncryptKey(active.IdentityKey)
		return enc[:], nil
	case access.AdvSlotData:
		return s.slotData()
	case access.RemainConnectable:
		if s.remainConnectable {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	}
	return nil, fmt.Errorf("%w: %s", errUnknownCharacteristic, ch)
}

// slotData is the AdvSlotData value of the active slot: the service data
// for UID, URL and TLM slots, an EID record for EID slots, and a single
// zero byte for a disabled slot.
func (s *Service) slotData() ([]byte, error) {
	if err := s.store.Refresh(s.activeSlot); err != nil {
		return nil, err
	}
	sl, err := s.store.Get(s.activeSlot)
	if err != nil {
		return nil, err
	}
	if !sl.Enabled() {
		return []byte{0}, nil
	}
	if sl.Type != protocol.FrameTypeEID {
		return append([]byte(nil), sl.Frame.ServiceData()...), nil
	}
	eid, _ := sl.Frame.EID()
	out := make([]byte, 0, eidRecordSize)
	out = append(out, byte(protocol.FrameTypeEID), sl.Rotation.Exponent)
	out = binary.BigEndian.AppendUint32(out, s.store.TimeSecs())
	return append(out, eid[:]...), nil
}

// Write authorizes and applies a central's write to ch. A rejected write
// changes nothing.
func (s *Service) Write(ch access.Characteristic, value []byte, offset int) error {
	err := s.lock.AuthorizeWrite(ch, value, offset)
	if err == nil {
		err = s.apply(ch, value, offset)
	}
	if err != nil {
		if ch == access.Unlock && s.lock.Locked() {
			// A failed unlock attempt burns the published challenge.
			s.issueChallenge()
		}
		return err
	}
	s.publish()
	return nil
}

func (s *Service) apply(ch access.Characteristic, value []byte, offset int) error {
	switch ch {
	case access.ActiveSlot:
		if int(value[0]) >= s.store.Len() {
			return fmt.Errorf("%w: slot %d of %d", access.ErrInvalidLength, value[0], s.store.Len())
		}
		s.activeSlot = int(value[0])
		return nil

	case access.AdvInterval:
		_, err := s.store.SetInterval(s.activeSlot, binary.BigEndian.Uint16(value))
		return err

	case access.RadioTxPower:
		_, err := s.store.SetRadioTxPower(s.activeSlot, int8(value[0]))
		return err

	case access.AdvTxPower:
		return s.store.SetTxPower(s.activeSlot, int8(value[0]))

	case access.LockState:
		if err := s.lock.SetLockState(value, offset); err != nil {
			return err
		}
		s.challenge = nil
		if s.lock.Locked() {
			s.issueChallenge()
		}
		return nil

	case access.Unlock:
		if err := s.lock.Unlock(value, offset); err != nil {
			return err
		}
		s.challenge = nil
		return nil

	case access.AdvSlotData:
		return s.writeSlotData(value)

	case access.FactoryReset:
		if value[0] == 0 {
			return nil
		}
		return s.FactoryReset()

	case access.RemainConnectable:
		s.remainConnectable = value[0] != 0
		return nil
	}
	return fmt.Errorf("%w: %s", access.ErrWriteNotPermitted, ch)
}

// writeSlotData re-encodes the active slot from [type][payload]. EID
// payloads carry either the identity key encrypted under the unlock key
// or a resolver public key to run the key exchange with, each followed by
// the rotation exponent.
func (s *Service) writeSlotData(value []byte) error {
	t := protocol.FrameType(value[0])
	payload := value[1:]
	i := s.activeSlot

	switch t {
	case protocol.FrameTypeUID:
		if len(payload) != protocol.UIDLength {
			return fmt.Errorf("%w: UID payload of %d bytes", access.ErrInvalidLength, len(payload))
		}
		return s.store.SetSlot(i, t, payload)

	case protocol.FrameTypeURL:
		if len(payload) == 0 || len(payload) > protocol.URLMaxLength {
			return fmt.Errorf("%w: URL payload of %d bytes", access.ErrInvalidLength, len(payload))
		}
		return s.store.SetURL(i, payload)

	case protocol.FrameTypeTLM:
		if len(payload) != 0 {
			return fmt.Errorf("%w: TLM payload of %d bytes", access.ErrInvalidLength, len(payload))
		}
		return s.store.SetTLM(i)

	case protocol.FrameTypeEID:
		switch len(payload) {
		case crypto.IdentityKeySize + 1:
			var enc crypto.Block
			copy(enc[:], payload)
			ik := s.lock.DecryptKey(enc)
			return s.store.SetEID(i, ik, payload[crypto.IdentityKeySize])
		case crypto.KeySize + 1:
			peer, err := crypto.ParsePublicKey(payload[:crypto.KeySize])
			if err != nil {
				return err
			}
			ik, err := crypto.DeriveIdentityKey(s.priv, s.pub, peer)
			if err != nil {
				return fmt.Errorf("beacon: EID key exchange: %w", err)
			}
			return s.store.SetEID(i, ik, payload[crypto.KeySize])
		}
		return fmt.Errorf("%w: EID payload of %d bytes", access.ErrInvalidLength, len(payload))
	}
	return fmt.Errorf("%w: frame type %s", protocol.ErrInvalidFrame, t)
}
