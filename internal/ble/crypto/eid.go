package crypto

import "encoding/binary"

// EIDSize is the length of an ephemeral identifier.
const EIDSize = 8

// MaxRotationExponent is the largest rotation exponent a beacon accepts.
const MaxRotationExponent = 15

// eidSalt is the constant mixed into the temporary key block.
const eidSalt = 0xFF

// EID is an 8-byte ephemeral identifier.
type EID [EIDSize]byte

// AlignTime clears the low rotationExponent bits of timeSecs, giving the
// start of the rotation period that contains it.
func AlignTime(rotationExponent uint8, timeSecs uint32) uint32 {
	if rotationExponent >= 32 {
		return 0
	}
	return timeSecs &^ (uint32(1)<<rotationExponent - 1)
}

// RotationPeriod returns 2^rotationExponent seconds.
func RotationPeriod(rotationExponent uint8) uint32 {
	if rotationExponent >= 32 {
		return 0
	}
	return uint32(1) << rotationExponent
}

// ComputeEID derives the EID valid at timeSecs. The time is aligned to the
// rotation period first so every instant of a period yields the same EID.
//
// Stage 1: TK = AES(ik, D1), D1[10] = salt, D1[12:14] = time[0:2].
// Stage 2: EID = AES(TK, D2)[:8], D2[10] = exponent, D2[12:16] = time.
func ComputeEID(ik IdentityKey, rotationExponent uint8, timeSecs uint32) EID {
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], AlignTime(rotationExponent, timeSecs))

	var d1 Block
	d1[10] = eidSalt
	d1[12] = ts[0]
	d1[13] = ts[1]
	tk := EncryptBlock(ik, d1)

	var d2 Block
	d2[10] = rotationExponent
	copy(d2[12:16], ts[:])
	full := EncryptBlock(tk, d2)

	var eid EID
	copy(eid[:], full[:EIDSize])
	return eid
}

// Rotation tracks when a slot's EID is due for recomputation.
type Rotation struct {
	Exponent uint8
	Next     uint32 // seconds since boot
}

// Due reports whether the EID must be recomputed at timeSecs.
func (r Rotation) Due(timeSecs uint32) bool { return timeSecs >= r.Next }

// Rotate recomputes the EID when due. It returns the new EID, the updated
// rotation and true, or the unchanged rotation and false.
func (r Rotation) Rotate(ik IdentityKey, timeSecs uint32) (EID, Rotation, bool) {
	if !r.Due(timeSecs) {
		return EID{}, r, false
	}
	eid := ComputeEID(ik, r.Exponent, timeSecs)
	r.Next = AlignTime(r.Exponent, timeSecs) + RotationPeriod(r.Exponent)
	return eid, r, true
}
