// Package crypto provides the cryptographic operations of an Eddystone EID
// beacon: curve25519 key generation from a seeded DRBG, ECDH + HKDF-SHA256
// identity-key derivation, the two-stage AES-128 EID computation, and the
// single-block AES-128 used by the lock/unlock protocol.
package crypto

import (
	"crypto/aes"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Key sizes.
const (
	KeySize         = 32 // curve25519 scalar and point
	IdentityKeySize = 16
	BlockSize       = aes.BlockSize
)

var (
	// ErrRandomSource is returned when the DRBG cannot be seeded.
	ErrRandomSource = errors.New("ble/crypto: random source failure")
	// ErrCurveLoad is returned when the curve parameters cannot be loaded.
	ErrCurveLoad = errors.New("ble/crypto: curve load failure")
	// ErrKeyGen is returned when the public point cannot be generated.
	ErrKeyGen = errors.New("ble/crypto: key generation failure")
	// ErrSharedSecretZero is returned when ECDH yields the all-zero secret.
	ErrSharedSecretZero = errors.New("ble/crypto: shared secret is zero")
)

// PrivateKey is a curve25519 scalar.
type PrivateKey [KeySize]byte

// PublicKey is a curve25519 point in RFC 7748 encoding.
type PublicKey [KeySize]byte

// IdentityKey is the 128-bit EID identity key of a slot.
type IdentityKey [IdentityKeySize]byte

// Block is one AES-128 block.
type Block [BlockSize]byte

// GenerateBeaconKeys creates a fresh curve25519 key pair from a DRBG
// seeded with entropy. A nil entropy source means crypto/rand.
func GenerateBeaconKeys(entropy io.Reader) (PrivateKey, PublicKey, error) {
	var priv PrivateKey
	var pub PublicKey

	if entropy == nil {
		entropy = rand.Reader
	}
	drbg, err := NewDRBG(entropy)
	if err != nil {
		return priv, pub, err
	}

	basepoint, err := loadCurve()
	if err != nil {
		return priv, pub, err
	}

	if _, err := io.ReadFull(drbg, priv[:]); err != nil {
		return priv, pub, fmt.Errorf("%w: %v", ErrRandomSource, err)
	}
	point, err := curve25519.X25519(priv[:], basepoint)
	if err != nil {
		return PrivateKey{}, pub, fmt.Errorf("%w: %v", ErrKeyGen, err)
	}
	copy(pub[:], point)
	return priv, pub, nil
}

// loadCurve returns the curve25519 base point after checking it decodes as
// a valid X25519 public key.
func loadCurve() ([]byte, error) {
	if _, err := ecdh.X25519().NewPublicKey(curve25519.Basepoint); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCurveLoad, err)
	}
	return curve25519.Basepoint, nil
}

// DeriveIdentityKey runs ECDH between the beacon key pair and a resolver's
// public key and converts the shared secret into an identity key with
// HKDF-SHA256, salt = peer public key || own public key, empty info.
// The identity key is the first 16 bytes of T(1) = HMAC(PRK, 0x01).
func DeriveIdentityKey(priv PrivateKey, pub, peer PublicKey) (IdentityKey, error) {
	var ik IdentityKey

	secret, err := curve25519.X25519(priv[:], peer[:])
	if err != nil {
		// x/crypto rejects low-order points, which produce a zero secret.
		return ik, fmt.Errorf("%w: %v", ErrSharedSecretZero, err)
	}
	return identityKeyFromSecret(secret, pub, peer)
}

// ResolverIdentityKey is the resolver-side counterpart of DeriveIdentityKey:
// the resolver registers pub with the beacon, so its salt is pub || beacon.
func ResolverIdentityKey(priv PrivateKey, pub, beacon PublicKey) (IdentityKey, error) {
	secret, err := curve25519.X25519(priv[:], beacon[:])
	if err != nil {
		return IdentityKey{}, fmt.Errorf("%w: %v", ErrSharedSecretZero, err)
	}
	return identityKeyFromSecret(secret, beacon, pub)
}

func identityKeyFromSecret(secret []byte, pub, peer PublicKey) (IdentityKey, error) {
	var ik IdentityKey
	if isZero(secret) {
		return ik, ErrSharedSecretZero
	}

	salt := make([]byte, 0, 2*KeySize)
	salt = append(salt, peer[:]...)
	salt = append(salt, pub[:]...)

	prk := hkdf.Extract(sha256.New, secret, salt)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, nil), ik[:]); err != nil {
		return IdentityKey{}, fmt.Errorf("ble/crypto: HKDF: %w", err)
	}
	return ik, nil
}

func isZero(b []byte) bool {
	return subtle.ConstantTimeCompare(b, make([]byte, len(b))) == 1
}

// EncryptBlock encrypts one block with AES-128 in ECB mode.
func EncryptBlock(key [16]byte, in Block) Block {
	c, err := aes.NewCipher(key[:])
	if err != nil {
		// Unreachable: the key size is fixed by the type.
		panic(err)
	}
	var out Block
	c.Encrypt(out[:], in[:])
	return out
}

// DecryptBlock decrypts one block with AES-128 in ECB mode.
func DecryptBlock(key [16]byte, in Block) Block {
	c, err := aes.NewCipher(key[:])
	if err != nil {
		panic(err)
	}
	var out Block
	c.Decrypt(out[:], in[:])
	return out
}

// Equal compares two secrets in constant time.
func Equal(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// RandomBlock fills a block from r (crypto/rand when nil).
func RandomBlock(r io.Reader) (Block, error) {
	if r == nil {
		r = rand.Reader
	}
	var b Block
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrRandomSource, err)
	}
	return b, nil
}

// ParsePublicKey copies a 32-byte wire public key.
func ParsePublicKey(b []byte) (PublicKey, error) {
	var pub PublicKey
	if len(b) != KeySize {
		return pub, fmt.Errorf("ble/crypto: public key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(pub[:], b)
	return pub, nil
}

// PublicKeyOf recomputes the public key of priv.
func PublicKeyOf(priv PrivateKey) (PublicKey, error) {
	var pub PublicKey
	point, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("%w: %v", ErrKeyGen, err)
	}
	copy(pub[:], point)
	return pub, nil
}
