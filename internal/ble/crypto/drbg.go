package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

const drbgSeedSize = 32 + aes.BlockSize

// DRBG is a deterministic random bit generator: an AES-256-CTR keystream
// keyed from an entropy source.
type DRBG struct {
	stream cipher.Stream
}

// NewDRBG seeds a DRBG with 48 bytes read from entropy.
func NewDRBG(entropy io.Reader) (*DRBG, error) {
	seed := make([]byte, drbgSeedSize)
	if _, err := io.ReadFull(entropy, seed); err != nil {
		return nil, fmt.Errorf("%w: seed: %v", ErrRandomSource, err)
	}
	block, err := aes.NewCipher(seed[:32])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRandomSource, err)
	}
	d := &DRBG{stream: cipher.NewCTR(block, seed[32:])}
	clear(seed)
	return d, nil
}

// Read fills p with keystream bytes. It never fails.
func (d *DRBG) Read(p []byte) (int, error) {
	clear(p)
	d.stream.XORKeyStream(p, p)
	return len(p), nil
}
