// Command eid-tool is the resolver side of EID provisioning. It computes
// the EID a beacon advertises for an identity key, runs the key exchange
// against a beacon's public key, and builds the AdvSlotData values that
// provision an EID slot.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chaz8081/eddystone-beacon/internal/ble/crypto"
	"github.com/chaz8081/eddystone-beacon/internal/ble/protocol"
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: eid-tool <command> [flags]

Commands:
  eid       compute the EID for an identity key at a beacon time
  exchange  derive an identity key from a beacon public key
  encrypt   encrypt an identity key under an unlock key`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "eid":
		err = runEID(os.Args[2:], os.Stdout)
	case "exchange":
		err = runExchange(os.Args[2:], os.Stdout)
	case "encrypt":
		err = runEncrypt(os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "eid-tool %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func runEID(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("eid", flag.ContinueOnError)
	keyHex := fs.String("key", "", "identity key, 16 bytes hex")
	exp := fs.Uint("exp", 10, "rotation exponent (0-15)")
	at := fs.Uint("time", 0, "beacon time in seconds since boot")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ik, err := parseIdentityKey(*keyHex)
	if err != nil {
		return err
	}
	if *exp > crypto.MaxRotationExponent {
		return fmt.Errorf("rotation exponent %d exceeds %d", *exp, crypto.MaxRotationExponent)
	}
	if *at > 0xFFFFFFFF {
		return fmt.Errorf("time %d does not fit in 32 bits", *at)
	}

	e := uint8(*exp)
	t := uint32(*at)
	eid := crypto.ComputeEID(ik, e, t)
	start := crypto.AlignTime(e, t)
	fmt.Fprintf(w, "EID:     %x\n", eid[:])
	fmt.Fprintf(w, "Period:  %d s, from %d to %d\n", crypto.RotationPeriod(e), start, start+crypto.RotationPeriod(e))
	return nil
}

func runExchange(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("exchange", flag.ContinueOnError)
	beaconHex := fs.String("beacon", "", "beacon public ECDH key, 32 bytes hex")
	exp := fs.Uint("exp", 10, "rotation exponent (0-15)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	beaconPub, err := parseHex(*beaconHex, crypto.KeySize)
	if err != nil {
		return fmt.Errorf("beacon key: %w", err)
	}
	if *exp > crypto.MaxRotationExponent {
		return fmt.Errorf("rotation exponent %d exceeds %d", *exp, crypto.MaxRotationExponent)
	}
	bp, err := crypto.ParsePublicKey(beaconPub)
	if err != nil {
		return err
	}

	// nil entropy reads crypto/rand.
	pub, ik, err := exchange(bp, nil)
	if err != nil {
		return err
	}

	slotData := append([]byte{byte(protocol.FrameTypeEID)}, pub[:]...)
	slotData = append(slotData, byte(*exp))
	fmt.Fprintf(w, "Resolver key:  %x\n", pub[:])
	fmt.Fprintf(w, "Identity key:  %x\n", ik[:])
	fmt.Fprintf(w, "AdvSlotData:   %x\n", slotData)
	return nil
}

// exchange generates a resolver key pair and derives the identity key the
// beacon will derive once it receives the resolver public key.
func exchange(beacon crypto.PublicKey, entropy io.Reader) (crypto.PublicKey, crypto.IdentityKey, error) {
	priv, pub, err := crypto.GenerateBeaconKeys(entropy)
	if err != nil {
		return pub, crypto.IdentityKey{}, err
	}
	ik, err := crypto.ResolverIdentityKey(priv, pub, beacon)
	return pub, ik, err
}

func runEncrypt(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("encrypt", flag.ContinueOnError)
	unlockHex := fs.String("unlock-key", "", "beacon unlock key, 16 bytes hex")
	keyHex := fs.String("key", "", "identity key, 16 bytes hex")
	exp := fs.Uint("exp", 10, "rotation exponent (0-15)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	unlock, err := parseHex(*unlockHex, crypto.BlockSize)
	if err != nil {
		return fmt.Errorf("unlock key: %w", err)
	}
	ik, err := parseIdentityKey(*keyHex)
	if err != nil {
		return err
	}
	if *exp > crypto.MaxRotationExponent {
		return fmt.Errorf("rotation exponent %d exceeds %d", *exp, crypto.MaxRotationExponent)
	}

	var key [16]byte
	copy(key[:], unlock)
	enc := crypto.EncryptBlock(key, crypto.Block(ik))

	slotData := append([]byte{byte(protocol.FrameTypeEID)}, enc[:]...)
	slotData = append(slotData, byte(*exp))
	fmt.Fprintf(w, "Encrypted key: %x\n", enc[:])
	fmt.Fprintf(w, "AdvSlotData:   %x\n", slotData)
	return nil
}

func parseIdentityKey(s string) (crypto.IdentityKey, error) {
	var ik crypto.IdentityKey
	b, err := parseHex(s, crypto.IdentityKeySize)
	if err != nil {
		return ik, fmt.Errorf("identity key: %w", err)
	}
	copy(ik[:], b)
	return ik, nil
}

func parseHex(s string, size int) ([]byte, error) {
	b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), ":", ""))
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("need %d bytes, got %d", size, len(b))
	}
	return b, nil
}
