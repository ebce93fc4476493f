package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/chaz8081/eddystone-beacon/internal/ble/crypto"
)

func TestRunEID(t *testing.T) {
	var out bytes.Buffer
	err := runEID([]string{"-key", "a0a1a2a3a4a5a6a7a8a9aaabacadaeaf", "-exp", "3", "-time", "13"}, &out)
	if err != nil {
		t.Fatalf("runEID() error = %v", err)
	}

	ik := crypto.IdentityKey{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0xA8, 0xA9, 0xAA, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF}
	eid := crypto.ComputeEID(ik, 3, 8)
	if !strings.Contains(out.String(), hex.EncodeToString(eid[:])) {
		t.Errorf("output missing EID %x:\n%s", eid[:], out.String())
	}
	if !strings.Contains(out.String(), "from 8 to 16") {
		t.Errorf("output missing aligned period:\n%s", out.String())
	}
}

func TestRunEID_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing key", nil},
		{"short key", []string{"-key", "a0a1"}},
		{"exponent too large", []string{"-key", "a0a1a2a3a4a5a6a7a8a9aaabacadaeaf", "-exp", "16"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := runEID(tt.args, &bytes.Buffer{}); err == nil {
				t.Error("runEID() should fail")
			}
		})
	}
}

func TestExchange(t *testing.T) {
	beaconPriv, beaconPub, err := crypto.GenerateBeaconKeys(nil)
	if err != nil {
		t.Fatalf("GenerateBeaconKeys() error = %v", err)
	}

	resolverPub, ik, err := exchange(beaconPub, nil)
	if err != nil {
		t.Fatalf("exchange() error = %v", err)
	}

	// The beacon derives the same key from the resolver public key.
	want, err := crypto.DeriveIdentityKey(beaconPriv, beaconPub, resolverPub)
	if err != nil {
		t.Fatalf("DeriveIdentityKey() error = %v", err)
	}
	if ik != want {
		t.Errorf("resolver key %x, beacon key %x", ik, want)
	}
}

func TestRunEncrypt(t *testing.T) {
	var out bytes.Buffer
	err := runEncrypt([]string{
		"-unlock-key", "00112233445566778899aabbccddeeff",
		"-key", "a0a1a2a3a4a5a6a7a8a9aaabacadaeaf",
		"-exp", "5",
	}, &out)
	if err != nil {
		t.Fatalf("runEncrypt() error = %v", err)
	}

	key := [16]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	ik := crypto.Block{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0xA8, 0xA9, 0xAA, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF}
	enc := crypto.EncryptBlock(key, ik)
	want := fmt.Sprintf("AdvSlotData:   30%x05", enc[:])
	if !strings.Contains(out.String(), want) {
		t.Errorf("output missing %q:\n%s", want, out.String())
	}
}
