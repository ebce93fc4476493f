package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chaz8081/eddystone-beacon/internal/access"
	"github.com/chaz8081/eddystone-beacon/internal/beacon"
	"github.com/chaz8081/eddystone-beacon/internal/ble/crypto"
	"github.com/chaz8081/eddystone-beacon/internal/ble/protocol"
)

func testParams(t *testing.T) beacon.Params {
	t.Helper()

	var uid protocol.Frame
	uid.SetUID(-13, [protocol.UIDLength]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15})
	var url protocol.Frame
	if err := url.SetURLString(-25, "https://example.com"); err != nil {
		t.Fatalf("SetURLString: %v", err)
	}

	return beacon.Params{
		ActiveSlot:        1,
		LockState:         access.Locked,
		UnlockKey:         access.Key{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA, 0x99, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, 0x00},
		RemainConnectable: true,
		RadioPowerLevels:  []int8{-30, -16, -4, 4},
		AdvPowerLevels:    []int8{-42, -30, -25, -13},
		Slots: []beacon.SlotParams{
			{
				Type:             protocol.FrameTypeUID,
				Interval:         700,
				RadioTxPower:     4,
				AdvTxPower:       -13,
				Frame:            append([]byte(nil), uid.Bytes()...),
				IdentityKey:      crypto.IdentityKey{0xA0, 0xA1},
				RotationExponent: 10,
			},
			{
				Type:             protocol.FrameTypeURL,
				Interval:         0,
				RadioTxPower:     -4,
				AdvTxPower:       -25,
				Frame:            append([]byte(nil), url.Bytes()...),
				IdentityKey:      crypto.IdentityKey{0xB0},
				RotationExponent: 3,
			},
		},
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "params.yaml")
	s := NewFileStore(path)
	want := testParams(t)

	if err := s.SaveParams(want); err != nil {
		t.Fatalf("SaveParams() error = %v", err)
	}

	got, ok, err := s.LoadParams()
	if err != nil {
		t.Fatalf("LoadParams() error = %v", err)
	}
	if !ok {
		t.Fatal("LoadParams() ok = false after save")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStore_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	s := NewFileStore(path)
	if err := s.SaveParams(testParams(t)); err != nil {
		t.Fatalf("SaveParams() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestFileStore_Overwrite(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "params.yaml"))
	p := testParams(t)
	if err := s.SaveParams(p); err != nil {
		t.Fatalf("SaveParams() error = %v", err)
	}
	p.LockState = access.UnlockedAutoRelockDisabled
	p.ActiveSlot = 0
	if err := s.SaveParams(p); err != nil {
		t.Fatalf("SaveParams() error = %v", err)
	}

	got, _, err := s.LoadParams()
	if err != nil {
		t.Fatalf("LoadParams() error = %v", err)
	}
	if got.LockState != access.UnlockedAutoRelockDisabled || got.ActiveSlot != 0 {
		t.Errorf("LoadParams() = state %v slot %d, want latest save", got.LockState, got.ActiveSlot)
	}
}

func TestFileStore_Missing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "absent.yaml"))
	_, ok, err := s.LoadParams()
	if err != nil {
		t.Fatalf("LoadParams() error = %v", err)
	}
	if ok {
		t.Error("LoadParams() ok = true for missing file")
	}
}

func TestFileStore_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", "version: [1\n"},
		{"wrong version", "version: 2\nlock_state: locked\nunlock_key: 00112233445566778899aabbccddeeff\n"},
		{"unknown lock state", "version: 1\nlock_state: open\nunlock_key: 00112233445566778899aabbccddeeff\n"},
		{"short unlock key", "version: 1\nlock_state: locked\nunlock_key: 0011\n"},
		{"bad hex", "version: 1\nlock_state: locked\nunlock_key: xyz\n"},
		{
			"unknown frame type",
			"version: 1\nlock_state: locked\nunlock_key: 00112233445566778899aabbccddeeff\nslots:\n  - type: ibeacon\n    identity_key: a0a1a2a3a4a5a6a7a8a9aaabacadaeaf\n",
		},
		{
			"short identity key",
			"version: 1\nlock_state: locked\nunlock_key: 00112233445566778899aabbccddeeff\nslots:\n  - type: uid\n    identity_key: a0a1\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "params.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, ok, err := NewFileStore(path).LoadParams(); err == nil || ok {
				t.Errorf("LoadParams() = ok %v, err %v; want error", ok, err)
			}
		})
	}
}
