// Package storage persists beacon params as a YAML file.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/eddystone-beacon/internal/access"
	"github.com/chaz8081/eddystone-beacon/internal/beacon"
	"github.com/chaz8081/eddystone-beacon/internal/ble/crypto"
	"github.com/chaz8081/eddystone-beacon/internal/ble/protocol"
	"github.com/chaz8081/eddystone-beacon/internal/config"
)

// fileVersion is bumped when the on-disk layout changes incompatibly.
const fileVersion = 1

// document is the on-disk layout.
type document struct {
	Version           int             `yaml:"version"`
	ActiveSlot        int             `yaml:"active_slot"`
	LockState         string          `yaml:"lock_state"`
	UnlockKey         config.HexBytes `yaml:"unlock_key"`
	RemainConnectable bool            `yaml:"remain_connectable"`
	RadioPowerLevels  []int8          `yaml:"radio_power_levels,flow"`
	AdvPowerLevels    []int8          `yaml:"adv_power_levels,flow"`
	Slots             []slotDocument  `yaml:"slots"`
}

type slotDocument struct {
	Type             string          `yaml:"type"`
	IntervalMS       uint16          `yaml:"interval_ms"`
	RadioTxPower     int8            `yaml:"radio_tx_power"`
	AdvTxPower       int8            `yaml:"adv_tx_power"`
	Frame            config.HexBytes `yaml:"frame"`
	IdentityKey      config.HexBytes `yaml:"identity_key"`
	RotationExponent uint8           `yaml:"rotation_exponent"`
}

// FileStore keeps params in a single YAML file. It implements
// beacon.ParamStore.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The file and its
// directory are created on the first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// LoadParams reads the params file. A missing file is not an error; it
// reports false.
func (s *FileStore) LoadParams() (beacon.Params, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return beacon.Params{}, false, nil
	}
	if err != nil {
		return beacon.Params{}, false, fmt.Errorf("reading params file: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return beacon.Params{}, false, fmt.Errorf("parsing params file: %w", err)
	}
	p, err := doc.params()
	if err != nil {
		return beacon.Params{}, false, fmt.Errorf("params file %s: %w", s.path, err)
	}
	return p, true, nil
}

// SaveParams writes p, replacing the file atomically.
func (s *FileStore) SaveParams(p beacon.Params) error {
	data, err := yaml.Marshal(newDocument(p))
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating params dir: %w", err)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing params file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("moving params file: %w", err)
	}
	return nil
}

func newDocument(p beacon.Params) document {
	doc := document{
		Version:           fileVersion,
		ActiveSlot:        p.ActiveSlot,
		LockState:         p.LockState.String(),
		UnlockKey:         config.HexBytes(p.UnlockKey[:]),
		RemainConnectable: p.RemainConnectable,
		RadioPowerLevels:  p.RadioPowerLevels,
		AdvPowerLevels:    p.AdvPowerLevels,
	}
	for _, sp := range p.Slots {
		ik := sp.IdentityKey
		doc.Slots = append(doc.Slots, slotDocument{
			Type:             sp.Type.String(),
			IntervalMS:       sp.Interval,
			RadioTxPower:     sp.RadioTxPower,
			AdvTxPower:       sp.AdvTxPower,
			Frame:            config.HexBytes(sp.Frame),
			IdentityKey:      config.HexBytes(ik[:]),
			RotationExponent: sp.RotationExponent,
		})
	}
	return doc
}

func (doc document) params() (beacon.Params, error) {
	if doc.Version != fileVersion {
		return beacon.Params{}, fmt.Errorf("unsupported version %d", doc.Version)
	}
	state, err := access.ParseState(doc.LockState)
	if err != nil {
		return beacon.Params{}, err
	}
	if len(doc.UnlockKey) != len(access.Key{}) {
		return beacon.Params{}, fmt.Errorf("unlock_key must be %d bytes, got %d", len(access.Key{}), len(doc.UnlockKey))
	}

	p := beacon.Params{
		ActiveSlot:        doc.ActiveSlot,
		LockState:         state,
		RemainConnectable: doc.RemainConnectable,
		RadioPowerLevels:  doc.RadioPowerLevels,
		AdvPowerLevels:    doc.AdvPowerLevels,
	}
	copy(p.UnlockKey[:], doc.UnlockKey)

	for i, sd := range doc.Slots {
		t, err := protocol.ParseFrameType(sd.Type)
		if err != nil {
			return beacon.Params{}, fmt.Errorf("slots[%d]: %w", i, err)
		}
		if len(sd.IdentityKey) != crypto.IdentityKeySize {
			return beacon.Params{}, fmt.Errorf("slots[%d].identity_key must be %d bytes, got %d", i, crypto.IdentityKeySize, len(sd.IdentityKey))
		}
		sp := beacon.SlotParams{
			Type:             t,
			Interval:         sd.IntervalMS,
			RadioTxPower:     sd.RadioTxPower,
			AdvTxPower:       sd.AdvTxPower,
			Frame:            []byte(sd.Frame),
			RotationExponent: sd.RotationExponent,
		}
		copy(sp.IdentityKey[:], sd.IdentityKey)
		p.Slots = append(p.Slots, sp)
	}
	return p, nil
}
