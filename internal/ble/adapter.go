// Package ble defines the radio and GATT server collaborators of the
// beacon: advertising a single payload at a time, and hosting the
// Eddystone configuration service. The tinygo bluetooth implementation
// lives alongside; tests use the fake in bletest.
package ble

import (
	"errors"
	"time"
)

// EddystoneUUID is the 16-bit Eddystone service UUID 0xFEAA in
// Bluetooth base UUID form. Beacon advertisements list it so scanners
// filtering on 0xFEAA see them.
const EddystoneUUID = "0000feaa-0000-1000-8000-00805f9b34fb"

// Eddystone configuration service UUIDs.
const (
	ConfigServiceUUID         = "a3c87500-8ed3-4bdf-8a39-a01bebede295"
	CapabilitiesCharUUID      = "a3c87501-8ed3-4bdf-8a39-a01bebede295"
	ActiveSlotCharUUID        = "a3c87502-8ed3-4bdf-8a39-a01bebede295"
	AdvIntervalCharUUID       = "a3c87503-8ed3-4bdf-8a39-a01bebede295"
	RadioTxPowerCharUUID      = "a3c87504-8ed3-4bdf-8a39-a01bebede295"
	AdvTxPowerCharUUID        = "a3c87505-8ed3-4bdf-8a39-a01bebede295"
	LockStateCharUUID         = "a3c87506-8ed3-4bdf-8a39-a01bebede295"
	UnlockCharUUID            = "a3c87507-8ed3-4bdf-8a39-a01bebede295"
	PublicECDHKeyCharUUID     = "a3c87508-8ed3-4bdf-8a39-a01bebede295"
	EIDIdentityKeyCharUUID    = "a3c87509-8ed3-4bdf-8a39-a01bebede295"
	AdvSlotDataCharUUID       = "a3c8750a-8ed3-4bdf-8a39-a01bebede295"
	FactoryResetCharUUID      = "a3c8750b-8ed3-4bdf-8a39-a01bebede295"
	RemainConnectableCharUUID = "a3c8750c-8ed3-4bdf-8a39-a01bebede295"
)

// ErrUnsupported is returned when no radio is available on this platform.
var ErrUnsupported = errors.New("ble: peripheral mode not supported on this platform")

// Advertisement is one advertising configuration.
type Advertisement struct {
	Connectable  bool
	Interval     time.Duration
	LocalName    string
	ServiceUUIDs []string // 128-bit UUIDs listed in the payload
	ServiceData  []byte   // Eddystone service data under 0xFEAA, nil for none
}

// Limits is the advertising interval range the radio accepts.
type Limits struct {
	MinInterval               time.Duration
	MinNonConnectableInterval time.Duration
	MaxInterval               time.Duration
}

// Radio transmits one advertisement at a time.
type Radio interface {
	// Configure replaces the advertising payload and parameters.
	Configure(adv Advertisement) error
	// Start begins advertising the configured payload.
	Start() error
	// Stop ends advertising. Stopping an idle radio is not an error.
	Stop() error
	// Advertising reports whether the radio is transmitting.
	Advertising() bool
	// SetTxPower sets the radio output power in dBm.
	SetTxPower(dBm int8) error
	// Limits returns the accepted interval range.
	Limits() Limits
}

// Characteristic describes one characteristic of a hosted service.
type Characteristic struct {
	UUID     string
	Value    []byte
	Readable bool
	Writable bool
}

// WriteFunc receives a write from a connected central.
type WriteFunc func(uuid string, offset int, value []byte)

// GATTServer hosts services for connected centrals.
type GATTServer interface {
	// AddService registers a service. Writes to any of its writable
	// characteristics are delivered to onWrite.
	AddService(uuid string, chars []Characteristic, onWrite WriteFunc) error
	// SetValue updates the value a central reads from a characteristic.
	SetValue(uuid string, value []byte) error
	// SetConnectHandler registers a callback for central connections.
	SetConnectHandler(fn func(connected bool))
}

// Peripheral is a radio that also hosts a GATT server.
type Peripheral interface {
	// Enable powers on the adapter.
	Enable() error
	Radio
	GATTServer
}
