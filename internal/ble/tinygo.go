//go:build linux

package ble

import (
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

// eddystoneUUID is the 16-bit service UUID the beacon frames are carried under.
var eddystoneUUID = bluetooth.New16BitUUID(0xFEAA)

// TinyGoPeripheral wraps tinygo-org/bluetooth (BlueZ on Linux) as a
// Peripheral.
type TinyGoPeripheral struct {
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement
	limits  Limits

	// mu protects the fields below.
	mu          sync.Mutex
	advertising bool
	txPower     int8
	chars       map[string]*bluetooth.Characteristic
}

// NewPeripheral creates a Peripheral on the default adapter.
func NewPeripheral(limits Limits) (Peripheral, error) {
	return &TinyGoPeripheral{
		adapter: bluetooth.DefaultAdapter,
		limits:  limits,
		chars:   make(map[string]*bluetooth.Characteristic),
	}, nil
}

func (p *TinyGoPeripheral) Enable() error {
	if err := p.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	p.adv = p.adapter.DefaultAdvertisement()
	return nil
}

func (p *TinyGoPeripheral) Configure(a Advertisement) error {
	if p.adv == nil {
		return fmt.Errorf("ble: adapter not enabled")
	}
	opts := bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeNonConnInd,
		LocalName:         a.LocalName,
		Interval:          bluetooth.NewDuration(a.Interval),
	}
	if a.Connectable {
		opts.AdvertisementType = bluetooth.AdvertisingTypeInd
	}
	for _, s := range a.ServiceUUIDs {
		uuid, err := bluetooth.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("ble: parse service UUID: %w", err)
		}
		opts.ServiceUUIDs = append(opts.ServiceUUIDs, uuid)
	}
	if a.ServiceData != nil {
		opts.ServiceData = []bluetooth.ServiceDataElement{
			{UUID: eddystoneUUID, Data: a.ServiceData},
		}
	}
	if err := p.adv.Configure(opts); err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	return nil
}

func (p *TinyGoPeripheral) Start() error {
	if p.adv == nil {
		return fmt.Errorf("ble: adapter not enabled")
	}
	if err := p.adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertising: %w", err)
	}
	p.mu.Lock()
	p.advertising = true
	p.mu.Unlock()
	return nil
}

func (p *TinyGoPeripheral) Stop() error {
	p.mu.Lock()
	running := p.advertising
	p.advertising = false
	p.mu.Unlock()
	if !running || p.adv == nil {
		return nil
	}
	if err := p.adv.Stop(); err != nil {
		return fmt.Errorf("ble: stop advertising: %w", err)
	}
	return nil
}

func (p *TinyGoPeripheral) Advertising() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advertising
}

// SetTxPower records the requested power. BlueZ picks the output power
// itself, so the value is only reported in the calibrated frame byte.
func (p *TinyGoPeripheral) SetTxPower(dBm int8) error {
	p.mu.Lock()
	changed := p.txPower != dBm
	p.txPower = dBm
	p.mu.Unlock()
	if changed {
		slog.Debug("[BLE] radio tx power requested", "dbm", dBm)
	}
	return nil
}

func (p *TinyGoPeripheral) Limits() Limits { return p.limits }

func (p *TinyGoPeripheral) AddService(uuid string, chars []Characteristic, onWrite WriteFunc) error {
	svcUUID, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return fmt.Errorf("ble: parse service UUID: %w", err)
	}

	handles := make([]*bluetooth.Characteristic, len(chars))
	configs := make([]bluetooth.CharacteristicConfig, len(chars))
	for i, c := range chars {
		charUUID, err := bluetooth.ParseUUID(c.UUID)
		if err != nil {
			return fmt.Errorf("ble: parse characteristic UUID: %w", err)
		}
		var flags bluetooth.CharacteristicPermissions
		if c.Readable {
			flags |= bluetooth.CharacteristicReadPermission
		}
		handles[i] = new(bluetooth.Characteristic)
		configs[i] = bluetooth.CharacteristicConfig{
			Handle: handles[i],
			UUID:   charUUID,
			Value:  append([]byte(nil), c.Value...),
			Flags:  flags,
		}
		if c.Writable {
			configs[i].Flags |= bluetooth.CharacteristicWritePermission
			id := c.UUID
			configs[i].WriteEvent = func(_ bluetooth.Connection, offset int, value []byte) {
				onWrite(id, offset, append([]byte(nil), value...))
			}
		}
	}

	if err := p.adapter.AddService(&bluetooth.Service{UUID: svcUUID, Characteristics: configs}); err != nil {
		return fmt.Errorf("ble: add service: %w", err)
	}

	p.mu.Lock()
	for i, c := range chars {
		p.chars[c.UUID] = handles[i]
	}
	p.mu.Unlock()
	return nil
}

func (p *TinyGoPeripheral) SetValue(uuid string, value []byte) error {
	p.mu.Lock()
	h, ok := p.chars[uuid]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: characteristic %s not registered", uuid)
	}
	if _, err := h.Write(value); err != nil {
		return fmt.Errorf("ble: set %s: %w", uuid, err)
	}
	return nil
}

func (p *TinyGoPeripheral) SetConnectHandler(fn func(connected bool)) {
	p.adapter.SetConnectHandler(func(_ bluetooth.Device, connected bool) {
		fn(connected)
	})
}

// Compile-time check that TinyGoPeripheral implements Peripheral.
var _ Peripheral = (*TinyGoPeripheral)(nil)
