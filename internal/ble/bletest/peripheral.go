// Package bletest provides an in-memory ble.Peripheral for tests.
package bletest

import (
	"fmt"
	"sync"

	"github.com/chaz8081/eddystone-beacon/internal/ble"
)

// Peripheral records everything the beacon asks of its radio and lets a
// test act as a connected central.
type Peripheral struct {
	mu          sync.Mutex
	limits      ble.Limits
	enabled     bool
	adv         ble.Advertisement
	advertising bool
	txPower     int8
	started     []ble.Advertisement
	stops       int

	values    map[string][]byte
	writable  map[string]bool
	onWrite   ble.WriteFunc
	onConnect func(bool)
}

var _ ble.Peripheral = (*Peripheral)(nil)

// New returns a fake with the given interval limits.
func New(limits ble.Limits) *Peripheral {
	return &Peripheral{
		limits:   limits,
		values:   make(map[string][]byte),
		writable: make(map[string]bool),
	}
}

func (p *Peripheral) Enable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
	return nil
}

func (p *Peripheral) Configure(adv ble.Advertisement) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	adv.ServiceData = append([]byte(nil), adv.ServiceData...)
	p.adv = adv
	return nil
}

func (p *Peripheral) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advertising = true
	p.started = append(p.started, p.adv)
	return nil
}

func (p *Peripheral) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.advertising {
		p.stops++
	}
	p.advertising = false
	return nil
}

func (p *Peripheral) Advertising() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advertising
}

func (p *Peripheral) SetTxPower(dBm int8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txPower = dBm
	return nil
}

func (p *Peripheral) Limits() ble.Limits { return p.limits }

func (p *Peripheral) AddService(uuid string, chars []ble.Characteristic, onWrite ble.WriteFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range chars {
		if _, dup := p.values[c.UUID]; dup {
			return fmt.Errorf("bletest: characteristic %s registered twice", c.UUID)
		}
		p.values[c.UUID] = append([]byte(nil), c.Value...)
		p.writable[c.UUID] = c.Writable
	}
	p.onWrite = onWrite
	return nil
}

func (p *Peripheral) SetValue(uuid string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.values[uuid]; !ok {
		return fmt.Errorf("bletest: unknown characteristic %s", uuid)
	}
	p.values[uuid] = append([]byte(nil), value...)
	return nil
}

func (p *Peripheral) SetConnectHandler(fn func(connected bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = fn
}

// Value returns what a central would read from a characteristic.
func (p *Peripheral) Value(uuid string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.values[uuid]...)
}

// Write delivers a central's write to the registered handler.
func (p *Peripheral) Write(uuid string, offset int, value []byte) error {
	p.mu.Lock()
	fn := p.onWrite
	ok := p.writable[uuid]
	p.mu.Unlock()
	if !ok || fn == nil {
		return fmt.Errorf("bletest: characteristic %s is not writable", uuid)
	}
	fn(uuid, offset, value)
	return nil
}

// Connect simulates a central connecting.
func (p *Peripheral) Connect() { p.notify(true) }

// Disconnect simulates the central going away.
func (p *Peripheral) Disconnect() { p.notify(false) }

func (p *Peripheral) notify(connected bool) {
	p.mu.Lock()
	fn := p.onConnect
	p.mu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

// Current returns the configured advertisement.
func (p *Peripheral) Current() ble.Advertisement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adv
}

// Started returns every advertisement that was started, in order.
func (p *Peripheral) Started() []ble.Advertisement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ble.Advertisement(nil), p.started...)
}

// Stops returns how many times a running advertisement was stopped.
func (p *Peripheral) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// TxPower returns the last radio power set.
func (p *Peripheral) TxPower() int8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txPower
}

// Enabled reports whether Enable was called.
func (p *Peripheral) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Reset clears the advertising history.
func (p *Peripheral) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = nil
	p.stops = 0
}
