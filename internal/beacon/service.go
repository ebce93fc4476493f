// Package beacon is the Eddystone beacon service. It owns the slot store,
// the lock state machine and the advertising scheduler, hosts the
// configuration GATT service, and switches between config advertising
// (connectable, for a configuration app) and beacon advertising.
//
// A Service is driven by one event loop. Everything that touches its state
// runs as a task on that loop; radio callbacks are handed over with
// Loop.Call.
package beacon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/chaz8081/eddystone-beacon/internal/access"
	"github.com/chaz8081/eddystone-beacon/internal/advert"
	"github.com/chaz8081/eddystone-beacon/internal/ble"
	"github.com/chaz8081/eddystone-beacon/internal/ble/crypto"
	"github.com/chaz8081/eddystone-beacon/internal/ble/protocol"
	"github.com/chaz8081/eddystone-beacon/internal/eventloop"
	"github.com/chaz8081/eddystone-beacon/internal/slot"
)

// Mode is what the beacon is currently advertising.
type Mode int

const (
	ModeNone Mode = iota
	ModeConfig
	ModeBeacon
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeConfig:
		return "config"
	case ModeBeacon:
		return "beacon"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// reconnectDelay is how long after a disconnection beacon advertising
// resumes.
const reconnectDelay = 500 * time.Millisecond

// Options configures a Service.
type Options struct {
	Defaults          slot.Defaults
	Levels            slot.PowerLevels
	UnlockKey         access.Key
	RemainConnectable bool

	DeviceName     string
	ConfigInterval time.Duration // 0 refuses config mode
	ConfigTimeout  time.Duration

	// Entropy feeds key generation and unlock challenges; nil means
	// crypto/rand.
	Entropy io.Reader
	// Uptime reports time since boot; nil measures from New on the loop
	// clock.
	Uptime func() time.Duration
	// Telemetry supplies TLM battery and temperature; nil leaves them
	// unset.
	Telemetry slot.TelemetrySource
	// Params persists configuration; nil keeps it in memory only.
	Params ParamStore
}

// Service is the beacon. Create one with New and start it with Start.
type Service struct {
	loop  *eventloop.Loop
	radio ble.Peripheral
	opts  Options

	store  *slot.Store
	lock   *access.Controller
	sched  *advert.Scheduler
	params ParamStore
	caps   protocol.Capabilities

	priv crypto.PrivateKey
	pub  crypto.PublicKey

	activeSlot        int
	remainConnectable bool
	challenge         []byte // published unlock challenge, nil when none

	mode      Mode
	beaconOn  bool
	connected bool
	timeout   eventloop.Handle // pending switch to beacon mode
}

// New builds a beacon from its compiled-in defaults, then overlays any
// params saved earlier. Nothing is advertised until Start.
func New(loop *eventloop.Loop, radio ble.Peripheral, opts Options) (*Service, error) {
	uptime := opts.Uptime
	if uptime == nil {
		boot := loop.Now()
		uptime = func() time.Duration { return loop.Now().Sub(boot) }
	}
	intervalLimits := slot.IntervalLimits{
		MinNonConnectable: uint16(radio.Limits().MinNonConnectableInterval / time.Millisecond),
		Max:               uint16(radio.Limits().MaxInterval / time.Millisecond),
	}
	store, err := slot.NewStore(opts.Defaults, opts.Levels, intervalLimits, uptime)
	if err != nil {
		return nil, fmt.Errorf("beacon: %w", err)
	}
	if opts.Telemetry != nil {
		store.SetTelemetrySource(opts.Telemetry)
	}

	s := &Service{
		loop:              loop,
		radio:             radio,
		opts:              opts,
		store:             store,
		lock:              access.NewController(opts.UnlockKey, opts.Entropy),
		sched:             advert.New(loop, radio, store),
		params:            opts.Params,
		caps:              protocol.DefaultCapabilities(store.Len(), opts.Levels.Radio),
		remainConnectable: opts.RemainConnectable,
		beaconOn:          true,
	}
	if err := s.generateKeys(); err != nil {
		return nil, err
	}

	if s.params != nil {
		p, ok, err := s.params.LoadParams()
		switch {
		case err != nil:
			slog.Warn("[BEACON] load params failed, using defaults", "error", err)
		case ok:
			if err := s.Restore(p); err != nil {
				slog.Warn("[BEACON] saved params rejected, using defaults", "error", err)
			} else {
				slog.Info("[BEACON] params restored", "lock", s.lock.State(), "active_slot", s.activeSlot)
			}
		}
	}
	return s, nil
}

func (s *Service) generateKeys() error {
	priv, pub, err := crypto.GenerateBeaconKeys(s.opts.Entropy)
	if err != nil {
		return fmt.Errorf("beacon: generate keys: %w", err)
	}
	s.priv, s.pub = priv, pub
	return nil
}

// Start enables the radio, registers the configuration service, saves
// the params and enters config mode with its timeout. It must run on the
// loop goroutine, or before the loop runs.
func (s *Service) Start() error {
	if err := s.radio.Enable(); err != nil {
		return fmt.Errorf("beacon: %w", err)
	}
	if err := s.registerService(); err != nil {
		return err
	}
	s.radio.SetConnectHandler(func(connected bool) {
		if err := s.loop.Call(context.Background(), func() { s.onConnection(connected) }); err != nil {
			slog.Warn("[BEACON] connection event dropped", "connected", connected, "error", err)
		}
	})
	if s.lock.Locked() {
		s.issueChallenge()
	}
	s.publish()
	s.save()

	return s.enterConfig()
}

// Shutdown stops advertising, cancels pending work and saves the params.
func (s *Service) Shutdown() {
	s.cancelTimeout()
	s.StopAdvertisements()
	s.save()
	slog.Info("[BEACON] shut down")
}

// Mode reports what is being advertised.
func (s *Service) Mode() Mode { return s.mode }

// PublicKey returns the beacon's current ECDH public key.
func (s *Service) PublicKey() crypto.PublicKey { return s.pub }

// LockState returns the current lock state.
func (s *Service) LockState() access.State { return s.lock.State() }

// Slots exposes the slot store, for inspection.
func (s *Service) Slots() *slot.Store { return s.store }

// Scheduler exposes the advertising scheduler, for inspection.
func (s *Service) Scheduler() *advert.Scheduler { return s.sched }

// StartConfigAdvertisements advertises the configuration service:
// connectable, with the service UUID and the device name, at the highest
// radio power.
func (s *Service) StartConfigAdvertisements() error {
	s.StopAdvertisements()
	if s.opts.ConfigInterval <= 0 {
		return fmt.Errorf("beacon: config mode: %w", advert.ErrInvalidAdvertisingInterval)
	}
	levels := s.store.Levels().Radio
	if err := s.radio.SetTxPower(levels[len(levels)-1]); err != nil {
		return fmt.Errorf("beacon: %w", err)
	}
	if err := s.radio.Configure(ble.Advertisement{
		Connectable:  true,
		Interval:     s.opts.ConfigInterval,
		LocalName:    s.opts.DeviceName,
		ServiceUUIDs: []string{ble.ConfigServiceUUID},
	}); err != nil {
		return fmt.Errorf("beacon: %w", err)
	}
	if err := s.radio.Start(); err != nil {
		return fmt.Errorf("beacon: %w", err)
	}
	s.mode = ModeConfig
	slog.Info("[BEACON] config advertising started", "name", s.opts.DeviceName, "interval", s.opts.ConfigInterval)
	return nil
}

// StartBeaconAdvertisements hands the radio to the slot scheduler,
// connectable when RemainConnectable is set.
func (s *Service) StartBeaconAdvertisements() error {
	s.StopAdvertisements()
	if err := s.sched.Start(s.remainConnectable); err != nil {
		return fmt.Errorf("beacon: beacon mode: %w", err)
	}
	s.mode = ModeBeacon
	return nil
}

// StopAdvertisements cancels every slot producer and the radio manager
// and stops the radio.
func (s *Service) StopAdvertisements() {
	s.sched.Stop()
	if s.radio.Advertising() {
		if err := s.radio.Stop(); err != nil {
			slog.Warn("[BEACON] stop advertising failed", "error", err)
		}
	}
	s.mode = ModeNone
}

// enterConfig starts config advertising and arms the switch to beacon
// mode.
func (s *Service) enterConfig() error {
	s.cancelTimeout()
	err := s.StartConfigAdvertisements()
	if s.opts.ConfigTimeout > 0 {
		s.timeout = s.loop.PostIn(s.opts.ConfigTimeout, s.onConfigTimeout)
	}
	return err
}

func (s *Service) cancelTimeout() {
	s.loop.Cancel(s.timeout)
	s.timeout = 0
}

// onConfigTimeout switches to beacon mode unless a central is connected;
// then the switch waits for the disconnection.
func (s *Service) onConfigTimeout() {
	s.timeout = 0
	if s.connected {
		return
	}
	if err := s.StartBeaconAdvertisements(); err != nil {
		slog.Error("[BEACON] cannot start beacon mode", "error", err)
	}
}

func (s *Service) onConnection(connected bool) {
	s.connected = connected
	if connected {
		slog.Info("[BEACON] central connected")
		s.StopAdvertisements()
		return
	}

	slog.Info("[BEACON] central disconnected")
	if s.lock.State() == access.Unlocked {
		if err := s.lock.SetLockState([]byte{byte(access.Locked)}, 0); err == nil {
			slog.Info("[BEACON] relocked on disconnect")
			s.issueChallenge()
		}
	}
	s.publish()
	s.save()
	s.cancelTimeout()
	s.timeout = s.loop.PostIn(reconnectDelay, s.onConfigTimeout)
}

// ToggleBeacon is the button action: a running beacon is switched off; a
// switched-off beacon re-enters config mode with its timeout.
func (s *Service) ToggleBeacon() {
	s.cancelTimeout()
	if s.beaconOn {
		s.beaconOn = false
		s.StopAdvertisements()
		slog.Info("[BEACON] switched off")
		return
	}
	s.beaconOn = true
	if err := s.enterConfig(); err != nil {
		slog.Error("[BEACON] cannot start config mode", "error", err)
	}
	slog.Info("[BEACON] switched on")
}

// FactoryReset restores every slot, the lock and the power tables to
// their defaults and generates a new ECDH key pair.
func (s *Service) FactoryReset() error {
	if err := s.store.SetLevels(s.opts.Levels); err != nil {
		return fmt.Errorf("beacon: factory reset: %w", err)
	}
	if err := s.store.FactoryReset(); err != nil {
		return fmt.Errorf("beacon: factory reset: %w", err)
	}
	s.lock.Reset(s.opts.UnlockKey)
	s.challenge = nil
	s.activeSlot = 0
	s.remainConnectable = s.opts.RemainConnectable
	s.caps = protocol.DefaultCapabilities(s.store.Len(), s.opts.Levels.Radio)
	if err := s.generateKeys(); err != nil {
		// The previous key pair stays in place.
		return err
	}
	slog.Info("[BEACON] factory reset")
	return nil
}

// issueChallenge replaces the unlock challenge and publishes it. The radio
// stack cannot run code on a read, so a fresh challenge is published
// whenever the beacon locks, after each unlock attempt and on each Read.
// It reports whether a challenge is available.
func (s *Service) issueChallenge() bool {
	ch, err := s.lock.Challenge()
	if err != nil {
		slog.Error("[BEACON] cannot issue unlock challenge", "error", err)
		s.challenge = nil
	} else {
		s.challenge = append([]byte(nil), ch[:]...)
	}
	if err := s.radio.SetValue(ble.UnlockCharUUID, s.challenge); err != nil {
		slog.Warn("[GATT] publish challenge failed", "error", err)
	}
	return s.challenge != nil
}

var errUnknownCharacteristic = errors.New("beacon: unknown characteristic")
