package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/eddystone-beacon/internal/access"
	"github.com/chaz8081/eddystone-beacon/internal/ble"
	"github.com/chaz8081/eddystone-beacon/internal/ble/crypto"
	"github.com/chaz8081/eddystone-beacon/internal/ble/protocol"
	"github.com/chaz8081/eddystone-beacon/internal/slot"
)

// Config holds all application configuration.
type Config struct {
	DeviceName        string          `yaml:"device_name"`
	UnlockKey         HexBytes        `yaml:"unlock_key"`
	RemainConnectable bool            `yaml:"remain_connectable"`
	ConfigMode        ConfigMode      `yaml:"config_mode"`
	Radio             RadioConfig     `yaml:"radio"`
	Slots             []SlotConfig    `yaml:"slots"`
	ParamsPath        string          `yaml:"params_path"`
	Telemetry         TelemetryConfig `yaml:"telemetry"`
	Button            ButtonConfig    `yaml:"button"`
	LogLevel          string          `yaml:"log_level"`
	LogFormat         string          `yaml:"log_format"` // "text" or "json"
}

// ConfigMode holds the connectable configuration advertising settings.
type ConfigMode struct {
	IntervalMS uint32 `yaml:"interval_ms"`
	TimeoutS   uint32 `yaml:"timeout_s"` // 0 stays in config mode
}

// RadioConfig describes what the radio supports.
type RadioConfig struct {
	MinIntervalMS               uint32 `yaml:"min_interval_ms"`
	MinNonConnectableIntervalMS uint32 `yaml:"min_non_connectable_interval_ms"`
	MaxIntervalMS               uint32 `yaml:"max_interval_ms"`
	TxPowerLevels               []int8 `yaml:"tx_power_levels,flow"`
	AdvTxPowerLevels            []int8 `yaml:"adv_tx_power_levels,flow"` // calibrated power at 0 m per level
}

// SlotConfig is the factory default of one slot.
type SlotConfig struct {
	Type             string   `yaml:"type"` // uid, url, tlm or eid
	IntervalMS       uint16   `yaml:"interval_ms"`
	RadioTxPower     int8     `yaml:"radio_tx_power"`
	UID              HexBytes `yaml:"uid"`
	URL              string   `yaml:"url"`
	IdentityKey      HexBytes `yaml:"identity_key"`
	RotationExponent uint8    `yaml:"rotation_exponent"`
}

// TelemetryConfig selects what TLM frames report.
type TelemetryConfig struct {
	SensorKey string `yaml:"sensor_key"` // host temperature sensor, "" = first found
	BatteryMV uint16 `yaml:"battery_mv"` // fixed battery voltage, 0 = not supported
}

// ButtonConfig holds the on/off key combination.
type ButtonConfig struct {
	Keys []string `yaml:"keys"`
}

// HexBytes is a byte string written as hex in YAML.
type HexBytes []byte

// MarshalYAML implements yaml.Marshaler.
func (h HexBytes) MarshalYAML() (any, error) {
	return hex.EncodeToString(h), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HexBytes) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	b, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return fmt.Errorf("line %d: invalid hex %q: %w", node.Line, s, err)
	}
	*h = b
	return nil
}

func mustHex(s string) HexBytes {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "eddystone-beacon")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with the compiled-in default table.
func Default() *Config {
	return &Config{
		DeviceName:        "ES G-EID",
		UnlockKey:         mustHex("00112233445566778899aabbccddeeff"),
		RemainConnectable: true,
		ConfigMode: ConfigMode{
			IntervalMS: 1000,
			TimeoutS:   30,
		},
		Radio: RadioConfig{
			MinIntervalMS:               100,
			MinNonConnectableIntervalMS: 100,
			MaxIntervalMS:               10240,
			TxPowerLevels:               []int8{-30, -16, -4, 4},
			AdvTxPowerLevels:            []int8{-42, -30, -25, -13},
		},
		Slots: []SlotConfig{
			{
				Type:             "eid",
				IntervalMS:       700,
				RadioTxPower:     4,
				UID:              mustHex("000102030405060708090a0b0c0d0e0f"),
				URL:              "http://cf.physical-web.org",
				IdentityKey:      mustHex("a0a1a2a3a4a5a6a7a8a9aaabacadaeaf"),
				RotationExponent: 3,
			},
			{
				Type:             "uid",
				IntervalMS:       0,
				RadioTxPower:     -4,
				UID:              mustHex("101112131415161718191a1b1c1d1e1f"),
				URL:              "http://www.mbed.com/",
				IdentityKey:      mustHex("b0b1b2b3b4b5b6b7b8b9babbbcbdbebf"),
				RotationExponent: 10,
			},
			{
				Type:             "url",
				IntervalMS:       0,
				RadioTxPower:     4,
				UID:              mustHex("202122232425262728292a2b2c2d2e2f"),
				URL:              "http://www.gap.com/",
				IdentityKey:      mustHex("c0c1c2c3c4c5c6c7c8c9cacbcccdcecf"),
				RotationExponent: 10,
			},
		},
		ParamsPath: filepath.Join(DefaultConfigDir(), "params.yaml"),
		Button: ButtonConfig{
			Keys: []string{"ctrl", "shift", "b"},
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in params_path is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ParamsPath = expandTilde(cfg.ParamsPath)

	return cfg, nil
}

// WriteDefault writes the default config to the default path unless a
// file is already there. It returns the path written, or "" when it left
// an existing file alone.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	header := "# eddystone-beacon configuration\n# Slot entries are the factory defaults restored by a factory reset.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if len(c.UnlockKey) != 16 {
		return fmt.Errorf("unlock_key must be 16 bytes, got %d", len(c.UnlockKey))
	}

	if c.Radio.MinNonConnectableIntervalMS == 0 {
		return fmt.Errorf("radio.min_non_connectable_interval_ms must be > 0")
	}
	if c.Radio.MaxIntervalMS < c.Radio.MinNonConnectableIntervalMS || c.Radio.MaxIntervalMS > 0xFFFF {
		return fmt.Errorf("radio.max_interval_ms must be between %d and 65535, got %d",
			c.Radio.MinNonConnectableIntervalMS, c.Radio.MaxIntervalMS)
	}
	if err := c.PowerLevels().Validate(); err != nil {
		return fmt.Errorf("radio power levels: %w", err)
	}

	if _, err := c.SlotDefaults(); err != nil {
		return err
	}

	if len(c.Button.Keys) == 0 {
		return fmt.Errorf("button.keys must not be empty")
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

// SlotDefaults converts the slot table into the slot store's defaults.
func (c *Config) SlotDefaults() (slot.Defaults, error) {
	var d slot.Defaults
	if len(c.Slots) == 0 || len(c.Slots) > slot.MaxSlots {
		return d, fmt.Errorf("slots: need 1..%d entries, got %d", slot.MaxSlots, len(c.Slots))
	}
	for i, sc := range c.Slots {
		t, err := protocol.ParseFrameType(sc.Type)
		if err != nil {
			return d, fmt.Errorf("slots[%d].type: %w", i, err)
		}
		if len(sc.UID) != protocol.UIDLength {
			return d, fmt.Errorf("slots[%d].uid must be %d bytes, got %d", i, protocol.UIDLength, len(sc.UID))
		}
		if len(sc.IdentityKey) != crypto.IdentityKeySize {
			return d, fmt.Errorf("slots[%d].identity_key must be %d bytes, got %d", i, crypto.IdentityKeySize, len(sc.IdentityKey))
		}
		if sc.RotationExponent > crypto.MaxRotationExponent {
			return d, fmt.Errorf("slots[%d].rotation_exponent must be <= %d, got %d", i, crypto.MaxRotationExponent, sc.RotationExponent)
		}
		if _, err := protocol.EncodeURL(sc.URL); err != nil {
			return d, fmt.Errorf("slots[%d].url: %w", i, err)
		}

		var uid [protocol.UIDLength]byte
		copy(uid[:], sc.UID)
		var ik crypto.IdentityKey
		copy(ik[:], sc.IdentityKey)

		d.Types = append(d.Types, t)
		d.Intervals = append(d.Intervals, sc.IntervalMS)
		d.RadioTxPower = append(d.RadioTxPower, sc.RadioTxPower)
		d.UIDs = append(d.UIDs, uid)
		d.URLs = append(d.URLs, sc.URL)
		d.IdentityKeys = append(d.IdentityKeys, ik)
		d.Exponents = append(d.Exponents, sc.RotationExponent)
	}
	return d, d.Validate()
}

// PowerLevels returns the radio and calibrated power tables.
func (c *Config) PowerLevels() slot.PowerLevels {
	return slot.PowerLevels{Radio: c.Radio.TxPowerLevels, Adv: c.Radio.AdvTxPowerLevels}
}

// RadioLimits returns the advertising interval range of the radio.
func (c *Config) RadioLimits() ble.Limits {
	return ble.Limits{
		MinInterval:               time.Duration(c.Radio.MinIntervalMS) * time.Millisecond,
		MinNonConnectableInterval: time.Duration(c.Radio.MinNonConnectableIntervalMS) * time.Millisecond,
		MaxInterval:               time.Duration(c.Radio.MaxIntervalMS) * time.Millisecond,
	}
}

// Key returns the default unlock key. Validate must have passed.
func (c *Config) Key() access.Key {
	var k access.Key
	copy(k[:], c.UnlockKey)
	return k
}

// ConfigInterval returns the config mode advertising interval.
func (c *Config) ConfigInterval() time.Duration {
	return time.Duration(c.ConfigMode.IntervalMS) * time.Millisecond
}

// ConfigTimeout returns how long config mode lasts after boot.
func (c *Config) ConfigTimeout() time.Duration {
	return time.Duration(c.ConfigMode.TimeoutS) * time.Second
}

// ParseLogLevel maps a log_level value to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", s)
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
