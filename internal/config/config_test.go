package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/eddystone-beacon/internal/ble/protocol"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DeviceName != "ES G-EID" {
		t.Errorf("DeviceName = %q, want %q", cfg.DeviceName, "ES G-EID")
	}
	if len(cfg.UnlockKey) != 16 || cfg.UnlockKey[0] != 0x00 || cfg.UnlockKey[15] != 0xFF {
		t.Errorf("UnlockKey = %x", []byte(cfg.UnlockKey))
	}
	if cfg.ConfigInterval() != time.Second {
		t.Errorf("ConfigInterval() = %v, want 1s", cfg.ConfigInterval())
	}
	if cfg.ConfigTimeout() != 30*time.Second {
		t.Errorf("ConfigTimeout() = %v, want 30s", cfg.ConfigTimeout())
	}
	if !cfg.RemainConnectable {
		t.Error("RemainConnectable should default to true")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestSlotDefaults(t *testing.T) {
	d, err := Default().SlotDefaults()
	if err != nil {
		t.Fatalf("SlotDefaults() error = %v", err)
	}
	wantTypes := []protocol.FrameType{protocol.FrameTypeEID, protocol.FrameTypeUID, protocol.FrameTypeURL}
	if diff := cmp.Diff(wantTypes, d.Types); diff != "" {
		t.Errorf("Types mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint16{700, 0, 0}, d.Intervals); diff != "" {
		t.Errorf("Intervals mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int8{4, -4, 4}, d.RadioTxPower); diff != "" {
		t.Errorf("RadioTxPower mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint8{3, 10, 10}, d.Exponents); diff != "" {
		t.Errorf("Exponents mismatch (-want +got):\n%s", diff)
	}
	if d.IdentityKeys[0][0] != 0xA0 || d.IdentityKeys[2][15] != 0xCF {
		t.Errorf("IdentityKeys = %x", d.IdentityKeys)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
device_name: Lobby
unlock_key: "ffeeddccbbaa99887766554433221100"
remain_connectable: false
config_mode:
  interval_ms: 500
  timeout_s: 10
slots:
  - type: url
    interval_ms: 1000
    radio_tx_power: -4
    uid: "000102030405060708090a0b0c0d0e0f"
    url: "https://example.com"
    identity_key: "a0a1a2a3a4a5a6a7a8a9aaabacadaeaf"
    rotation_exponent: 10
log_level: debug
log_format: json
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.DeviceName != "Lobby" {
		t.Errorf("DeviceName = %q, want %q", cfg.DeviceName, "Lobby")
	}
	if cfg.Key()[0] != 0xFF {
		t.Errorf("Key() = %x", cfg.Key())
	}
	if cfg.RemainConnectable {
		t.Error("RemainConnectable = true, want false")
	}
	if cfg.ConfigTimeout() != 10*time.Second {
		t.Errorf("ConfigTimeout() = %v, want 10s", cfg.ConfigTimeout())
	}
	if len(cfg.Slots) != 1 || cfg.Slots[0].URL != "https://example.com" {
		t.Errorf("Slots = %+v", cfg.Slots)
	}
	// Fields absent from the file keep their defaults.
	if len(cfg.Radio.TxPowerLevels) != 4 {
		t.Errorf("Radio.TxPowerLevels = %v, want defaults", cfg.Radio.TxPowerLevels)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "json")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
params_path: ~/beacon/params.yaml
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "beacon/params.yaml")
	if cfg.ParamsPath != expected {
		t.Errorf("ParamsPath = %q, want %q", cfg.ParamsPath, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadRejectsBadHex(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("unlock_key: \"zz\"\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on a non-hex key")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "short unlock key",
			modify:  func(c *Config) { c.UnlockKey = c.UnlockKey[:8] },
			wantErr: true,
		},
		{
			name:    "no slots",
			modify:  func(c *Config) { c.Slots = nil },
			wantErr: true,
		},
		{
			name: "too many slots",
			modify: func(c *Config) {
				for len(c.Slots) <= 8 {
					c.Slots = append(c.Slots, c.Slots[0])
				}
			},
			wantErr: true,
		},
		{
			name:    "unknown frame type",
			modify:  func(c *Config) { c.Slots[0].Type = "ibeacon" },
			wantErr: true,
		},
		{
			name:    "short uid",
			modify:  func(c *Config) { c.Slots[1].UID = c.Slots[1].UID[:10] },
			wantErr: true,
		},
		{
			name:    "rotation exponent too large",
			modify:  func(c *Config) { c.Slots[0].RotationExponent = 16 },
			wantErr: true,
		},
		{
			name:    "url too long",
			modify:  func(c *Config) { c.Slots[2].URL = "http://a-very-long-host-name-for-a-beacon.example/path" },
			wantErr: true,
		},
		{
			name:    "power tables differ in size",
			modify:  func(c *Config) { c.Radio.AdvTxPowerLevels = c.Radio.AdvTxPowerLevels[:3] },
			wantErr: true,
		},
		{
			name:    "power levels descending",
			modify:  func(c *Config) { c.Radio.TxPowerLevels = []int8{4, -4, -16, -30} },
			wantErr: true,
		},
		{
			name:    "zero non-connectable interval",
			modify:  func(c *Config) { c.Radio.MinNonConnectableIntervalMS = 0 },
			wantErr: true,
		},
		{
			name:    "empty button keys",
			modify:  func(c *Config) { c.Button.Keys = nil },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRadioLimits(t *testing.T) {
	l := Default().RadioLimits()
	if l.MinNonConnectableInterval != 100*time.Millisecond || l.MaxInterval != 10240*time.Millisecond {
		t.Errorf("RadioLimits() = %+v", l)
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "eddystone-beacon", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# eddystone-beacon") {
		t.Error("written config should start with header comment")
	}

	// The written file must read back to the defaults.
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if diff := cmp.Diff(Default(), &cfg); diff != "" {
		t.Errorf("written config mismatch (-default +written):\n%s", diff)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "eddystone-beacon")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("device_name: Custom\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}
