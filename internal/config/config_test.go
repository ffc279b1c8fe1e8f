package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/jumpsense/internal/ble"
	"github.com/chaz8081/jumpsense/internal/sensor"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Sensors.RequiredCount != 1 {
		t.Errorf("Sensors.RequiredCount = %d, want 1", cfg.Sensors.RequiredCount)
	}
	if cfg.Sensors.Revision != "a" {
		t.Errorf("Sensors.Revision = %q, want %q", cfg.Sensors.Revision, "a")
	}
	if cfg.Sensors.AutoReconnect {
		t.Error("Sensors.AutoReconnect should default to false")
	}
	if cfg.Sensors.ScanTimeout != 0 {
		t.Errorf("Sensors.ScanTimeout = %v, want 0", cfg.Sensors.ScanTimeout)
	}
	if cfg.BLE.ServiceUUID != ble.DefaultServiceUUID {
		t.Errorf("BLE.ServiceUUID = %q, want %q", cfg.BLE.ServiceUUID, ble.DefaultServiceUUID)
	}
	if cfg.BLE.DataCharUUID != ble.DefaultDataCharUUID {
		t.Errorf("BLE.DataCharUUID = %q, want %q", cfg.BLE.DataCharUUID, ble.DefaultDataCharUUID)
	}
	if cfg.Output.JSONL != "" || cfg.Output.Influx.URL != "" {
		t.Error("outputs should be disabled by default")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
sensors:
  required_count: 3
  revision: b
  auto_reconnect: true
  scan_timeout: 30s
  reconnect_max: 10
ble:
  refresh_interval: 2s
output:
  jsonl: /tmp/samples.jsonl
  influx:
    url: http://localhost:8086
    org: gym
    bucket: jumps
monitor: true
log_level: debug
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

	if cfg.Sensors.RequiredCount != 3 {
		t.Errorf("Sensors.RequiredCount = %d, want 3", cfg.Sensors.RequiredCount)
	}
	if cfg.Sensors.Revision != "b" {
		t.Errorf("Sensors.Revision = %q, want %q", cfg.Sensors.Revision, "b")
	}
	if !cfg.Sensors.AutoReconnect {
		t.Error("Sensors.AutoReconnect = false, want true")
	}
	if cfg.Sensors.ScanTimeout != 30*time.Second {
		t.Errorf("Sensors.ScanTimeout = %v, want 30s", cfg.Sensors.ScanTimeout)
	}
	if cfg.Sensors.ReconnectMax != 10 {
		t.Errorf("Sensors.ReconnectMax = %d, want 10", cfg.Sensors.ReconnectMax)
	}
	if cfg.BLE.RefreshInterval != 2*time.Second {
		t.Errorf("BLE.RefreshInterval = %v, want 2s", cfg.BLE.RefreshInterval)
	}
	// Unset keys keep their defaults.
	if cfg.BLE.ServiceUUID != ble.DefaultServiceUUID {
		t.Errorf("BLE.ServiceUUID = %q, want default", cfg.BLE.ServiceUUID)
	}
	if cfg.Output.JSONL != "/tmp/samples.jsonl" {
		t.Errorf("Output.JSONL = %q, want %q", cfg.Output.JSONL, "/tmp/samples.jsonl")
	}
	if cfg.Output.Influx.Bucket != "jumps" {
		t.Errorf("Output.Influx.Bucket = %q, want %q", cfg.Output.Influx.Bucket, "jumps")
	}
	if cfg.Output.Influx.Measurement != "jump_sensor" {
		t.Errorf("Output.Influx.Measurement = %q, want default", cfg.Output.Influx.Measurement)
	}
	if !cfg.Monitor {
		t.Error("Monitor = false, want true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
output:
  jsonl: ~/jumps/samples.jsonl
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

	expected := filepath.Join(home, "jumps/samples.jsonl")
	if cfg.Output.JSONL != expected {
		t.Errorf("Output.JSONL = %q, want %q", cfg.Output.JSONL, expected)
	}
}

func TestLoadStdoutNotExpanded(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("output:\n  jsonl: \"-\"\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Output.JSONL != "-" {
		t.Errorf("Output.JSONL = %q, want %q", cfg.Output.JSONL, "-")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("sensors: [1, 2"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on malformed YAML")
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
			name:    "zero required count",
			modify:  func(c *Config) { c.Sensors.RequiredCount = 0 },
			wantErr: true,
		},
		{
			name:    "unknown revision",
			modify:  func(c *Config) { c.Sensors.Revision = "c" },
			wantErr: true,
		},
		{
			name:    "uppercase revision",
			modify:  func(c *Config) { c.Sensors.Revision = "B" },
			wantErr: false,
		},
		{
			name:    "negative scan timeout",
			modify:  func(c *Config) { c.Sensors.ScanTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero reconnect max",
			modify:  func(c *Config) { c.Sensors.ReconnectMax = 0 },
			wantErr: true,
		},
		{
			name:    "empty service uuid",
			modify:  func(c *Config) { c.BLE.ServiceUUID = "" },
			wantErr: true,
		},
		{
			name:    "empty data characteristic uuid",
			modify:  func(c *Config) { c.BLE.DataCharUUID = "" },
			wantErr: true,
		},
		{
			name:    "influx without bucket",
			modify:  func(c *Config) { c.Output.Influx.URL = "http://localhost:8086"; c.Output.Influx.Org = "gym" },
			wantErr: true,
		},
		{
			name: "influx complete",
			modify: func(c *Config) {
				c.Output.Influx.URL = "http://localhost:8086"
				c.Output.Influx.Org = "gym"
				c.Output.Influx.Bucket = "jumps"
			},
			wantErr: false,
		},
		{
			name:    "jsonl on stdout with monitor",
			modify:  func(c *Config) { c.Monitor = true; c.Output.JSONL = "-" },
			wantErr: true,
		},
		{
			name:    "jsonl on stdout without monitor",
			modify:  func(c *Config) { c.Output.JSONL = "-" },
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
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

func TestSessionConfig(t *testing.T) {
	cfg := Default()
	cfg.Sensors.RequiredCount = 2
	cfg.Sensors.Revision = "b"
	cfg.Sensors.AutoReconnect = true
	cfg.Sensors.ScanTimeout = 10 * time.Second

	sc, err := cfg.SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig() error = %v", err)
	}
	if sc.RequiredSensorCount != 2 {
		t.Errorf("RequiredSensorCount = %d, want 2", sc.RequiredSensorCount)
	}
	if sc.Revision != sensor.RevisionB {
		t.Errorf("Revision = %v, want %v", sc.Revision, sensor.RevisionB)
	}
	if !sc.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if sc.ScanTimeout != 10*time.Second {
		t.Errorf("ScanTimeout = %v, want 10s", sc.ScanTimeout)
	}
	if len(sc.ServiceUUIDs) != 1 || sc.ServiceUUIDs[0] != ble.DefaultServiceUUID {
		t.Errorf("ServiceUUIDs = %v, want [%s]", sc.ServiceUUIDs, ble.DefaultServiceUUID)
	}
}

func TestSessionConfigBadRevision(t *testing.T) {
	cfg := Default()
	cfg.Sensors.Revision = "z"
	if _, err := cfg.SessionConfig(); err == nil {
		t.Error("SessionConfig() should fail for an unknown revision")
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

	expectedPath := filepath.Join(tmpHome, ".config", "jumpsense", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# jumpsense") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Sensors.Revision != "a" {
		t.Errorf("written config Sensors.Revision = %q, want %q", cfg.Sensors.Revision, "a")
	}
	if cfg.BLE.RefreshInterval != 5*time.Second {
		t.Errorf("written config BLE.RefreshInterval = %v, want 5s", cfg.BLE.RefreshInterval)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "jumpsense")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("sensors:\n  required_count: 4\n")
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

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
