package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/jumpsense/internal/ble"
	"github.com/chaz8081/jumpsense/internal/sensor"
)

// Config holds all application configuration.
type Config struct {
	Sensors  SensorsConfig `yaml:"sensors"`
	BLE      BLEConfig     `yaml:"ble"`
	Output   OutputConfig  `yaml:"output"`
	Monitor  bool          `yaml:"monitor"`
	LogLevel string        `yaml:"log_level"`
}

// SensorsConfig describes the sensor deployment.
type SensorsConfig struct {
	RequiredCount int           `yaml:"required_count"`
	Revision      string        `yaml:"revision"` // "a" or "b"
	AutoReconnect bool          `yaml:"auto_reconnect"`
	ScanTimeout   time.Duration `yaml:"scan_timeout"` // 0 waits forever
	ReconnectMax  int           `yaml:"reconnect_max"`
}

// BLEConfig holds GATT identifiers and scan tuning.
type BLEConfig struct {
	ServiceUUID     string        `yaml:"service_uuid"`
	DataCharUUID    string        `yaml:"data_char_uuid"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// OutputConfig selects where decoded samples go.
type OutputConfig struct {
	JSONL  string       `yaml:"jsonl"` // file path, "-" for stdout, empty to disable
	Influx InfluxConfig `yaml:"influx"`
}

// InfluxConfig holds InfluxDB export settings. Export is off when URL is empty.
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "jumpsense")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Sensors: SensorsConfig{
			RequiredCount: 1,
			Revision:      "a",
			ReconnectMax:  30,
		},
		BLE: BLEConfig{
			ServiceUUID:     ble.DefaultServiceUUID,
			DataCharUUID:    ble.DefaultDataCharUUID,
			RefreshInterval: 5 * time.Second,
		},
		Output: OutputConfig{
			Influx: InfluxConfig{
				Measurement: "jump_sensor",
			},
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. A leading ~ in output.jsonl is expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Output.JSONL = expandTilde(cfg.Output.JSONL)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Sensors.RequiredCount <= 0 {
		return fmt.Errorf("sensors.required_count must be > 0")
	}

	if _, err := sensor.ParseRevision(c.Sensors.Revision); err != nil {
		return fmt.Errorf("sensors.revision must be \"a\" or \"b\", got %q", c.Sensors.Revision)
	}

	if c.Sensors.ScanTimeout < 0 {
		return fmt.Errorf("sensors.scan_timeout must be >= 0")
	}

	if c.Sensors.ReconnectMax <= 0 {
		return fmt.Errorf("sensors.reconnect_max must be > 0")
	}

	if c.BLE.ServiceUUID == "" {
		return fmt.Errorf("ble.service_uuid must not be empty")
	}

	if c.BLE.DataCharUUID == "" {
		return fmt.Errorf("ble.data_char_uuid must not be empty")
	}

	if c.Monitor && c.Output.JSONL == "-" {
		return fmt.Errorf("output.jsonl cannot be stdout while monitor is enabled")
	}

	if c.Output.Influx.URL != "" {
		if c.Output.Influx.Org == "" || c.Output.Influx.Bucket == "" {
			return fmt.Errorf("output.influx.org and output.influx.bucket are required when output.influx.url is set")
		}
		if c.Output.Influx.Measurement == "" {
			return fmt.Errorf("output.influx.measurement must not be empty")
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// SessionConfig converts the sensor settings into a ble.SessionConfig.
// Call Validate first.
func (c *Config) SessionConfig() (ble.SessionConfig, error) {
	rev, err := sensor.ParseRevision(c.Sensors.Revision)
	if err != nil {
		return ble.SessionConfig{}, err
	}
	return ble.SessionConfig{
		RequiredSensorCount: c.Sensors.RequiredCount,
		AutoReconnect:       c.Sensors.AutoReconnect,
		Revision:            rev,
		ServiceUUIDs:        []string{c.BLE.ServiceUUID},
		ScanTimeout:         c.Sensors.ScanTimeout,
		ReconnectMax:        c.Sensors.ReconnectMax,
	}, nil
}

const defaultHeader = `# jumpsense configuration
# sensors.revision: "a" (timestamped, 14 bytes) or "b" (orientation, 15 bytes)
# sensors.scan_timeout: 0 waits forever
# output.jsonl: file path, "-" for stdout, empty to disable
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the path written, or "" if the file existed.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a log_level value to a slog.Level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
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
