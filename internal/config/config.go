package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel          string        `yaml:"log_level"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	BLE               BLEConfig     `yaml:"ble"`
	Output            OutputConfig  `yaml:"output"`
	Command           CommandConfig `yaml:"command"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// BLEConfig holds peripheral discovery and connection settings.
type BLEConfig struct {
	ServiceUUID         string        `yaml:"service_uuid"` // empty lists every advertiser
	ReadCharacteristic  string        `yaml:"read_characteristic"`
	WriteCharacteristic string        `yaml:"write_characteristic"`
	ScanTimeout         time.Duration `yaml:"scan_timeout"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	Warmup              time.Duration `yaml:"warmup"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	Cooldown            time.Duration `yaml:"cooldown"`
	MaxWriteBytes       int           `yaml:"max_write_bytes"`
}

// OutputConfig holds settings for the per-stream data files.
type OutputConfig struct {
	Directory      string `yaml:"directory"`
	Extension      string `yaml:"extension"`
	BufferCapacity int    `yaml:"buffer_capacity"`
	FlushQueue     int    `yaml:"flush_queue"`
}

// CommandConfig holds operator command settings.
type CommandConfig struct {
	StopKeyword  string        `yaml:"stop_keyword"`
	IdleInterval time.Duration `yaml:"idle_interval"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ble-logger")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		BLE: BLEConfig{
			ReadCharacteristic:  "00001143-0000-1000-8000-00805f9b34fb",
			WriteCharacteristic: "00001142-0000-1000-8000-00805f9b34fb",
			ScanTimeout:         5 * time.Second,
			ConnectTimeout:      10 * time.Second,
			Warmup:              2 * time.Second,
			PollInterval:        3 * time.Second,
			Cooldown:            15 * time.Second,
			MaxWriteBytes:       512,
		},
		Output: OutputConfig{
			Directory:      "~/ble-logger/data",
			Extension:      ".csv",
			BufferCapacity: 256,
			FlushQueue:     16,
		},
		Command: CommandConfig{
			StopKeyword:  "stop",
			IdleInterval: 2 * time.Second,
		},
		HeartbeatInterval: 5 * time.Second,
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in output.directory is expanded to the user's
// home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Output.Directory = expandTilde(cfg.Output.Directory)

	return cfg, nil
}

// OutputDirectory returns output.directory with a leading ~ expanded.
func (c *Config) OutputDirectory() string {
	return expandTilde(c.Output.Directory)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.BLE.ServiceUUID != "" {
		if _, err := uuid.Parse(c.BLE.ServiceUUID); err != nil {
			return fmt.Errorf("ble.service_uuid: %w", err)
		}
	}
	if _, err := uuid.Parse(c.BLE.ReadCharacteristic); err != nil {
		return fmt.Errorf("ble.read_characteristic: %w", err)
	}
	if _, err := uuid.Parse(c.BLE.WriteCharacteristic); err != nil {
		return fmt.Errorf("ble.write_characteristic: %w", err)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"ble.scan_timeout", c.BLE.ScanTimeout},
		{"ble.connect_timeout", c.BLE.ConnectTimeout},
		{"ble.poll_interval", c.BLE.PollInterval},
		{"command.idle_interval", c.Command.IdleInterval},
		{"heartbeat_interval", c.HeartbeatInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be > 0", d.name)
		}
	}
	if c.BLE.Warmup < 0 {
		return errors.New("ble.warmup must not be negative")
	}
	if c.BLE.Cooldown < 0 {
		return errors.New("ble.cooldown must not be negative")
	}

	if c.BLE.MaxWriteBytes <= 0 {
		return errors.New("ble.max_write_bytes must be > 0")
	}
	if strings.TrimSpace(c.Output.Directory) == "" {
		return errors.New("output.directory must not be empty")
	}
	if c.Output.BufferCapacity <= 0 {
		return errors.New("output.buffer_capacity must be > 0")
	}
	if c.Output.FlushQueue <= 0 {
		return errors.New("output.flush_queue must be > 0")
	}
	if strings.TrimSpace(c.Command.StopKeyword) == "" {
		return errors.New("command.stop_keyword must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the path written, or "" if a config was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	header := "# ble-logger configuration\n# Durations use Go syntax (e.g. 500ms, 5s).\n\n"
	if err := os.WriteFile(path, append([]byte(header), body...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
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
