package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// Config represents the serialdetect configuration
type Config struct {
	// Network type: "unix" or "tcp"
	Network string `yaml:"network"`

	// Address the daemon listens on
	// For unix: socket path (default: ~/.serialdetect.sock)
	// For tcp: host:port (default: 127.0.0.1:9998)
	Address string `yaml:"address"`

	// LogLevel: debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// LogFormat: text, json, console
	LogFormat string `yaml:"log_format"`

	Stream StreamConfig `yaml:"stream,omitempty"`
	Device DeviceConfig `yaml:"device,omitempty"`
	HTTP   HTTPConfig   `yaml:"http,omitempty"`
	Relay  RelayConfig  `yaml:"relay,omitempty"`
}

// StreamConfig tunes every stream opened by the CLI and daemon.
type StreamConfig struct {
	Buffer      int    `yaml:"buffer,omitempty"`
	Overflow    string `yaml:"overflow,omitempty"`     // block, drop-oldest, drop-newest
	StopTimeout string `yaml:"stop_timeout,omitempty"` // e.g. "2s"
}

// DeviceConfig selects the hotplug backend.
type DeviceConfig struct {
	Backend      string `yaml:"backend,omitempty"` // auto, netlink, poll
	PollInterval string `yaml:"poll_interval,omitempty"`
	SysfsRoot    string `yaml:"sysfs_root,omitempty"`
}

// HTTPConfig enables the daemon's metrics and websocket endpoint. An empty
// address disables it.
type HTTPConfig struct {
	Address     string `yaml:"address,omitempty"`
	OpenBrowser bool   `yaml:"open_browser,omitempty"`
}

// RelayConfig selects where `listen --publish` sends records and where
// `watch --remote` reads them from.
type RelayConfig struct {
	Publisher    string `yaml:"publisher,omitempty"` // log, redis, nats
	RedisURL     string `yaml:"redis_url,omitempty"`
	RedisChannel string `yaml:"redis_channel,omitempty"`
	NATSURL      string `yaml:"nats_url,omitempty"`
	NATSSubject  string `yaml:"nats_subject,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Network:   "unix",
		Address:   "~/.serialdetect.sock",
		LogLevel:  "info",
		LogFormat: "text",
		Stream: StreamConfig{
			Buffer:      1024,
			Overflow:    "block",
			StopTimeout: "2s",
		},
		Device: DeviceConfig{
			Backend:      "auto",
			PollInterval: "1s",
			SysfsRoot:    "/sys",
		},
		Relay: RelayConfig{
			Publisher:    "log",
			RedisURL:     "redis://localhost:6379/0",
			RedisChannel: "serialdetect.events",
			NATSURL:      "nats://127.0.0.1:4222",
			NATSSubject:  "serialdetect.events",
		},
	}
}

// DefaultPath is ~/.config/serialdetect/config.yaml.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "serialdetect", "config.yaml"), nil
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// If no path specified, try the default location
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Network {
	case "unix", "tcp":
		// Valid
	default:
		return fmt.Errorf("invalid network type: %s (must be 'unix' or 'tcp')", c.Network)
	}

	// Expand home directory in address if unix socket
	if c.Network == "unix" {
		expanded, err := homedir.Expand(c.Address)
		if err != nil {
			return fmt.Errorf("failed to expand address: %w", err)
		}
		c.Address = expanded
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}

	switch c.Stream.Overflow {
	case "", "block", "drop-oldest", "drop-newest":
	default:
		return fmt.Errorf("invalid overflow policy: %s", c.Stream.Overflow)
	}
	if c.Stream.Buffer < 0 {
		return fmt.Errorf("invalid stream buffer: %d", c.Stream.Buffer)
	}
	if _, err := parseDuration(c.Stream.StopTimeout); err != nil {
		return fmt.Errorf("invalid stop timeout: %w", err)
	}

	switch c.Device.Backend {
	case "", "auto", "netlink", "poll":
	default:
		return fmt.Errorf("invalid device backend: %s", c.Device.Backend)
	}
	if _, err := parseDuration(c.Device.PollInterval); err != nil {
		return fmt.Errorf("invalid poll interval: %w", err)
	}

	switch c.Relay.Publisher {
	case "", "log", "redis", "nats":
	default:
		return fmt.Errorf("invalid relay publisher: %s", c.Relay.Publisher)
	}

	return nil
}

// StopTimeout returns the parsed stream stop timeout, zero if unset.
func (c *Config) StopTimeout() time.Duration {
	d, _ := parseDuration(c.Stream.StopTimeout)
	return d
}

// PollInterval returns the parsed device poll interval, zero if unset.
func (c *Config) PollInterval() time.Duration {
	d, _ := parseDuration(c.Device.PollInterval)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration: %s", s)
	}
	return d, nil
}
