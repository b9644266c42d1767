package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Network != "unix" {
		t.Errorf("DefaultConfig() Network = %v, want %v", cfg.Network, "unix")
	}
	if cfg.Address != "~/.serialdetect.sock" {
		t.Errorf("DefaultConfig() Address = %v, want %v", cfg.Address, "~/.serialdetect.sock")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("DefaultConfig() LogLevel = %v, want %v", cfg.LogLevel, "info")
	}
	if cfg.Stream.Buffer != 1024 {
		t.Errorf("DefaultConfig() Stream.Buffer = %v, want %v", cfg.Stream.Buffer, 1024)
	}
	if cfg.StopTimeout() != 2*time.Second {
		t.Errorf("DefaultConfig() StopTimeout() = %v, want %v", cfg.StopTimeout(), 2*time.Second)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig() does not validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    *Config
		wantErr bool
	}{
		{
			name: "valid config",
			content: `network: tcp
address: 127.0.0.1:8888
log_level: debug
stream:
  buffer: 16
  overflow: drop-oldest
device:
  backend: poll
  poll_interval: 250ms`,
			want: &Config{
				Network:  "tcp",
				Address:  "127.0.0.1:8888",
				LogLevel: "debug",
				Stream:   StreamConfig{Buffer: 16, Overflow: "drop-oldest"},
				Device:   DeviceConfig{Backend: "poll", PollInterval: "250ms"},
			},
			wantErr: false,
		},
		{
			name: "partial config",
			content: `network: tcp
log_level: warn`,
			want: &Config{
				Network:  "tcp",
				Address:  "~/.serialdetect.sock",
				LogLevel: "warn",
				Stream:   StreamConfig{Buffer: 1024, Overflow: "block"},
				Device:   DeviceConfig{Backend: "auto", PollInterval: "1s"},
			},
			wantErr: false,
		},
		{
			name:    "empty config",
			content: "",
			want:    DefaultConfig(),
			wantErr: false,
		},
		{
			name:    "invalid yaml",
			content: "network: [invalid yaml",
			want:    nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			tmpFile := filepath.Join(tmpDir, "config.yaml")

			if tt.content != "" {
				if err := os.WriteFile(tmpFile, []byte(tt.content), 0644); err != nil {
					t.Fatalf("Failed to write test config: %v", err)
				}
			}

			got, err := Load(tmpFile)
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != nil {
				if got.Network != tt.want.Network {
					t.Errorf("Load() Network = %v, want %v", got.Network, tt.want.Network)
				}
				if got.Address != tt.want.Address {
					t.Errorf("Load() Address = %v, want %v", got.Address, tt.want.Address)
				}
				if got.LogLevel != tt.want.LogLevel {
					t.Errorf("Load() LogLevel = %v, want %v", got.LogLevel, tt.want.LogLevel)
				}
				if got.Stream.Buffer != tt.want.Stream.Buffer || got.Stream.Overflow != tt.want.Stream.Overflow {
					t.Errorf("Load() Stream = %+v, want %+v", got.Stream, tt.want.Stream)
				}
				if got.Device.Backend != tt.want.Device.Backend || got.Device.PollInterval != tt.want.Device.PollInterval {
					t.Errorf("Load() Device = %+v, want %+v", got.Device, tt.want.Device)
				}
			}
		})
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	cfg, err := Load("/non/existent/path/config.yaml")
	if err != nil {
		t.Errorf("Load() with non-existent file should return default config, got error: %v", err)
	}
	if cfg == nil {
		t.Errorf("Load() with non-existent file should return default config, got nil")
	}

	t.Setenv("HOME", t.TempDir())
	cfg, err = Load("")
	if err != nil {
		t.Errorf("Load() with empty path should return default config, got error: %v", err)
	}
	if cfg == nil {
		t.Errorf("Load() with empty path should return default config, got nil")
	}
}

func TestValidate(t *testing.T) {
	valid := func(mut func(*Config)) *Config {
		cfg := DefaultConfig()
		mut(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid unix config",
			config: valid(func(*Config) {}),
		},
		{
			name: "valid tcp config",
			config: valid(func(c *Config) {
				c.Network = "tcp"
				c.Address = "127.0.0.1:9998"
			}),
		},
		{
			name:    "invalid network type",
			config:  valid(func(c *Config) { c.Network = "udp" }),
			wantErr: true,
			errMsg:  "invalid network type: udp",
		},
		{
			name:    "invalid log level",
			config:  valid(func(c *Config) { c.LogLevel = "verbose" }),
			wantErr: true,
			errMsg:  "invalid log level: verbose",
		},
		{
			name:    "invalid log format",
			config:  valid(func(c *Config) { c.LogFormat = "xml" }),
			wantErr: true,
			errMsg:  "invalid log format: xml",
		},
		{
			name:    "invalid overflow policy",
			config:  valid(func(c *Config) { c.Stream.Overflow = "drop-all" }),
			wantErr: true,
			errMsg:  "invalid overflow policy: drop-all",
		},
		{
			name:    "invalid stop timeout",
			config:  valid(func(c *Config) { c.Stream.StopTimeout = "soon" }),
			wantErr: true,
			errMsg:  "invalid stop timeout",
		},
		{
			name:    "negative poll interval",
			config:  valid(func(c *Config) { c.Device.PollInterval = "-1s" }),
			wantErr: true,
			errMsg:  "invalid poll interval",
		},
		{
			name:    "invalid backend",
			config:  valid(func(c *Config) { c.Device.Backend = "udev" }),
			wantErr: true,
			errMsg:  "invalid device backend: udev",
		},
		{
			name:    "invalid publisher",
			config:  valid(func(c *Config) { c.Relay.Publisher = "kafka" }),
			wantErr: true,
			errMsg:  "invalid relay publisher: kafka",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && tt.errMsg != "" && !strings.HasPrefix(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error starting with %v", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestValidateExpandsHome(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if strings.HasPrefix(cfg.Address, "~") {
		t.Errorf("Validate() left address unexpanded: %s", cfg.Address)
	}
}

func TestValidateLogLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := DefaultConfig()
		cfg.LogLevel = level
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() with log level %s should not error, got: %v", level, err)
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := DefaultConfig().Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), "overflow: block") {
		t.Errorf("Marshal() output missing stream section:\n%s", data)
	}
}

func TestStreamOptions(t *testing.T) {
	cfg := DefaultConfig()
	opts, err := cfg.StreamOptions()
	if err != nil {
		t.Fatalf("StreamOptions() error = %v", err)
	}
	if len(opts) != 3 {
		t.Errorf("StreamOptions() returned %d options, want 3", len(opts))
	}

	cfg.Stream.Overflow = "sometimes"
	if _, err := cfg.StreamOptions(); err == nil {
		t.Errorf("StreamOptions() accepted invalid overflow policy")
	}
}

func TestDeviceOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device.PollInterval = "250ms"
	opts := cfg.DeviceOptions()
	if opts.PollInterval != 250*time.Millisecond {
		t.Errorf("DeviceOptions() PollInterval = %v, want 250ms", opts.PollInterval)
	}
	if opts.Backend != "auto" || opts.SysfsRoot != "/sys" {
		t.Errorf("DeviceOptions() = %+v", opts)
	}
}
