package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/phinze/serialdetect/internal/logger"
	"github.com/phinze/serialdetect/pkg/config"
	"github.com/phinze/serialdetect/pkg/daemon"
	"github.com/phinze/serialdetect/version"
	"github.com/spf13/cobra"
)

var (
	configPath string
	socketPath string
	logLevel   string
	logFormat  string
	verbose    bool
)

// NewRootCmd builds the serialdetect command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "serialdetect",
		Short: "Watch serial ports being attached and removed",
		Long: `serialdetect reports serial (tty) devices as they are plugged in and
removed. It can watch the local machine directly or stream events from a
serialdetectd daemon, a Redis channel or a NATS subject.`,
		Version:      version.GetFullVersion(),
		SilenceUsage: true,
	}

	addGlobalFlags(rootCmd)

	rootCmd.AddCommand(newListenCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newDashboardCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newDaemonCmd())

	return rootCmd
}

// NewDaemonRootCmd builds the serialdetectd command.
func NewDaemonRootCmd() *cobra.Command {
	cmd := NewDaemonRunCmd("serialdetectd")
	cmd.Short = "Serial port hotplug daemon"
	cmd.Long = `serialdetectd watches serial ports being attached and removed and
streams the events to local clients over a unix or tcp socket, and
optionally over HTTP as websocket events and Prometheus metrics.`
	cmd.Version = version.GetFullVersion()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	addGlobalFlags(cmd)
	return cmd
}

func addGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: ~/.config/serialdetect/config.yaml)")
	flags.StringVarP(&socketPath, "socket", "s", "", "Path to serialdetectd socket")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "", "Log format (text, json, console)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
}

// loadConfig reads the configuration file, applies flag overrides and
// configures logging to match.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if socketPath != "" {
		cfg.Address = socketPath
		cfg.Network = "unix"
		if strings.Contains(socketPath, ":") {
			cfg.Network = "tcp"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := configureLogging(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configureLogging applies the log settings. Flags win over the
// SERIALDETECT_* environment, which wins over the config file.
func configureLogging(cfg *config.Config) error {
	opts := logger.FromEnv()
	envLevel := os.Getenv(logger.EnvDebug) != "" || os.Getenv(logger.EnvQuiet) != ""
	if logLevel != "" || verbose || !envLevel {
		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		opts.Level = level
	}
	if logFormat != "" || opts.Format == "" {
		opts.Format = strings.ToLower(cfg.LogFormat)
	}
	return logger.Configure(opts)
}

func newClient(cfg *config.Config) (*daemon.Client, error) {
	return daemon.NewClient(cfg.Network, cfg.Address, slog.Default())
}
