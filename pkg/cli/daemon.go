package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phinze/serialdetect/pkg/config"
	"github.com/phinze/serialdetect/pkg/daemon"
	"github.com/phinze/serialdetect/pkg/device"
	"github.com/phinze/serialdetect/version"
	"github.com/spf13/cobra"
)

var (
	systemdMode bool
	pidFile     string
	httpAddress string
	openBrowser bool
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the serialdetectd daemon (used by systemd)",
		Long: `Run the serialdetectd daemon process. The daemon owns the device source
and streams events to local clients.

For manual control, use systemctl:
  systemctl --user start serialdetectd    # Start daemon
  systemctl --user stop serialdetectd     # Stop daemon
  systemctl --user status serialdetectd   # Check status
  journalctl --user -u serialdetectd      # View logs`,
	}

	cmd.AddCommand(NewDaemonRunCmd("run"))

	return cmd
}

// NewDaemonRunCmd returns the command that runs the daemon in the
// foreground. serialdetectd uses it as its root command.
func NewDaemonRunCmd(use string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: "Run the daemon in the foreground",
		Long:  `Run the serialdetect daemon process directly. This is typically called by systemd.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTP.Address = httpAddress
			}
			if openBrowser {
				cfg.HTTP.OpenBrowser = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return RunDaemon(ctx, cfg, daemon.Options{
				SystemdMode: systemdMode,
				PIDFile:     pidFile,
			})
		},
	}

	cmd.Flags().BoolVar(&systemdMode, "systemd", false, "Run in systemd mode with sd_notify support")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file")
	cmd.Flags().StringVar(&httpAddress, "http", "", "Serve metrics, websocket events and the dashboard on this address")
	cmd.Flags().BoolVar(&openBrowser, "open", false, "Open the dashboard in the browser once started")

	return cmd
}

// RunDaemon serves device events from this machine until ctx is done.
func RunDaemon(ctx context.Context, cfg *config.Config, opts daemon.Options) error {
	logger := slog.Default()
	logger.Info("Starting serialdetect daemon",
		"version", version.GetVersion(),
		"commit", version.Commit,
		"date", version.Date,
	)

	devOpts := cfg.DeviceOptions()
	src, err := device.NewSource(devOpts, logger)
	if err != nil {
		return fmt.Errorf("failed to open device source: %w", err)
	}
	scan := func() (map[string]device.DeviceInfo, error) {
		return device.ScanSystem(devOpts)
	}

	d := daemon.New(cfg, src, scan, logger)
	d.Configure(opts)
	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("daemon failed: %w", err)
	}
	return nil
}
