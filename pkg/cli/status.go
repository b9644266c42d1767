package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/phinze/serialdetect/pkg/protocol"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get daemon status",
		Long:  `Retrieves the current status of the serialdetectd daemon.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			status, err := client.Status(ctx)
			if err != nil {
				printStatus(cmd.OutOrStdout(), nil)
				return err
			}
			printStatus(cmd.OutOrStdout(), &status)
			return nil
		},
	}
}

func printStatus(w io.Writer, status *protocol.StatusResponse) {
	_, _ = fmt.Fprintf(w, "Daemon Status:\n")
	if status == nil {
		_, _ = fmt.Fprintf(w, "  State: %s Not running\n", color.HiBlackString("○"))
		return
	}
	_, _ = fmt.Fprintf(w, "  State: %s Running\n", color.GreenString("●"))
	_, _ = fmt.Fprintf(w, "  Version: %s\n", status.Version)
	_, _ = fmt.Fprintf(w, "  Uptime: %s\n", status.Uptime)
	_, _ = fmt.Fprintf(w, "  Backend: %s\n", status.Backend)
	_, _ = fmt.Fprintf(w, "  Known Ports: %d\n", status.KnownPorts)
	_, _ = fmt.Fprintf(w, "  Active Streams: %d\n", status.ActiveStreams)
}
