package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/phinze/serialdetect/pkg/device"
	"github.com/phinze/serialdetect/pkg/protocol"
	"github.com/spf13/cobra"
)

var (
	scanDaemon bool
	scanJSON   bool
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List attached serial ports",
		Long:  `Lists the serial ports currently attached, read from sysfs or from a running daemon.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var scan protocol.ScanResponse
			if scanDaemon {
				client, err := newClient(cfg)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				if scan, err = client.Scan(ctx); err != nil {
					return err
				}
			} else {
				ports, err := device.ScanSystem(cfg.DeviceOptions())
				if err != nil {
					return fmt.Errorf("failed to scan ports: %w", err)
				}
				scan = protocol.NewScanResponse(ports)
			}

			if scanJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(scan)
			}
			newPrinter(cmd.OutOrStdout()).ports(scan)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&scanDaemon, "daemon", "d", false, "Ask the running daemon instead of reading sysfs")
	cmd.Flags().BoolVar(&scanJSON, "json", false, "Print JSON")

	return cmd
}
