package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phinze/serialdetect/pkg/protocol"
	"github.com/phinze/serialdetect/pkg/relay"
	"github.com/phinze/serialdetect/pkg/stream"
	"github.com/spf13/cobra"
)

var (
	watchRemote   string
	watchTrace    bool
	watchOverflow string
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream serial port events from a daemon or relay",
		Long: `Streams events from the running serialdetectd daemon until interrupted.
With --remote redis or --remote nats the events are read from the relay
channel configured for publishers instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts, err := cfg.StreamOptions()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var src stream.Source
			switch watchRemote {
			case "", "daemon":
				client, err := newClient(cfg)
				if err != nil {
					return err
				}
				src = client.Source(protocol.ListenRequest{
					Overflow: watchOverflow,
					Trace:    watchTrace,
				})
			default:
				remote, closeRemote, err := relay.NewSource(ctx, watchRemote, cfg.Relay, slog.Default())
				if err != nil {
					return err
				}
				defer func() {
					_ = closeRemote()
				}()
				src = remote
			}

			s, err := stream.Open(src, opts...)
			if err != nil {
				return fmt.Errorf("failed to start watching: %w", err)
			}
			defer s.Abort()

			p := newPrinter(cmd.OutOrStdout())
			if err := pull(ctx, s, p); err != nil {
				return err
			}
			s.Abort()
			out, _ := s.Completion().Wait(context.Background())
			p.outcome(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&watchRemote, "remote", "r", "daemon", "Where to read events from (daemon, redis, nats)")
	cmd.Flags().BoolVar(&watchTrace, "trace", false, "Also stream the daemon's log records")
	cmd.Flags().StringVar(&watchOverflow, "overflow", "", "Overflow policy the daemon applies to this stream")

	return cmd
}
