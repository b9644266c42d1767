package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phinze/serialdetect/pkg/device"
	"github.com/phinze/serialdetect/pkg/stream"
	"github.com/spf13/cobra"
)

var (
	monitorTimeout time.Duration
	monitorRestart time.Duration
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Pull serial port events from this machine",
		Long: `Like listen, but reads events by pulling them from a stream owned by a
monitor. With --restart the monitor replaces its subscription at that
interval; events already buffered by the replaced stream are dropped.`,
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
			src, err := device.NewSource(cfg.DeviceOptions(), slog.Default())
			if err != nil {
				return fmt.Errorf("failed to open device source: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runMonitor(ctx, monitorOptions{
				source:  src,
				stream:  opts,
				timeout: monitorTimeout,
				restart: monitorRestart,
				out:     cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().DurationVarP(&monitorTimeout, "timeout", "t", 5*time.Second, "Stop monitoring after this long (0 monitors until interrupted)")
	cmd.Flags().DurationVar(&monitorRestart, "restart", 0, "Replace the subscription at this interval")

	return cmd
}

type monitorOptions struct {
	source  stream.Source
	stream  []stream.Option
	timeout time.Duration
	restart time.Duration
	out     io.Writer
}

// runMonitor pulls records through a Monitor until ctx is done, the
// timeout elapses or the source ends.
func runMonitor(ctx context.Context, o monitorOptions) error {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	m := stream.NewMonitor(o.source, o.stream...)
	defer m.Abort()
	p := newPrinter(o.out)

	slog.Info("Monitoring serial port events", "timeout", o.timeout)
	for {
		s, err := m.Listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		pullCtx := ctx
		cancel := context.CancelFunc(func() {})
		if o.restart > 0 {
			pullCtx, cancel = context.WithTimeout(ctx, o.restart)
		}
		err = pull(pullCtx, s, p)
		cancel()
		if err != nil {
			m.Abort()
			return err
		}

		// The stream ended on its own, or the overall deadline passed
		if ctx.Err() != nil || m.State() == stream.Idle {
			m.Abort()
			out, _ := s.Completion().Wait(context.Background())
			p.outcome(out)
			return nil
		}
		slog.Debug("Restarting monitor", "stream", s.ID())
	}
}

// pull prints records from s until it ends or ctx is done. Only a source
// failure is returned.
func pull(ctx context.Context, s *stream.Stream, p *printer) error {
	for rec, err := range s.All(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.record(rec)
	}
	return nil
}
