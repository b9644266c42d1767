package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/phinze/serialdetect/pkg/device"
	"github.com/phinze/serialdetect/pkg/logstream"
	"github.com/phinze/serialdetect/pkg/relay"
	"github.com/phinze/serialdetect/pkg/stream"
	"github.com/spf13/cobra"
)

var (
	listenTimeout time.Duration
	listenTrace   bool
	listenPublish bool
)

func newListenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print serial port events from this machine",
		Long: `Listens for serial ports being attached and removed and prints each
event as it arrives. With --trace the library's own log records are printed
alongside, and with --publish every event is also sent to the configured
relay publisher.`,
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

			lo := listenOptions{
				source:  src,
				stream:  opts,
				timeout: listenTimeout,
				trace:   listenTrace,
				out:     cmd.OutOrStdout(),
			}
			if listenPublish {
				pub, err := relay.NewPublisher(ctx, cfg.Relay, slog.Default())
				if err != nil {
					return fmt.Errorf("failed to create publisher: %w", err)
				}
				defer func() {
					_ = pub.Close()
				}()
				lo.publish = pub
			}
			return runListen(ctx, lo)
		},
	}

	cmd.Flags().DurationVarP(&listenTimeout, "timeout", "t", 15*time.Second, "Stop listening after this long (0 listens until interrupted)")
	cmd.Flags().BoolVar(&listenTrace, "trace", false, "Also print the library's log records")
	cmd.Flags().BoolVar(&listenPublish, "publish", false, "Publish events with the configured relay publisher")

	return cmd
}

type listenOptions struct {
	source  stream.Source
	stream  []stream.Option
	timeout time.Duration
	trace   bool
	publish relay.Publisher
	out     io.Writer
}

// runListen consumes o.source in callback mode until ctx is done, the
// timeout elapses or the source ends. Only a source failure is an error.
func runListen(ctx context.Context, o listenOptions) error {
	var mu sync.Mutex
	p := newPrinter(o.out)
	show := func(rec stream.Record) {
		mu.Lock()
		defer mu.Unlock()
		p.record(rec)
	}

	if o.trace {
		logs, _, err := logstream.Configure(func(rec stream.Record, err error) {
			if err == nil {
				show(rec)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to bridge logs: %w", err)
		}
		defer logs.Abort()
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
		slog.Info("Listening for serial port events", "timeout", o.timeout)
	} else {
		slog.Info("Listening for serial port events")
	}

	h, done, err := stream.Listen(o.source, func(rec stream.Record, err error) {
		if err != nil {
			slog.Error("Device event error", "error", err)
			return
		}
		show(rec)
		if o.publish == nil {
			return
		}
		if err := o.publish.Publish(ctx, rec); err != nil {
			slog.Warn("Failed to publish record", "seq", rec.Seq, "error", err)
		}
	}, o.stream...)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		h.Abort()
	case <-done.Done():
	}

	out, err := done.Wait(context.Background())
	if err != nil {
		return err
	}
	slog.Info("Listen finished", "outcome", out.Kind, "delivered", h.Delivered(), "dropped", h.Dropped())
	if out.Kind == stream.Failed {
		return out.Cause
	}
	return nil
}
