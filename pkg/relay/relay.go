// Package relay moves stream records between processes over Redis pub/sub
// or NATS.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phinze/serialdetect/pkg/config"
	"github.com/phinze/serialdetect/pkg/stream"
)

// Publisher sends records to some destination.
type Publisher interface {
	Publish(ctx context.Context, rec stream.Record) error
	Close() error
}

// LogPublisher writes every record to a logger.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, rec stream.Record) error {
	p.logger.InfoContext(ctx, "record",
		"seq", rec.Seq,
		"kind", rec.Kind,
		"payload", rec.Payload)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}

// Forward publishes every record of s until it ends. A publish error or
// ctx cancellation aborts s. A normal end returns nil.
func Forward(ctx context.Context, s *stream.Stream, pub Publisher) error {
	for {
		rec, err := s.Next(ctx)
		if errors.Is(err, stream.EndOfStream) {
			return nil
		}
		if err != nil {
			s.Abort()
			return err
		}

		if err := pub.Publish(ctx, rec); err != nil {
			s.Abort()
			return fmt.Errorf("failed to publish record %d: %w", rec.Seq, err)
		}
	}
}

// NewPublisher creates the publisher named by cfg.Publisher.
func NewPublisher(ctx context.Context, cfg config.RelayConfig, logger *slog.Logger) (Publisher, error) {
	switch cfg.Publisher {
	case "", "log":
		return NewLogPublisher(logger), nil
	case "redis":
		return NewRedisPublisher(ctx, cfg.RedisURL, cfg.RedisChannel)
	case "nats":
		return NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
	default:
		return nil, fmt.Errorf("unknown publisher: %s", cfg.Publisher)
	}
}

// NewSource creates a source reading records published with the
// transport named by kind ("redis" or "nats"). The returned close func
// releases the connection.
func NewSource(ctx context.Context, kind string, cfg config.RelayConfig, logger *slog.Logger) (stream.Source, func() error, error) {
	switch kind {
	case "redis":
		src, err := DialRedisSource(ctx, cfg.RedisURL, cfg.RedisChannel, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	case "nats":
		src, err := DialNATSSource(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown relay source: %s", kind)
	}
}
