package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phinze/serialdetect/pkg/protocol"
	"github.com/phinze/serialdetect/pkg/stream"
	"github.com/redis/go-redis/v9"
)

const dialTimeout = 5 * time.Second

func dialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisPublisher publishes envelopes on a Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(ctx context.Context, url, channel string) (*RedisPublisher, error) {
	client, err := dialRedis(ctx, url)
	if err != nil {
		return nil, err
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, rec stream.Record) error {
	data, err := protocol.EncodeRecord(rec)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// RedisSource streams envelopes received on a Redis channel. Each
// subscription holds its own pub/sub connection.
type RedisSource struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func DialRedisSource(ctx context.Context, url, channel string, logger *slog.Logger) (*RedisSource, error) {
	client, err := dialRedis(ctx, url)
	if err != nil {
		return nil, err
	}
	return &RedisSource{client: client, channel: channel, logger: logger}, nil
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}

func (s *RedisSource) Subscribe(e stream.Emitter) (stream.Subscription, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	ps := s.client.Subscribe(ctx, s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := ps.Channel()
		for {
			select {
			case <-stop:
				return
			case msg, ok := <-ch:
				if !ok {
					e.End()
					return
				}
				emitEnvelope(e, []byte(msg.Payload), s.logger)
			}
		}
	}()

	var once sync.Once
	return stream.UnsubscribeFunc(func() {
		once.Do(func() {
			close(stop)
			if err := ps.Close(); err != nil {
				s.logger.Debug("failed to close redis subscription", "error", err)
			}
		})
		<-done
	}), nil
}

func emitEnvelope(e stream.Emitter, data []byte, logger *slog.Logger) {
	rec, err := protocol.DecodeRecord(data)
	if err != nil {
		logger.Warn("dropping undecodable relay message", "error", err)
		return
	}
	e.Record(rec)
}
