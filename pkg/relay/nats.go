package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/phinze/serialdetect/pkg/protocol"
	"github.com/phinze/serialdetect/pkg/stream"
)

func dialNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("serialdetect"), nats.Timeout(dialTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

// NATSPublisher publishes envelopes on a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := dialNATS(url)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc, subject: subject}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, rec stream.Record) error {
	data, err := protocol.EncodeRecord(rec)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject, data)
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// NATSSource streams envelopes received on a NATS subject.
type NATSSource struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

func DialNATSSource(url, subject string, logger *slog.Logger) (*NATSSource, error) {
	nc, err := dialNATS(url)
	if err != nil {
		return nil, err
	}
	return &NATSSource{conn: nc, subject: subject, logger: logger}, nil
}

func (s *NATSSource) Close() error {
	s.conn.Close()
	return nil
}

func (s *NATSSource) Subscribe(e stream.Emitter) (stream.Subscription, error) {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		emitEnvelope(e, msg.Data, s.logger)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	// a closed connection ends the stream; after Unsubscribe this is ignored
	sub.SetClosedHandler(func(string) { e.End() })
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}

	return stream.UnsubscribeFunc(func() {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("failed to unsubscribe", "error", err, "subject", s.subject)
		}
	}), nil
}
