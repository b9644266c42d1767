package relay

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/phinze/serialdetect/pkg/device"
	"github.com/phinze/serialdetect/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests need a local broker and are skipped without one.

func roundTrip(t *testing.T, src stream.Source, pub Publisher) {
	t.Helper()

	s, err := stream.Open(src)
	require.NoError(t, err)
	defer s.Abort()

	ev := device.Event{Port: "/dev/ttyUSB0", Type: device.Add, Meta: device.DeviceInfo{VID: "0403"}}
	require.NoError(t, pub.Publish(context.Background(), ev.Record()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, stream.KindDevice, rec.Kind)
	assert.Equal(t, ev, rec.Payload)
}

func TestNATSRoundTrip(t *testing.T) {
	subject := "serialdetect.test." + time.Now().Format("150405.000000")
	src, err := DialNATSSource(nats.DefaultURL, subject, slog.Default())
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	defer src.Close()

	pub, err := NewNATSPublisher(nats.DefaultURL, subject)
	require.NoError(t, err)
	defer pub.Close()

	roundTrip(t, src, pub)
}

func TestRedisRoundTrip(t *testing.T) {
	const url = "redis://localhost:6379/0"
	channel := "serialdetect.test." + time.Now().Format("150405.000000")

	src, err := DialRedisSource(context.Background(), url, channel, slog.Default())
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer src.Close()

	pub, err := NewRedisPublisher(context.Background(), url, channel)
	require.NoError(t, err)
	defer pub.Close()

	roundTrip(t, src, pub)
}
