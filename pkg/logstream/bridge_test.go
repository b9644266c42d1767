package logstream

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/phinze/serialdetect/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeStreamsRecords(t *testing.T) {
	b := NewBridge(slog.LevelInfo)
	s, err := stream.Open(b)
	require.NoError(t, err)
	defer s.Abort()

	log := slog.New(b).With("component", "detect").WithGroup("port")
	log.Debug("too quiet")
	log.Info("added", "name", "/dev/ttyACM0", "err", errors.New("none"), "wait", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, stream.KindLog, rec.Kind)

	lr, ok := rec.Payload.(LogRecord)
	require.True(t, ok)
	assert.Equal(t, "added", lr.Message)
	assert.Equal(t, "INFO", lr.Level)
	assert.Equal(t, "detect", lr.Target)
	assert.Equal(t, map[string]any{
		"port.name": "/dev/ttyACM0",
		"port.err":  "none",
		"port.wait": "1s",
	}, lr.Meta)
	assert.NotEmpty(t, lr.File)
	assert.Positive(t, lr.Line)
}

func TestBridgeDisabledWithoutSubscribers(t *testing.T) {
	b := NewBridge(slog.LevelDebug)
	assert.False(t, b.Enabled(context.Background(), slog.LevelError))

	s, err := stream.Open(b)
	require.NoError(t, err)
	assert.True(t, b.Enabled(context.Background(), slog.LevelDebug))
	assert.Equal(t, 1, b.Subscribers())

	s.Abort()
	_, err = s.Completion().Wait(context.Background())
	require.NoError(t, err)
	assert.Zero(t, b.Subscribers())
}

func TestConfigure(t *testing.T) {
	got := make(chan LogRecord, 16)
	h, done, err := Configure(func(rec stream.Record, err error) {
		if lr, ok := rec.Payload.(LogRecord); ok && lr.Message == "configure check" {
			got <- lr
		}
	})
	require.NoError(t, err)

	slog.Warn("configure check", "attempt", 1)

	select {
	case lr := <-got:
		assert.Equal(t, "WARN", lr.Level)
		assert.Equal(t, int64(1), lr.Meta["attempt"])
	case <-time.After(2 * time.Second):
		t.Fatal("log record was not streamed")
	}

	h.Abort()
	out, err := done.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stream.Canceled, out.Kind)
}
