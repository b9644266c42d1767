package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/phinze/serialdetect/pkg/device"
	"github.com/phinze/serialdetect/pkg/logstream"
	"github.com/phinze/serialdetect/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceRecordCodec(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := device.Event{
		Port: "/dev/ttyUSB0",
		Meta: device.DeviceInfo{VID: "0403", PID: "6001", Product: "FT232R USB UART"},
		Type: device.Remove,
	}

	data, err := EncodeRecord(stream.Record{Seq: 7, Kind: stream.KindDevice, Payload: ev, Timestamp: ts})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"remove"`)
	assert.Contains(t, string(data), `"kind":"device"`)

	rec, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rec.Seq)
	assert.Equal(t, stream.KindDevice, rec.Kind)
	assert.True(t, ts.Equal(rec.Timestamp))
	assert.Equal(t, ev, rec.Payload)
}

func TestLogRecordCodec(t *testing.T) {
	lr := logstream.LogRecord{
		Message: "listening",
		Level:   "DEBUG",
		Target:  "serialdetect",
		Meta:    map[string]any{"capacity": float64(1024)},
		Line:    42,
	}

	data, err := EncodeRecord(stream.Record{Seq: 1, Kind: stream.KindLog, Payload: lr})
	require.NoError(t, err)

	rec, err := DecodeRecord(data)
	require.NoError(t, err)
	got, ok := rec.Payload.(logstream.LogRecord)
	require.True(t, ok)
	assert.Equal(t, lr.Message, got.Message)
	assert.Equal(t, lr.Meta, got.Meta)
	assert.Equal(t, 42, got.Line)
}

func TestDecodeRecordErrors(t *testing.T) {
	_, err := DecodeRecord([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeRecord([]byte(`{"kind":"bogus","payload":{}}`))
	assert.Error(t, err)

	_, err = DecodeRecord([]byte(`{"outcome":"completed"}`))
	assert.Error(t, err)
}

func TestFinalEnvelope(t *testing.T) {
	env := FinalEnvelope(stream.Outcome{Kind: stream.Failed, Cause: errors.New("socket closed")})
	assert.True(t, env.Final())
	assert.Equal(t, "failed", env.Outcome)

	var srcErr *stream.SourceError
	require.ErrorAs(t, env.Err(), &srcErr)
	assert.Contains(t, env.Err().Error(), "socket closed")

	done := FinalEnvelope(stream.Outcome{Kind: stream.Completed})
	assert.True(t, done.Final())
	assert.NoError(t, done.Err())

	assert.False(t, Envelope{Kind: "device"}.Final())
}

func TestPeek(t *testing.T) {
	data, err := EncodeRecord(device.Event{Port: "/dev/ttyACM0", Type: device.Add}.Record())
	require.NoError(t, err)

	kind, final, err := Peek(data)
	require.NoError(t, err)
	assert.Equal(t, "device", kind)
	assert.False(t, final)

	kind, final, err = Peek([]byte(`{"ts":"2024-05-01T12:00:00Z","outcome":"canceled"}`))
	require.NoError(t, err)
	assert.Empty(t, kind)
	assert.True(t, final)

	_, _, err = Peek([]byte(`{"kind":`))
	assert.Error(t, err)
}
