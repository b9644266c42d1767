package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/phinze/serialdetect/pkg/device"
	"github.com/phinze/serialdetect/pkg/logstream"
	"github.com/phinze/serialdetect/pkg/stream"
	"github.com/tidwall/gjson"
)

// Envelope carries one record, or the end of a stream, over the wire.
type Envelope struct {
	Seq       uint64          `json:"seq,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// Outcome is set on the last envelope of a stream: completed, canceled
	// or failed.
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Final reports whether e ends its stream.
func (e Envelope) Final() bool {
	return e.Outcome != ""
}

// Err returns the remote failure carried by a final envelope.
func (e Envelope) Err() error {
	if e.Outcome != stream.Failed.String() {
		return nil
	}
	return &stream.SourceError{Err: errors.New(e.Error)}
}

// NewEnvelope wraps rec.
func NewEnvelope(rec stream.Record) (Envelope, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return Envelope{
		Seq:       rec.Seq,
		Kind:      rec.Kind.String(),
		Timestamp: rec.Timestamp,
		Payload:   payload,
	}, nil
}

// FinalEnvelope reports how a stream ended.
func FinalEnvelope(o stream.Outcome) Envelope {
	env := Envelope{
		Timestamp: time.Now(),
		Outcome:   o.Kind.String(),
	}
	if o.Kind == stream.Failed && o.Cause != nil {
		env.Error = o.Cause.Error()
	}
	return env
}

// Peek reads the kind and finality of an encoded envelope without decoding
// its payload.
func Peek(data []byte) (kind string, final bool, err error) {
	if !gjson.ValidBytes(data) {
		return "", false, errors.New("invalid envelope JSON")
	}
	res := gjson.GetManyBytes(data, "kind", "outcome")
	return res[0].String(), res[1].String() != "", nil
}

// EncodeRecord marshals rec as an Envelope.
func EncodeRecord(rec stream.Record) ([]byte, error) {
	env, err := NewEnvelope(rec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecodeRecord is the inverse of EncodeRecord. Device and log payloads are
// decoded into their types; other kinds keep the raw JSON.
func DecodeRecord(data []byte) (stream.Record, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return stream.Record{}, fmt.Errorf("failed to parse envelope: %w", err)
	}
	return env.Record()
}

// Record converts e back into a record.
func (e Envelope) Record() (stream.Record, error) {
	if e.Final() {
		return stream.Record{}, errors.New("final envelope carries no record")
	}
	kind, err := stream.ParseKind(e.Kind)
	if err != nil {
		return stream.Record{}, err
	}

	rec := stream.Record{Seq: e.Seq, Kind: kind, Timestamp: e.Timestamp}
	switch kind {
	case stream.KindDevice:
		var ev device.Event
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return stream.Record{}, fmt.Errorf("failed to parse device event: %w", err)
		}
		rec.Payload = ev
	case stream.KindLog:
		var lr logstream.LogRecord
		if err := json.Unmarshal(e.Payload, &lr); err != nil {
			return stream.Record{}, fmt.Errorf("failed to parse log record: %w", err)
		}
		rec.Payload = lr
	default:
		rec.Payload = e.Payload
	}
	return rec, nil
}
