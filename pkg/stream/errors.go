package stream

import (
	"errors"
	"fmt"
	"io"
)

// EndOfStream is returned by Stream.Next once the stream has ended normally
// or was aborted.
var EndOfStream = io.EOF

var (
	// ErrAborted is the cancellation outcome of an aborted handle. It is not
	// a failure.
	ErrAborted = errors.New("stream aborted")

	// ErrProtocolViolation marks caller misuse of a stream.
	ErrProtocolViolation = errors.New("stream protocol violation")

	// ErrConcurrentNext is returned when Next is called while another Next
	// on the same Stream is still in progress.
	ErrConcurrentNext = fmt.Errorf("%w: concurrent Next calls", ErrProtocolViolation)

	// ErrSubscribe wraps errors returned by Source.Subscribe.
	ErrSubscribe = errors.New("subscribe to source")
)

// SourceError is the terminal failure reported by a Source.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return "source failed: " + e.Err.Error()
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
