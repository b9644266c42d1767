package stream

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
)

// Stream is a pull-mode view over a Handle. Only one goroutine may call
// Next at a time.
type Stream struct {
	h       *Handle
	pulling atomic.Bool
}

// Open subscribes to src and returns a Stream the caller drains with Next.
func Open(src Source, opts ...Option) (*Stream, error) {
	h, err := open(src, nil, opts)
	if err != nil {
		return nil, err
	}
	return &Stream{h: h}, nil
}

// Next blocks until the next record is available or the stream ends.
//
// It returns EndOfStream once the source ended or the stream was aborted,
// and a *SourceError if the source failed; both are repeated on later calls.
// If ctx is done first, ctx.Err() is returned and the stream stays open.
func (s *Stream) Next(ctx context.Context) (Record, error) {
	if !s.pulling.CompareAndSwap(false, true) {
		return Record{}, ErrConcurrentNext
	}
	defer s.pulling.Store(false)

	h := s.h
	if h.stopped() {
		return Record{}, s.terminal()
	}

	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	rec, res := h.queue.pop(ctx.Done())
	if res == popCanceled {
		return Record{}, ctx.Err()
	}
	if h.stopped() {
		if res == popRecord {
			h.discarded(1)
		}
		return Record{}, s.terminal()
	}

	switch res {
	case popRecord:
		rec = h.sequence(rec)
		h.markDelivered(rec)
		return rec, nil
	case popFailed:
		cause := h.queue.termErr
		return Record{}, s.settle(Outcome{Kind: Failed, Cause: cause}, &SourceError{Err: cause})
	default:
		return Record{}, s.settle(Outcome{Kind: Completed}, EndOfStream)
	}
}

// settle closes the handle with o and returns err. An abort that got there
// first wins, and Next reports the aborted terminal instead.
func (s *Stream) settle(o Outcome, err error) error {
	if !s.h.close(o) {
		return s.terminal()
	}
	return err
}

// terminal is what Next reports once the handle stopped.
func (s *Stream) terminal() error {
	if o, ok := s.h.done.Outcome(); ok && o.Kind == Failed {
		return o.Err()
	}
	return EndOfStream
}

// All iterates over the stream until it ends. A source failure or ctx
// error is yielded once as the final element.
func (s *Stream) All(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			rec, err := s.Next(ctx)
			if errors.Is(err, EndOfStream) {
				return
			}
			if err != nil {
				yield(Record{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// ID returns the underlying handle's identifier.
func (s *Stream) ID() string {
	return s.h.ID()
}

// Handle exposes the underlying handle.
func (s *Stream) Handle() *Handle {
	return s.h
}

// Abort cancels the stream; pending and future Next calls return
// EndOfStream.
func (s *Stream) Abort() {
	s.h.Abort()
}

// Completion returns the stream's completion signal.
func (s *Stream) Completion() *Completion {
	return s.h.done
}

// Done is closed once the stream is Closed.
func (s *Stream) Done() <-chan struct{} {
	return s.h.Done()
}
