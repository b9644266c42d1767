// Package streamtest provides scripted sources and recorders for testing
// stream consumers.
package streamtest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/phinze/serialdetect/pkg/stream"
)

// Source is a manually driven stream.Source. Tests call Emit, Fail and End
// from their own goroutine to play the producer.
type Source struct {
	// SubscribeErr, when set, is returned by Subscribe.
	SubscribeErr error
	// StopDelay delays the Unsubscribe acknowledgement.
	StopDelay time.Duration

	mu           sync.Mutex
	emitter      stream.Emitter
	subscribed   chan struct{}
	unsubscribed chan struct{}
	unsubOnce    sync.Once
	unsubs       atomic.Int32
}

// NewSource returns a Source waiting for its subscriber.
func NewSource() *Source {
	return &Source{
		subscribed:   make(chan struct{}),
		unsubscribed: make(chan struct{}),
	}
}

func (s *Source) Subscribe(e stream.Emitter) (stream.Subscription, error) {
	if s.SubscribeErr != nil {
		return nil, s.SubscribeErr
	}
	s.mu.Lock()
	s.emitter = e
	s.mu.Unlock()
	close(s.subscribed)

	return stream.UnsubscribeFunc(func() {
		s.unsubs.Add(1)
		if s.StopDelay > 0 {
			time.Sleep(s.StopDelay)
		}
		s.unsubOnce.Do(func() { close(s.unsubscribed) })
	}), nil
}

// Subscribed is closed once a handle subscribed.
func (s *Source) Subscribed() <-chan struct{} {
	return s.subscribed
}

// Unsubscribed is closed once Unsubscribe returned.
func (s *Source) Unsubscribed() <-chan struct{} {
	return s.unsubscribed
}

// Unsubscribes counts Unsubscribe calls.
func (s *Source) Unsubscribes() int {
	return int(s.unsubs.Load())
}

func (s *Source) emit() stream.Emitter {
	<-s.subscribed
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitter
}

// Emit produces one KindDevice record per payload.
func (s *Source) Emit(payloads ...any) {
	e := s.emit()
	for _, p := range payloads {
		e.Record(stream.Record{Kind: stream.KindDevice, Payload: p})
	}
}

// Fail reports a source error.
func (s *Source) Fail(err error) {
	s.emit().Error(err)
}

// End finishes the stream normally.
func (s *Source) End() {
	s.emit().End()
}

// Replay returns a source that emits payloads from its own goroutine and
// then ends, or fails with err when err is non-nil.
func Replay(err error, payloads ...any) stream.Source {
	return stream.SourceFunc(func(e stream.Emitter) (stream.Subscription, error) {
		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			for _, p := range payloads {
				select {
				case <-stop:
					return
				default:
				}
				e.Record(stream.Record{Kind: stream.KindDevice, Payload: p})
			}
			if err != nil {
				e.Error(err)
				return
			}
			e.End()
		}()

		var once sync.Once
		return stream.UnsubscribeFunc(func() {
			once.Do(func() { close(stop) })
			<-done
		}), nil
	})
}

// Endless returns a source that emits payloads and then stays open until
// it is unsubscribed. Every Subscribe starts an independent producer.
func Endless(payloads ...any) stream.Source {
	return stream.SourceFunc(func(e stream.Emitter) (stream.Subscription, error) {
		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			for _, p := range payloads {
				e.Record(stream.Record{Kind: stream.KindDevice, Payload: p})
			}
			<-stop
		}()

		var once sync.Once
		return stream.UnsubscribeFunc(func() {
			once.Do(func() { close(stop) })
			<-done
		}), nil
	})
}
