package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phinze/serialdetect/internal/observability"
	"github.com/phinze/serialdetect/internal/uuidx"
	"golang.org/x/time/rate"
)

// State is the lifecycle stage of a Handle.
type State uint8

const (
	Active State = iota
	Aborting
	Closed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Aborting:
		return "aborting"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

const (
	modePush = "push"
	modePull = "pull"
)

// Handle owns one subscription to a Source.
type Handle struct {
	id     string
	mode   string
	cfg    config
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	sub      Subscription
	released bool

	// stop is closed when the handle leaves Active.
	stop chan struct{}
	// deliverMu is held while a record is handed to the consumer, so
	// teardown can wait for an in-flight delivery.
	deliverMu sync.Mutex

	queue        *queue
	seq          atomic.Uint64
	delivered    atomic.Uint64
	abortDropped atomic.Uint64
	warn         *rate.Limiter
	done         *Completion
}

func newHandle(mode string, cfg config) *Handle {
	stop := make(chan struct{})
	h := &Handle{
		id:    uuidx.NewString(),
		mode:  mode,
		cfg:   cfg,
		stop:  stop,
		queue: newQueue(cfg.buffer, cfg.policy, stop),
		warn:  rate.NewLimiter(rate.Every(time.Second), 1),
		done:  newCompletion(),
	}
	h.logger = cfg.logger.With("stream", h.id)
	observability.StreamsOpened.WithLabelValues(mode).Inc()
	observability.StreamsActive.WithLabelValues(mode).Inc()
	return h
}

// open subscribes to src. With a callback the handle runs in push mode,
// otherwise records wait in the queue for Stream.Next.
func open(src Source, cb Callback, opts []Option) (*Handle, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrProtocolViolation)
	}

	mode := modePull
	if cb != nil {
		mode = modePush
	}
	h := newHandle(mode, newConfig(opts))
	if cb != nil {
		go h.dispatch(cb)
	}

	sub, err := src.Subscribe(emitter{h: h})
	if err != nil {
		h.close(Outcome{Kind: Failed, Cause: err})
		return nil, fmt.Errorf("%w: %w", ErrSubscribe, err)
	}
	h.attach(sub)

	h.logger.Debug("stream opened",
		"mode", mode,
		"buffer", h.cfg.buffer,
		"overflow", h.cfg.policy)
	return h, nil
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string {
	return h.id
}

// State returns the current lifecycle stage.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Completion returns the handle's one-shot completion signal.
func (h *Handle) Completion() *Completion {
	return h.done
}

// Done is closed once the handle is Closed.
func (h *Handle) Done() <-chan struct{} {
	return h.done.Done()
}

// Wait blocks until the handle is Closed or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	return h.done.Wait(ctx)
}

// Delivered returns how many records reached the consumer.
func (h *Handle) Delivered() uint64 {
	return h.delivered.Load()
}

// Dropped returns how many records were discarded by the overflow policy
// or released by an abort.
func (h *Handle) Dropped() uint64 {
	return h.queue.dropped.Load() + h.abortDropped.Load()
}

// Abort cancels the subscription. It returns immediately; the Completion
// resolves with Canceled once teardown finishes. Abort is idempotent and may
// be called from the callback.
func (h *Handle) Abort() {
	h.mu.Lock()
	if h.state != Active {
		h.mu.Unlock()
		return
	}
	h.state = Aborting
	close(h.stop)
	h.mu.Unlock()

	h.logger.Debug("aborting stream")
	go h.teardown(time.Now())
}

func (h *Handle) teardown(start time.Time) {
	h.release()

	h.deliverMu.Lock()
	h.mu.Lock()
	h.state = Closed
	h.mu.Unlock()
	n := h.queue.drain()
	h.deliverMu.Unlock()

	if n > 0 {
		h.discarded(n)
	}
	observability.TeardownSeconds.Observe(time.Since(start).Seconds())
	h.resolve(Outcome{Kind: Canceled})
}

// close ends the handle from the consumer side after it reached the
// terminal signal. It reports false, and does nothing, once an abort
// started.
func (h *Handle) close(o Outcome) bool {
	h.mu.Lock()
	if h.state != Active {
		h.mu.Unlock()
		return false
	}
	h.state = Closed
	close(h.stop)
	h.mu.Unlock()

	go h.release()
	if n := h.queue.drain(); n > 0 {
		h.discarded(n)
	}
	h.resolve(o)
	return true
}

func (h *Handle) resolve(o Outcome) {
	if !h.done.resolve(o) {
		return
	}
	observability.StreamsActive.WithLabelValues(h.mode).Dec()
	observability.StreamOutcomes.WithLabelValues(h.mode, o.Kind.String()).Inc()

	if o.Kind == Failed {
		h.logger.Warn("stream failed", "error", o.Cause, "delivered", h.Delivered())
		return
	}
	h.logger.Debug("stream closed",
		"outcome", o.Kind,
		"delivered", h.Delivered(),
		"dropped", h.Dropped())
}

// attach stores the subscription returned by Subscribe, or releases it
// right away when the handle already stopped.
func (h *Handle) attach(sub Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		go h.unsubscribe(sub)
		return
	}
	h.sub = sub
	h.mu.Unlock()
}

func (h *Handle) release() {
	h.mu.Lock()
	sub := h.sub
	h.sub = nil
	h.released = true
	h.mu.Unlock()

	if sub != nil {
		h.unsubscribe(sub)
	}
}

// unsubscribe asks the source to stop and waits at most the stop timeout
// for it to acknowledge.
func (h *Handle) unsubscribe(sub Subscription) {
	acked := make(chan struct{})
	go func() {
		defer close(acked)
		sub.Unsubscribe()
	}()

	timer := time.NewTimer(h.cfg.stopTimeout)
	defer timer.Stop()

	select {
	case <-acked:
	case <-timer.C:
		observability.ForcedDetaches.Inc()
		h.logger.Warn("source did not stop in time, detaching",
			"timeout", h.cfg.stopTimeout)
	}
}

func (h *Handle) stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// invoke runs fn under the delivery lock unless the handle stopped.
func (h *Handle) invoke(fn func()) bool {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()
	if h.stopped() {
		return false
	}
	fn()
	return true
}

// sequence numbers rec in delivery order. Callers hold deliverMu, so
// concurrent producers cannot reorder Seq.
func (h *Handle) sequence(rec Record) Record {
	rec.Seq = h.seq.Add(1)
	return rec
}

func (h *Handle) markDelivered(rec Record) {
	h.delivered.Add(1)
	observability.RecordsDelivered.WithLabelValues(rec.Kind.String()).Inc()
}

func (h *Handle) discarded(n int) {
	h.abortDropped.Add(uint64(n))
	observability.RecordsDropped.WithLabelValues("abort").Add(float64(n))
	h.logger.Debug("released undelivered records", "count", n)
}

func (h *Handle) overflowed() {
	observability.RecordsDropped.WithLabelValues("overflow").Inc()
	if h.warn.Allow() {
		h.logger.Warn("event queue full, dropping record",
			"policy", h.cfg.policy,
			"buffer", h.cfg.buffer,
			"dropped", h.queue.dropped.Load())
	}
}

// emitter is the producer-facing side of a Handle.
type emitter struct {
	h *Handle
}

func (e emitter) Record(rec Record) {
	h := e.h
	if h.stopped() {
		return
	}
	select {
	case <-h.queue.term:
		return
	default:
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if h.queue.push(rec) {
		h.overflowed()
	}
}

func (e emitter) Error(err error) {
	if err == nil {
		err = errors.New("unspecified source error")
	}
	e.h.queue.finish(err)
}

func (e emitter) End() {
	e.h.queue.finish(nil)
}
