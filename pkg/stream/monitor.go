package stream

import (
	"context"
	"sync"
)

// MonitorState reports whether a Monitor has an open stream.
type MonitorState uint8

const (
	Idle MonitorState = iota
	Listening
)

func (s MonitorState) String() string {
	if s == Listening {
		return "listening"
	}
	return "idle"
}

// Monitor keeps at most one pull stream open against a Source.
type Monitor struct {
	source Source
	opts   []Option

	mu     sync.Mutex
	active *Stream
}

// NewMonitor returns an idle Monitor. opts apply to every stream it opens.
func NewMonitor(src Source, opts ...Option) *Monitor {
	return &Monitor{
		source: src,
		opts:   opts,
	}
}

// Listen opens a new stream. A stream that is still open is aborted first,
// and Listen waits for it to close (or for ctx) before subscribing again.
func (m *Monitor) Listen(ctx context.Context) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev := m.active; prev != nil {
		m.active = nil
		prev.Abort()
		if _, err := prev.Completion().Wait(ctx); err != nil {
			return nil, err
		}
	}

	s, err := Open(m.source, m.opts...)
	if err != nil {
		return nil, err
	}
	m.active = s
	go m.forget(s)
	return s, nil
}

// forget drops the Monitor's reference once s closes on its own.
func (m *Monitor) forget(s *Stream) {
	<-s.Done()
	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()
}

// Abort cancels the active stream, if any.
func (m *Monitor) Abort() {
	m.mu.Lock()
	s := m.active
	m.active = nil
	m.mu.Unlock()

	if s != nil {
		s.Abort()
	}
}

// State reports Listening while a stream is open.
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()

	if s == nil {
		return Idle
	}
	select {
	case <-s.Done():
		return Idle
	default:
		return Listening
	}
}

// Active returns the open stream, or nil when idle.
func (m *Monitor) Active() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
