package stream

import (
	"fmt"
	"log/slog"
	"time"
)

// OverflowPolicy controls what happens when the queue of undelivered records
// is full.
type OverflowPolicy uint8

const (
	// Block makes the producer wait until the consumer catches up or the
	// handle stops.
	Block OverflowPolicy = iota

	// DropOldest evicts the oldest buffered record to make room.
	DropOldest

	// DropNewest discards the incoming record.
	DropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case Block:
		return "block"
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", uint8(p))
	}
}

// ParseOverflowPolicy parses the names produced by OverflowPolicy.String.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "block":
		return Block, nil
	case "drop-oldest":
		return DropOldest, nil
	case "drop-newest":
		return DropNewest, nil
	default:
		return Block, fmt.Errorf("invalid overflow policy: %s", s)
	}
}

const (
	DefaultBuffer      = 1024
	DefaultStopTimeout = 2 * time.Second
)

// Option configures a handle.
type Option func(*config)

type config struct {
	buffer      int
	policy      OverflowPolicy
	stopTimeout time.Duration
	logger      *slog.Logger
}

func newConfig(opts []Option) config {
	c := config{
		buffer:      DefaultBuffer,
		policy:      Block,
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	if c.buffer < 1 {
		c.buffer = 1
	}
	if c.stopTimeout <= 0 {
		c.stopTimeout = DefaultStopTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// WithBuffer sets how many undelivered records a handle holds.
func WithBuffer(n int) Option {
	return func(c *config) {
		c.buffer = n
	}
}

// WithOverflow sets the overflow policy.
func WithOverflow(p OverflowPolicy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithStopTimeout bounds how long abort waits for the source to acknowledge
// Unsubscribe before detaching from it.
func WithStopTimeout(d time.Duration) Option {
	return func(c *config) {
		c.stopTimeout = d
	}
}

// WithLogger sets the logger used for lifecycle and overflow messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}
