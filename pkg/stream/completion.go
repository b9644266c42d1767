package stream

import (
	"context"
	"sync"
)

// OutcomeKind is how a stream ended.
type OutcomeKind uint8

const (
	Completed OutcomeKind = iota + 1
	Canceled
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case Canceled:
		return "canceled"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Outcome is the terminal result of a handle.
type Outcome struct {
	Kind  OutcomeKind
	Cause error // set when Kind is Failed
}

// Err returns nil for Completed, ErrAborted for Canceled and a *SourceError
// for Failed.
func (o Outcome) Err() error {
	switch o.Kind {
	case Completed:
		return nil
	case Canceled:
		return ErrAborted
	default:
		return &SourceError{Err: o.Cause}
	}
}

// Completion is a one-shot signal resolved when a handle reaches Closed.
type Completion struct {
	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// resolve reports whether this call resolved the completion.
func (c *Completion) resolve(o Outcome) bool {
	resolved := false
	c.once.Do(func() {
		c.outcome = o
		close(c.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the outcome is known.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the outcome and whether it is resolved yet.
func (c *Completion) Outcome() (Outcome, bool) {
	select {
	case <-c.done:
		return c.outcome, true
	default:
		return Outcome{}, false
	}
}

// Wait blocks until the completion resolves or ctx is done. The returned
// error is ctx's error, not the outcome's.
func (c *Completion) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		return c.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Err blocks until resolved and returns Outcome.Err.
func (c *Completion) Err() error {
	<-c.done
	return c.outcome.Err()
}
