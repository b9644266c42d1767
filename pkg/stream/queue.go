package stream

import (
	"sync"
	"sync/atomic"
)

type popResult uint8

const (
	popRecord popResult = iota
	popEnd
	popFailed
	popStopped
	popCanceled
)

// queue is the bounded handoff between the producer and the consumer.
// The terminal signal is kept out of the buffer so overflow policies never
// discard it and a full buffer never delays it.
type queue struct {
	ch      chan Record
	policy  OverflowPolicy
	stop    <-chan struct{}
	dropped atomic.Uint64

	termOnce sync.Once
	term     chan struct{}
	termErr  error
}

func newQueue(size int, policy OverflowPolicy, stop <-chan struct{}) *queue {
	return &queue{
		ch:     make(chan Record, size),
		policy: policy,
		stop:   stop,
		term:   make(chan struct{}),
	}
}

// push enqueues rec and reports whether a record was discarded to respect
// the bound.
func (q *queue) push(rec Record) (dropped bool) {
	select {
	case <-q.stop:
		return false
	default:
	}

	if q.policy == Block {
		select {
		case q.ch <- rec:
		case <-q.stop:
		}
		return false
	}

	for {
		select {
		case q.ch <- rec:
			return dropped
		case <-q.stop:
			return dropped
		default:
		}

		if q.policy == DropNewest {
			q.dropped.Add(1)
			return true
		}

		select {
		case <-q.ch:
			q.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// finish records the terminal signal; nil err means a normal end. Only the
// first call has an effect.
func (q *queue) finish(err error) bool {
	first := false
	q.termOnce.Do(func() {
		q.termErr = err
		close(q.term)
		first = true
	})
	return first
}

// pop waits for the next record. Records produced before the terminal
// signal are always returned before it.
func (q *queue) pop(cancel <-chan struct{}) (Record, popResult) {
	select {
	case rec := <-q.ch:
		return rec, popRecord
	default:
	}

	select {
	case rec := <-q.ch:
		return rec, popRecord
	case <-q.term:
		select {
		case rec := <-q.ch:
			return rec, popRecord
		default:
		}
		if q.termErr != nil {
			return Record{}, popFailed
		}
		return Record{}, popEnd
	case <-q.stop:
		return Record{}, popStopped
	case <-cancel:
		return Record{}, popCanceled
	}
}

// drain discards everything buffered and returns how many records it held.
func (q *queue) drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}
