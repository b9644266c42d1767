package streamtest

import (
	"sync"

	"github.com/phinze/serialdetect/pkg/stream"
)

// Recorder collects callback invocations.
//
// Recorder is safe under concurrent use.
type Recorder struct {
	mu      sync.Mutex
	records []stream.Record
	errs    []error
	calls   int
	notify  chan struct{}
}

// NewRecorder constructs a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Callback returns a stream.Callback feeding the recorder. When hook is not
// nil it runs after the invocation was recorded.
func (r *Recorder) Callback(hook func(stream.Record, error)) stream.Callback {
	return func(rec stream.Record, err error) {
		r.mu.Lock()
		r.calls++
		if err != nil {
			r.errs = append(r.errs, err)
		} else {
			r.records = append(r.records, rec)
		}
		r.mu.Unlock()

		select {
		case r.notify <- struct{}{}:
		default:
		}
		if hook != nil {
			hook(rec, err)
		}
	}
}

// Records returns a snapshot of recorded records.
func (r *Recorder) Records() []stream.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stream.Record, len(r.records))
	copy(out, r.records)
	return out
}

// Payloads returns the payloads of recorded records in order.
func (r *Recorder) Payloads() []any {
	recs := r.Records()
	out := make([]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Payload)
	}
	return out
}

// Errors returns a snapshot of terminal errors.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}

// Calls returns the total number of invocations.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
