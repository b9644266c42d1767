package stream

import "fmt"

// Callback receives records in push mode. A record is delivered as
// (rec, nil); a source failure as one final (Record{}, err).
type Callback func(Record, error)

// Listen subscribes to src and calls cb for every record, one call at a
// time and in production order. The returned Completion resolves when the
// source ends, fails, or the handle is aborted.
func Listen(src Source, cb Callback, opts ...Option) (*Handle, *Completion, error) {
	if cb == nil {
		return nil, nil, fmt.Errorf("%w: nil callback", ErrProtocolViolation)
	}
	h, err := open(src, cb, opts)
	if err != nil {
		return nil, nil, err
	}
	return h, h.done, nil
}

// dispatch is the push-mode consumer loop.
func (h *Handle) dispatch(cb Callback) {
	for {
		rec, res := h.queue.pop(nil)
		switch res {
		case popRecord:
			if !h.invoke(func() {
				rec = h.sequence(rec)
				cb(rec, nil)
			}) {
				h.discarded(1)
				return
			}
			h.markDelivered(rec)

		case popEnd:
			h.close(Outcome{Kind: Completed})
			return

		case popFailed:
			cause := h.queue.termErr
			if !h.invoke(func() { cb(Record{}, &SourceError{Err: cause}) }) {
				return
			}
			h.close(Outcome{Kind: Failed, Cause: cause})
			return

		default:
			return
		}
	}
}
