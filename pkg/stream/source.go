package stream

// Emitter receives the output of a Source. Its methods are safe to call from
// any goroutine. Calls made after Error or End, or after the handle stopped,
// are ignored.
type Emitter interface {
	// Record hands one record to the stream. With the Block overflow policy
	// it waits for queue space or for the handle to stop.
	Record(Record)
	// Error ends the stream with a failure.
	Error(error)
	// End ends the stream normally.
	End()
}

// Subscription is the source side of one subscription.
type Subscription interface {
	// Unsubscribe asks the source to stop producing and returns once it has.
	// It must be safe to call after the source ended on its own.
	Unsubscribe()
}

// Source is an external producer of records.
//
// Subscribe must return promptly and emit from the source's own goroutine;
// a pull stream has no consumer until Subscribe returns.
type Source interface {
	Subscribe(Emitter) (Subscription, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(Emitter) (Subscription, error)

func (f SourceFunc) Subscribe(e Emitter) (Subscription, error) {
	return f(e)
}

// UnsubscribeFunc adapts a function to Subscription.
type UnsubscribeFunc func()

func (f UnsubscribeFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}
