// Package stream bridges asynchronous event producers into consumer-facing
// streams with cancellation.
//
// A Source delivers records from its own goroutine through an Emitter. Each
// subscription is owned by one Handle, which moves through Active, Aborting
// and Closed and resolves a Completion exactly once.
//
// # Delivery modes
//
// Listen delivers records to a callback, one at a time and in production
// order, from a dedicated goroutine. Open returns a Stream whose Next blocks
// until a record is available. Both modes share the same Handle and bounded
// queue.
//
// # Backpressure
//
// Undelivered records wait in a bounded queue. With Block (the default) the
// producer waits for space; DropOldest and DropNewest never block the
// producer and count what they discard.
//
// # Abort
//
// Abort may be called from any goroutine, including the callback itself.
// Records still buffered when a handle is aborted are dropped. The
// Completion resolves once the source acknowledged Unsubscribe (or the stop
// timeout elapsed) and any delivery in progress has returned.
//
// # Monitor
//
// Monitor keeps at most one pull stream open against a Source; calling
// Listen again aborts the previous stream before opening a new one.
package stream
