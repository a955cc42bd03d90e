// Package latch implements the one-shot completion latch the sync
// wrappers around the async Check/Report calls need: a transport
// callback may complete on the caller's own goroutine (inline, before
// the sync call has finished setting up), on a transport-owned
// goroutine, or asynchronously much later. A buffered channel of size 1
// satisfies all three: a send never blocks even if nobody has started
// waiting yet, which is the Go equivalent of the original's
// promise/future pair used specifically to survive inline completion.
package latch

// StatusLatch is a single-use, single-value handoff for an error result.
type StatusLatch struct {
	done chan error
}

// New creates a ready-to-use StatusLatch.
func New() *StatusLatch {
	return &StatusLatch{done: make(chan error, 1)}
}

// Set completes the latch with err. Only the first call has effect;
// subsequent calls are ignored and never block, so a duplicate transport
// completion cannot hang the goroutine that delivers it.
func (l *StatusLatch) Set(err error) {
	select {
	case l.done <- err:
	default:
	}
}

// Wait blocks until Set has been called and returns its error.
func (l *StatusLatch) Wait() error {
	return <-l.done
}
