package vm

import (
	"github.com/sasha-s/go-deadlock"
)

// ---------------------------------------------------------------------------
// SignalQueue: two-tier delivery
// ---------------------------------------------------------------------------

// SignalQueue is the per-process inbound channel for signals. Any goroutine
// may append to the external tier under its lock. The internal tier is owned
// by the worker currently running the process; it is refilled by swapping
// the whole external buffer in one locked step, so the receiver pays for one
// lock acquisition per batch rather than per signal.
type SignalQueue struct {
	mu       deadlock.Mutex
	external []Signal
	closed   bool

	// owner-only
	internal []Signal
	head     int
}

// NewSignalQueue creates an empty queue.
func NewSignalQueue() *SignalQueue {
	return &SignalQueue{}
}

// SendExternal appends sig. It returns false if the queue has been closed
// because its process terminated.
func (q *SignalQueue) SendExternal(sig Signal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.external = append(q.external, sig)
	return true
}

// Receive pops the next signal. Only the owning worker may call it.
func (q *SignalQueue) Receive() (Signal, bool) {
	if q.head == len(q.internal) {
		q.refill()
		if q.head == len(q.internal) {
			return nil, false
		}
	}
	sig := q.internal[q.head]
	q.internal[q.head] = nil
	q.head++
	return sig, true
}

// refill moves the external buffer into the internal tier. The drained
// internal buffer is handed back to the senders for reuse.
func (q *SignalQueue) refill() {
	spare := q.internal[:0]
	q.mu.Lock()
	q.internal, q.external = q.external, spare
	q.mu.Unlock()
	q.head = 0
}

// HasMessages reports whether any signal is pending in either tier.
func (q *SignalQueue) HasMessages() bool {
	if q.head < len(q.internal) {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.external) > 0
}

// Close marks the queue closed and returns every signal that was never
// received, internal tier first.
func (q *SignalQueue) Close() []Signal {
	q.mu.Lock()
	q.closed = true
	rest := q.external
	q.external = nil
	q.mu.Unlock()

	left := append([]Signal(nil), q.internal[q.head:]...)
	q.internal, q.head = nil, 0
	return append(left, rest...)
}

// pendingExternal reports whether senders have queued anything. Unlike
// HasMessages it never reads the owner-only tier.
func (q *SignalQueue) pendingExternal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.external) > 0
}

func (q *SignalQueue) pendingInternal() bool {
	return q.head < len(q.internal)
}
