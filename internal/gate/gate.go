// Package gate implements the serialized access gate: a single-worker
// actor that runs every store operation one at a time, in submission order.
package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrShuttingDown is returned when the intake has been closed.
var ErrShuttingDown = errors.New("gate: shutting down")

type op struct {
	fn   func()
	done chan struct{}
	err  error
}

// Gate owns a bounded FIFO operation channel drained by exactly one
// worker. Operations must not submit further gated operations and wait on
// them; the single slot would deadlock.
type Gate struct {
	ops          chan *op
	closed       chan struct{}
	shuttingDown atomic.Bool

	submitted atomic.Uint64
	completed atomic.Uint64
}

// New creates a Gate with a bounded request channel.
func New(capacity int) *Gate {
	if capacity <= 0 {
		capacity = 64
	}
	return &Gate{ops: make(chan *op, capacity), closed: make(chan struct{})}
}

// Start runs the worker loop.
func (g *Gate) Start(ctx context.Context) {
	go g.run(ctx)
}

// run executes queued operations strictly one at a time. On cancellation
// it fails whatever is still queued before exiting, so no submitter is
// left waiting on an operation that will never run.
func (g *Gate) run(ctx context.Context) {
	defer close(g.closed)
	for {
		select {
		case <-ctx.Done():
			g.shuttingDown.Store(true)
			g.failPending()
			return
		case o := <-g.ops:
			o.fn()
			g.completed.Add(1)
			close(o.done)
		}
	}
}

// failPending rejects every op queued at the moment the worker stops.
func (g *Gate) failPending() {
	for {
		select {
		case o := <-g.ops:
			o.err = ErrShuttingDown
			g.completed.Add(1)
			close(o.done)
		default:
			return
		}
	}
}

// Do enqueues fn and blocks until it has run. The context bounds admission
// to the queue only; once enqueued, fn runs to completion unless the worker
// stops first, in which case the op fails with ErrShuttingDown.
func (g *Gate) Do(ctx context.Context, fn func()) error {
	if g.shuttingDown.Load() {
		return ErrShuttingDown
	}
	o := &op{fn: fn, done: make(chan struct{})}
	g.submitted.Add(1)
	select {
	case <-ctx.Done():
		g.submitted.Add(^uint64(0))
		return ctx.Err()
	case <-g.closed:
		g.submitted.Add(^uint64(0))
		return ErrShuttingDown
	case g.ops <- o:
	}
	select {
	case <-o.done:
		return o.err
	case <-g.closed:
		// The worker is gone. The op may have been completed or failed on
		// the way out; otherwise it sits abandoned in the channel.
		select {
		case <-o.done:
			return o.err
		default:
			g.completed.Add(1)
			return ErrShuttingDown
		}
	}
}

// Depth returns the number of queued-but-not-started operations.
func (g *Gate) Depth() int { return len(g.ops) }

// Metrics returns submitted/completed counters and the current depth.
func (g *Gate) Metrics() (submitted, completed uint64, depth int) {
	return g.submitted.Load(), g.completed.Load(), len(g.ops)
}

// CloseIntake disallows future submissions.
func (g *Gate) CloseIntake() { g.shuttingDown.Store(true) }

// IsShuttingDown reports whether intake has been closed.
func (g *Gate) IsShuttingDown() bool { return g.shuttingDown.Load() }

// DrainUntil blocks until every submitted operation has completed or the
// context is done.
func (g *Gate) DrainUntil(ctx context.Context) bool {
	for {
		if g.submitted.Load() == g.completed.Load() && len(g.ops) == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
