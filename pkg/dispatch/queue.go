// Package dispatch serializes outbound message batches into a
// process-wide single-flight FIFO with shared exponential backoff.
//
// Batches are sent strictly in enqueue order. A batch that fails
// transiently is retried indefinitely, blocking every batch behind it:
// ordering is deliberately favored over liveness, because command
// responses delivered out of order would re-activate commands their
// successors already obsoleted. Only a fatal rejection (the service
// calling the batch malformed) drops a batch.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/nitrogen-io/nitrogen-go/pkg/log"
	"github.com/nitrogen-io/nitrogen-go/pkg/message"
	"github.com/nitrogen-io/nitrogen-go/pkg/session"
)

// minBackoff is the delay before the first flush and after any success.
const minBackoff = time.Millisecond

// ErrStopped is reported to the callbacks of batches still pending when
// the queue is stopped.
var ErrStopped = errors.New("dispatch queue stopped")

// Sender performs one send attempt for a batch and returns the
// server-confirmed messages. Errors wrapped with Fatal mark the batch as
// unsendable; any other error is treated as transient.
type Sender func(ctx context.Context, msgs []*message.Message) ([]*message.Message, error)

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks a send error as non-retryable (a bad-request-equivalent
// rejection by the service).
func Fatal(err error) error {
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

type batch struct {
	msgs []*message.Message
	cb   session.SendCallback
}

// Queue is the send queue. Create one per process with NewQueue, inject
// it wherever messages are sent, and Stop it on teardown.
type Queue struct {
	sender Sender
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	pending    []*batch
	flushTimer *time.Timer
	inFlight   bool
	backoff    time.Duration
	stopped    bool
}

// NewQueue returns a queue that sends batches via sender.
func NewQueue(sender Sender) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		sender:  sender,
		logger:  log.ForComponent("dispatch"),
		ctx:     ctx,
		cancel:  cancel,
		backoff: minBackoff,
	}
}

// Enqueue appends a batch and arms a flush if none is pending. cb is
// invoked exactly once: with the confirmed messages on success, or with
// an error on fatal rejection or queue stop. Transient failures are
// retried silently.
func (q *Queue) Enqueue(msgs []*message.Message, cb session.SendCallback) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		if cb != nil {
			cb(nil, ErrStopped)
		}
		return
	}
	q.pending = append(q.pending, &batch{msgs: msgs, cb: cb})
	q.armFlushLocked()
	q.mu.Unlock()
}

// armFlushLocked schedules the next flush unless one is already armed or
// running. Caller holds q.mu.
func (q *Queue) armFlushLocked() {
	if q.flushTimer != nil || q.inFlight {
		return
	}
	q.flushTimer = time.AfterFunc(q.backoff, q.flush)
}

// flush sends the head batch. At most one flush runs at a time; the next
// one is armed only after the current attempt finishes, which is what
// serializes sends and lets the whole process share one backoff.
func (q *Queue) flush() {
	q.mu.Lock()
	q.flushTimer = nil
	if q.stopped || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	head := q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight = true
	ctx := q.ctx
	q.mu.Unlock()

	sent, err := q.sender(ctx, head.msgs)

	q.mu.Lock()
	q.inFlight = false
	stopped := q.stopped
	if err != nil {
		if !IsFatal(err) && !q.stopped {
			// Requeue at the front so order is preserved.
			q.pending = append([]*batch{head}, q.pending...)
		}
		q.backoff *= 4
		limit := time.Duration((64 + rand.Float64()) * float64(time.Second))
		if q.backoff > limit {
			q.backoff = limit
		}
	} else {
		q.backoff = minBackoff
	}
	if len(q.pending) > 0 && !q.stopped {
		q.armFlushLocked()
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Errorf("sending batch failed: %v", err)
		if head.cb != nil {
			if IsFatal(err) {
				head.cb(nil, err)
			} else if stopped {
				head.cb(nil, ErrStopped)
			}
		}
		return
	}
	if head.cb != nil {
		head.cb(sent, nil)
	}
}

// Pending returns the number of batches waiting to be sent, excluding
// one currently in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stop cancels the pending flush and fails all waiting batches with
// ErrStopped. In-flight sends are cancelled via their context.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	if q.flushTimer != nil {
		q.flushTimer.Stop()
		q.flushTimer = nil
	}
	waiting := q.pending
	q.pending = nil
	q.mu.Unlock()

	q.cancel()
	for _, b := range waiting {
		if b.cb != nil {
			b.cb(nil, ErrStopped)
		}
	}
}
