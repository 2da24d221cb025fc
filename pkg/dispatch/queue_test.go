package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nitrogen-io/nitrogen-go/pkg/message"
)

// recordingSender tracks attempts and can fail a given message type a
// number of times before succeeding.
type recordingSender struct {
	mu        sync.Mutex
	attempts  []string // message type of each attempt
	failures  map[string]int
	fatals    map[string]bool
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		failures: make(map[string]int),
		fatals:   make(map[string]bool),
	}
}

func (s *recordingSender) send(ctx context.Context, msgs []*message.Message) ([]*message.Message, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxFlight.Load()
		if cur <= max || s.maxFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	typ := msgs[0].Type
	s.mu.Lock()
	s.attempts = append(s.attempts, typ)
	if s.fatals[typ] {
		s.mu.Unlock()
		return nil, Fatal(errors.New("bad request"))
	}
	if s.failures[typ] > 0 {
		s.failures[typ]--
		s.mu.Unlock()
		return nil, errors.New("service unavailable")
	}
	s.mu.Unlock()

	sent := make([]*message.Message, len(msgs))
	for i, m := range msgs {
		echo := *m
		echo.ID = "assigned-" + m.Type
		sent[i] = &echo
	}
	return sent, nil
}

func (s *recordingSender) attemptLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.attempts...)
}

func enqueueOne(q *Queue, typ string, results chan<- string) {
	q.Enqueue([]*message.Message{message.New(typ)}, func(sent []*message.Message, err error) {
		if err != nil {
			results <- typ + ":err"
			return
		}
		results <- typ + ":ok"
	})
}

func TestOrderPreservedAcrossTransientFailure(t *testing.T) {
	sender := newRecordingSender()
	sender.failures["_first"] = 2

	q := NewQueue(sender.send)
	defer q.Stop()

	results := make(chan string, 3)
	enqueueOne(q, "_first", results)
	enqueueOne(q, "_second", results)
	enqueueOne(q, "_third", results)

	var order []string
	for i := 0; i < 3; i++ {
		select {
		case r := <-results:
			order = append(order, r)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for callbacks, got %v", order)
		}
	}

	want := []string{"_first:ok", "_second:ok", "_third:ok"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("callbacks out of order: got %v want %v", order, want)
		}
	}

	attempts := sender.attemptLog()
	wantAttempts := []string{"_first", "_first", "_first", "_second", "_third"}
	if len(attempts) != len(wantAttempts) {
		t.Fatalf("attempts %v, want %v", attempts, wantAttempts)
	}
	for i := range wantAttempts {
		if attempts[i] != wantAttempts[i] {
			t.Fatalf("attempts %v, want %v", attempts, wantAttempts)
		}
	}
}

func TestFatalErrorDropsBatchOnly(t *testing.T) {
	sender := newRecordingSender()
	sender.fatals["_bad"] = true

	q := NewQueue(sender.send)
	defer q.Stop()

	results := make(chan string, 2)
	enqueueOne(q, "_bad", results)
	enqueueOne(q, "_good", results)

	var order []string
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			order = append(order, r)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, got %v", order)
		}
	}

	if order[0] != "_bad:err" || order[1] != "_good:ok" {
		t.Fatalf("expected fatal batch dropped and next delivered, got %v", order)
	}

	for _, a := range sender.attemptLog() {
		if a == "_bad" {
			continue
		}
		if a != "_good" {
			t.Fatalf("unexpected attempt %q", a)
		}
	}
}

func TestSingleFlight(t *testing.T) {
	sender := newRecordingSender()
	q := NewQueue(sender.send)
	defer q.Stop()

	results := make(chan string, 10)
	for i := 0; i < 10; i++ {
		enqueueOne(q, "_msg", results)
	}
	for i := 0; i < 10; i++ {
		select {
		case <-results:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out draining queue")
		}
	}

	if max := sender.maxFlight.Load(); max != 1 {
		t.Fatalf("observed %d concurrent sends, want 1", max)
	}
}

func TestStopFailsPendingBatches(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := func(ctx context.Context, msgs []*message.Message) ([]*message.Message, error) {
		close(started)
		<-release
		return nil, ctx.Err()
	}

	q := NewQueue(blocking)

	results := make(chan string, 2)
	enqueueOne(q, "_inflight", results)
	<-started
	enqueueOne(q, "_waiting", results)

	q.Stop()
	close(release)

	// Both the waiting batch and the interrupted in-flight batch must
	// report an error.
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			got[r] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("callbacks not invoked on stop, got %v", got)
		}
	}
	if !got["_waiting:err"] || !got["_inflight:err"] {
		t.Fatalf("expected both batches failed on stop, got %v", got)
	}

	// Enqueue after stop fails immediately.
	enqueueOne(q, "_late", results)
	select {
	case r := <-results:
		if r != "_late:err" {
			t.Fatalf("expected enqueue after stop to fail, got %q", r)
		}
	case <-time.After(time.Second):
		t.Fatal("enqueue after stop did not invoke callback")
	}
}
