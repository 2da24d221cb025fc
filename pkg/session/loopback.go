package session

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/nitrogen-io/nitrogen-go/pkg/message"
)

// Loopback is an in-process Session backed by an in-memory message store.
// Sent messages are assigned ids, stored, and echoed synchronously to
// matching subscribers in send order, mirroring how a real service echoes
// accepted messages back over the live subscription.
//
// It is used by the agent's loopback mode and by tests that need a full
// round trip without a service.
type Loopback struct {
	mu        sync.Mutex
	principal Principal
	store     []*message.Message
	subs      map[int]loopbackSub
	nextSub   int
}

type loopbackSub struct {
	filter message.Filter
	fn     MessageFunc
}

// NewLoopback returns a loopback session authenticated as the given
// principal.
func NewLoopback(principal Principal) *Loopback {
	return &Loopback{
		principal: principal,
		subs:      make(map[int]loopbackSub),
	}
}

// PrincipalID implements Session.
func (l *Loopback) PrincipalID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.principal.ID
}

// Impersonate switches the session's principal. Used by tests exercising
// the engine's identity guard.
func (l *Loopback) Impersonate(p Principal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.principal = p
}

// FindMessages implements Session over the in-memory store.
func (l *Loopback) FindMessages(ctx context.Context, f message.Filter, opts message.FindOptions) ([]*message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	var matched []*message.Message
	for _, m := range l.store {
		if f.Matches(m) {
			matched = append(matched, m)
		}
	}
	l.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if opts.SortDescending {
			return matched[i].TS.After(matched[j].TS)
		}
		return matched[i].TS.Before(matched[j].TS)
	})

	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Skip:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Subscribe implements Session. Delivery happens on the sender's
// goroutine, preserving send order.
func (l *Loopback) Subscribe(f message.Filter, fn MessageFunc) (func(), error) {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = loopbackSub{filter: f, fn: fn}
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}, nil
}

// SendMessages implements Session. Each message receives a generated id,
// is stored, and is echoed to matching subscribers before cb is invoked.
func (l *Loopback) SendMessages(ctx context.Context, msgs []*message.Message, cb SendCallback) {
	if err := ctx.Err(); err != nil {
		if cb != nil {
			cb(nil, err)
		}
		return
	}

	l.mu.Lock()
	sent := make([]*message.Message, 0, len(msgs))
	for _, m := range msgs {
		echo := *m
		if echo.ID == "" {
			echo.ID = uuid.NewString()
		}
		l.store = append(l.store, &echo)
		sent = append(sent, &echo)
	}
	subs := make([]loopbackSub, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	for _, m := range sent {
		for _, s := range subs {
			if s.filter.Matches(m) {
				s.fn(m)
			}
		}
	}

	if cb != nil {
		cb(sent, nil)
	}
}

// Seed stores messages directly without echoing them to subscribers,
// for priming historical state in tests and demos. Messages without ids
// are assigned one.
func (l *Loopback) Seed(msgs ...*message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		l.store = append(l.store, m)
	}
}
