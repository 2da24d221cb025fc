package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nitrogen-io/nitrogen-go/pkg/log"
	"github.com/nitrogen-io/nitrogen-go/pkg/message"
	"github.com/nitrogen-io/nitrogen-go/pkg/session"
)

// historyLimit caps the historical fetch performed at startup. One page
// of history bounds the queue, which keeps the quadratic collapse cheap.
const historyLimit = 1000

// Manager owns one principal's command queue. It feeds historical and
// live messages through Process, collapses the queue after every append,
// and schedules execution of whatever commands remain: immediately when
// the earliest is due, or via a timer armed for its due time.
//
// All timers are cancellable and owned by the manager; Stop tears them
// down deterministically along with the live subscription.
type Manager struct {
	device  session.Principal
	handler Handler
	logger  *log.Logger

	mu        sync.Mutex
	sess      session.Session
	queue     []*message.Message
	seen      map[string]struct{}
	executing bool
	stopped   bool
	dueTimer  *time.Timer
	expiry    map[*time.Timer]struct{}
	unsub     func()
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager returns a manager for the given device principal driven by
// the given handler. Call Start to begin processing.
func NewManager(device session.Principal, h Handler) *Manager {
	return &Manager{
		device:  device,
		handler: h,
		logger:  log.ForComponent("command"),
		seen:    make(map[string]struct{}),
		expiry:  make(map[*time.Timer]struct{}),
	}
}

// Device returns the principal this manager manages.
func (m *Manager) Device() session.Principal {
	return m.device
}

// Session returns the session the manager operates under, or nil before
// Start.
func (m *Manager) Session() session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// CommandFilter returns the default filter for this manager: all
// messages tagged as command relevant for the managed principal.
func (m *Manager) CommandFilter() message.Filter {
	return message.CommandFilter(m.device.ID)
}

// Start begins command processing: it fetches up to one page of message
// history (newest-first, then reversed so the oldest is processed
// first), feeds each message through Process, kicks off execution, and
// establishes the live subscription. Each live message is processed and
// then handed to onMessage, if non-nil.
//
// A history fetch or subscription failure aborts startup and is
// returned; no partial state is retained.
func (m *Manager) Start(ctx context.Context, sess session.Session, filter message.Filter, onMessage session.MessageFunc) error {
	m.mu.Lock()
	if m.sess != nil {
		m.mu.Unlock()
		return fmt.Errorf("manager for %s already started", m.device.ID)
	}
	if m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("manager for %s already stopped", m.device.ID)
	}
	m.mu.Unlock()

	if filter.IsZero() {
		filter = m.CommandFilter()
	}

	history, err := sess.FindMessages(ctx, filter, message.FindOptions{
		SortDescending: true,
		Limit:          historyLimit,
	})
	if err != nil {
		return fmt.Errorf("fetching message history: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.sess = sess
	m.ctx = runCtx
	m.cancel = cancel
	m.mu.Unlock()

	// The fetch was newest-first; process oldest-first.
	for i := len(history) - 1; i >= 0; i-- {
		m.Process(history[i])
	}

	m.Execute()

	unsub, err := sess.Subscribe(filter, func(msg *message.Message) {
		m.Process(msg)
		if onMessage != nil {
			onMessage(msg)
		}
		// Kickstart execution unless a pass is already running; its
		// completion re-evaluates the queue anyway.
		if !m.Executing() {
			m.Execute()
		}
	})
	if err != nil {
		m.Stop()
		return fmt.Errorf("subscribing to message stream: %w", err)
	}

	m.mu.Lock()
	m.unsub = unsub
	m.mu.Unlock()

	m.logger.Infof("manager started for %s (%d historical messages)", m.device.ID, len(history))
	return nil
}

// Process feeds one message into the queue: irrelevant messages and
// duplicate deliveries (same server-assigned id) are dropped, everything
// else is appended and the queue is collapsed. A message carrying an
// expiration additionally arms a one-shot timer that re-collapses the
// queue the moment it lapses, so expiring commands leave the active set
// even with no new traffic.
func (m *Manager) Process(msg *message.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	if msg.ID != "" {
		if _, dup := m.seen[msg.ID]; dup {
			m.logger.Debugf("duplicate delivery of %s, dropping", msg.ID)
			return
		}
		m.seen[msg.ID] = struct{}{}
	}
	if !m.handler.IsRelevant(msg) {
		return
	}

	m.queue = append(m.queue, msg)
	m.queue = collapse(m.queue, m.handler)

	if d, ok := msg.MillisToExpiration(); ok {
		if d < 0 {
			d = 0
		}
		m.armExpiryLocked(d)
	}
}

// armExpiryLocked arms a one-shot re-collapse timer. Caller holds m.mu.
func (m *Manager) armExpiryLocked(d time.Duration) {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.expiry, t)
		if m.stopped {
			return
		}
		m.queue = collapse(m.queue, m.handler)
	})
	m.expiry[t] = struct{}{}
}

// Execute runs one execution pass over the queue. It is a no-op when a
// pass is already running, when the queue is empty, or when the session
// no longer authenticates as the managed principal (defends against
// acting under the wrong identity after impersonation). If the earliest
// command is not yet due, a timer is armed for its due time instead.
//
// On completion of the handler's pass the executing flag is cleared and
// the queue is re-evaluated with no delay, picking up commands that
// arrived or became due in the meantime.
func (m *Manager) Execute() {
	m.mu.Lock()
	if m.stopped || m.sess == nil {
		m.mu.Unlock()
		return
	}
	if m.device.ID != m.sess.PrincipalID() {
		m.mu.Unlock()
		m.logger.Debugf("not in session of device %s, skipping execution", m.device.ID)
		return
	}
	if m.executing {
		m.mu.Unlock()
		return
	}
	if len(m.queue) == 0 {
		m.mu.Unlock()
		m.logger.Debugf("empty command queue")
		return
	}

	if wait := m.queue[0].MillisToTimestamp(); wait > 0 {
		m.logger.Debugf("next command occurs in the future, deferring %s", wait)
		if m.dueTimer != nil {
			m.dueTimer.Stop()
		}
		m.dueTimer = time.AfterFunc(wait, m.Execute)
		m.mu.Unlock()
		return
	}

	m.executing = true
	ctx := m.ctx
	m.mu.Unlock()

	m.handler.ExecuteActiveCommands(ctx, m, func(err error) {
		m.mu.Lock()
		m.executing = false
		stopped := m.stopped
		m.mu.Unlock()

		if err != nil {
			m.logger.Errorf("execution error: %v", err)
		}
		if stopped {
			return
		}
		go m.Execute()
	})
}

// Executing reports whether an execution pass is currently running.
func (m *Manager) Executing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executing
}

// ActiveCommands returns the commands in the collapsed queue whose
// effective time has arrived. Not-yet-due commands stay in the queue but
// are excluded here.
func (m *Manager) ActiveCommands() []*message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active []*message.Message
	for _, msg := range m.queue {
		if msg.MillisToTimestamp() <= 0 {
			active = append(active, msg)
		}
	}
	return active
}

// LastActiveCommand returns the most recent active command by timestamp,
// or nil when none are active.
func (m *Manager) LastActiveCommand() *message.Message {
	active := m.ActiveCommands()
	if len(active) == 0 {
		return nil
	}
	return active[len(active)-1]
}

// QueueLength returns the current collapsed queue size.
func (m *Manager) QueueLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Stop tears the manager down: the live subscription ends, all pending
// due-time and expiration timers are cancelled, and in-flight handler
// contexts are cancelled. Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.dueTimer != nil {
		m.dueTimer.Stop()
		m.dueTimer = nil
	}
	for t := range m.expiry {
		t.Stop()
	}
	m.expiry = make(map[*time.Timer]struct{})
	unsub := m.unsub
	m.unsub = nil
	cancel := m.cancel
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	m.logger.Infof("manager stopped for %s", m.device.ID)
}
