package command

import (
	"context"
	"errors"

	"github.com/nitrogen-io/nitrogen-go/pkg/message"
	"github.com/nitrogen-io/nitrogen-go/pkg/session"
)

// Message types understood by SwitchHandler. The underscore prefix marks
// them application-private.
const (
	SwitchOn    = "_switchOn"
	SwitchOff   = "_switchOff"
	SwitchState = "_switchState"
)

// SwitchHandler drives a binary on/off device: lights, relays, plugs.
// The most recent active command wins; executing it applies the state
// via Apply and sends a _switchState response answering every active
// command, so that the response's echo obsoletes them all on the next
// collapse.
//
// It doubles as the reference Handler implementation: anything with
// richer command vocabulary follows the same shape.
type SwitchHandler struct {
	device session.Principal

	// Apply effects the state change on the physical device. A failure
	// leaves the commands active; the manager retries on its next pass,
	// so Apply must be idempotent.
	Apply func(on bool) error
}

// NewSwitchHandler returns a handler controlling the given device. apply
// may be nil when no physical side effect is needed (state tracking
// only).
func NewSwitchHandler(device session.Principal, apply func(on bool) error) *SwitchHandler {
	return &SwitchHandler{device: device, Apply: apply}
}

// IsRelevant accepts switch commands addressed to the device and switch
// state reports from it.
func (h *SwitchHandler) IsRelevant(m *message.Message) bool {
	switch {
	case m.Is(SwitchOn), m.Is(SwitchOff):
		return m.IsTo(h.device.ID)
	case m.Is(SwitchState):
		return m.IsFrom(h.device.ID)
	default:
		return false
	}
}

// IsCommand reports true for the on/off commands.
func (h *SwitchHandler) IsCommand(m *message.Message) bool {
	return m.Is(SwitchOn) || m.Is(SwitchOff)
}

// Obsoletes extends the base rule two ways: a state report answering a
// command obsoletes it, and a later switch command obsoletes an earlier
// one (only the latest requested state matters).
func (h *SwitchHandler) Obsoletes(downstream, upstream *message.Message) bool {
	if BaseObsoletes(downstream, upstream) {
		return true
	}
	if downstream.TS.Before(upstream.TS) || downstream.Expired() {
		return false
	}
	if downstream.Is(SwitchState) && downstream.IsResponseTo(upstream) {
		return true
	}
	if h.IsCommand(downstream) && h.IsCommand(upstream) {
		return true
	}
	return false
}

// ExecuteActiveCommands applies the latest active command's state and
// acknowledges every active command with a single _switchState response.
func (h *SwitchHandler) ExecuteActiveCommands(ctx context.Context, mgr *Manager, done func(error)) {
	active := mgr.ActiveCommands()
	if len(active) == 0 {
		done(nil)
		return
	}

	on := active[len(active)-1].Is(SwitchOn)
	if h.Apply != nil {
		if err := h.Apply(on); err != nil {
			done(err)
			return
		}
	}

	ids := make([]string, 0, len(active))
	for _, cmd := range active {
		if cmd.ID != "" {
			ids = append(ids, cmd.ID)
		}
	}

	state := message.New(SwitchState)
	state.From = h.device.ID
	state.Tags = []string{message.CommandTag(h.device.ID)}
	state.ResponseTo = ids
	state.Body["on"] = on

	sess := mgr.Session()
	if sess == nil {
		done(errors.New("no session attached to manager"))
		return
	}

	sess.SendMessages(ctx, []*message.Message{state}, func(sent []*message.Message, err error) {
		if err != nil {
			done(err)
			return
		}
		// Feed the confirmed response back directly; the subscription
		// echo is deduplicated by id.
		for _, m := range sent {
			mgr.Process(m)
		}
		done(nil)
	})
}
