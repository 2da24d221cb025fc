// Package command implements the reconciliation engine that turns a
// principal's message stream into a deterministic, idempotent schedule of
// device actions. A Manager watches the stream, collapses it down to the
// currently active commands, and drives a Handler to execute them at the
// right time.
package command

import (
	"context"

	"github.com/nitrogen-io/nitrogen-go/pkg/message"
)

// Handler supplies the command-type-specific behavior a Manager needs:
// which messages matter, which of those are commands, when a later
// message supersedes an earlier command, and how to act on the commands
// that remain.
type Handler interface {
	// IsRelevant reports whether the manager should consider the message
	// at all. Messages failing this check are silently dropped; it is not
	// an error condition. The check must not depend on queue order.
	IsRelevant(m *message.Message) bool

	// IsCommand reports whether the message represents a command
	// requiring eventual execution, as opposed to a pure status or data
	// message.
	IsCommand(m *message.Message) bool

	// Obsoletes reports whether downstream (a later message) supersedes
	// upstream (an earlier command). Implementations must preserve the
	// base rule by consulting BaseObsoletes first, then add their own
	// matching, typically "a status response answering upstream obsoletes
	// it".
	Obsoletes(downstream, upstream *message.Message) bool

	// ExecuteActiveCommands acts on the manager's currently active
	// commands and calls done exactly once when finished. On success the
	// implementation is expected to have sent response messages for every
	// command it executed, so that their echoes obsolete the handled
	// commands on the next collapse. Failures are logged and retried on
	// the next pass with the same active set, so execution must be
	// idempotent.
	ExecuteActiveCommands(ctx context.Context, mgr *Manager, done func(error))
}

// BaseObsoletes is the universal supersession rule every Obsoletes
// implementation must preserve: a downstream message can only obsolete
// messages at or before its own timestamp, an expired downstream message
// obsoletes nothing, and an expired upstream command is always obsolete.
//
// The timestamp comparison is deliberately non-strict: two messages
// sharing an identical TS are eligible to obsolete each other, with
// arrival order as the only disambiguator.
func BaseObsoletes(downstream, upstream *message.Message) bool {
	if downstream.TS.Before(upstream.TS) {
		return false
	}
	if downstream.Expired() {
		return false
	}
	if upstream.Expired() {
		return true
	}
	return false
}
