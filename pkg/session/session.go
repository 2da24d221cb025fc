package session

import (
	"context"

	"github.com/nitrogen-io/nitrogen-go/pkg/message"
)

// Principal is an identified actor in the messaging system: a device, a
// user, or a service.
type Principal struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
}

// MessageFunc receives one message at a time, in delivery order.
type MessageFunc func(*message.Message)

// SendCallback reports the outcome of a send. On success sent holds the
// server-confirmed messages (with assigned ids); on failure err is
// non-nil and sent is nil. It is invoked exactly once per batch.
type SendCallback func(sent []*message.Message, err error)

// Session is the messaging boundary a command manager operates against.
// How messages are transported is the implementation's concern; the
// engine only needs a historical query, a live subscription, and a send
// path.
//
// Subscriptions must deliver matching messages one at a time in
// server-observed order and survive reconnects transparently. Duplicate
// redelivery after a reconnect is tolerated by the engine.
type Session interface {
	// PrincipalID returns the id of the principal this session currently
	// authenticates as. It may change if the session impersonates another
	// principal.
	PrincipalID() string

	// FindMessages returns historical messages matching the filter,
	// ordered and bounded per opts.
	FindMessages(ctx context.Context, f message.Filter, opts message.FindOptions) ([]*message.Message, error)

	// Subscribe delivers future matching messages to fn until the
	// returned stop function is called.
	Subscribe(f message.Filter, fn MessageFunc) (stop func(), err error)

	// SendMessages dispatches a batch of messages. Delivery order across
	// batches is preserved; cb is invoked once the batch has been
	// accepted or fatally rejected.
	SendMessages(ctx context.Context, msgs []*message.Message, cb SendCallback)
}
