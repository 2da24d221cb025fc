package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is a timestamped, optionally expiring unit of communication
// between principals. Messages with a type prefixed by an underscore are
// application-private; unprefixed types follow the shared schema.
//
// A message is a value: once constructed it is never mutated, except that
// the echo of a sent message carries the server-assigned ID. Each message
// is exclusively owned by whichever queue currently holds it.
type Message struct {
	// ID is the server-assigned identifier. Locally constructed messages
	// have no ID until the service has accepted them.
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// TS is the moment the message is considered in effect. Commands with
	// a future TS are scheduled, not executed immediately.
	TS time.Time `json:"ts"`

	// Expires is the instant after which the message is no longer valid.
	// A nil Expires means the message never expires.
	Expires *time.Time `json:"expires,omitempty"`

	// IndexUntil is a retention horizon used by the service; it plays no
	// part in command reconciliation.
	IndexUntil *time.Time `json:"index_until,omitempty"`

	// ResponseTo lists the ids of messages this message answers.
	ResponseTo []string `json:"response_to,omitempty"`

	Tags []string       `json:"tags,omitempty"`
	Body map[string]any `json:"body,omitempty"`
}

// NeverExpires and IndexForever are sentinel times far enough in the
// future to be effectively unbounded, for callers that want an explicit
// value on the wire instead of omitting the field.
var (
	NeverExpires = time.Date(2500, time.January, 1, 0, 0, 0, 0, time.UTC)
	IndexForever = time.Date(2500, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// New constructs a local message of the given type with TS set to now and
// an empty body. The service assigns the ID once the message is sent.
func New(typ string) *Message {
	return &Message{
		Type: typ,
		TS:   time.Now(),
		Body: make(map[string]any),
	}
}

// Parse decodes a message from its wire JSON. A missing ts defaults to the
// time of parsing, mirroring construction of local messages.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}
	if m.TS.IsZero() {
		m.TS = time.Now()
	}
	if m.Body == nil {
		m.Body = make(map[string]any)
	}
	return &m, nil
}

// MillisToTimestamp returns the duration until this message's TS. A
// positive value means the message's effective time is still in the
// future.
func (m *Message) MillisToTimestamp() time.Duration {
	return time.Until(m.TS)
}

// MillisToExpiration returns the duration until this message expires. The
// second return is false when the message has no expiration; callers must
// treat that case as never expiring rather than doing arithmetic on a
// zero time.
func (m *Message) MillisToExpiration() (time.Duration, bool) {
	if m.Expires == nil {
		return 0, false
	}
	return time.Until(*m.Expires), true
}

// Expired returns true if the message has an expiration and it has
// passed.
func (m *Message) Expired() bool {
	d, ok := m.MillisToExpiration()
	return ok && d < 0
}

// Is returns true if the message is of the given type.
func (m *Message) Is(typ string) bool {
	return m.Type == typ
}

// IsFrom returns true if the message was sent by the given principal.
func (m *Message) IsFrom(principalID string) bool {
	return m.From == principalID
}

// IsTo returns true if the message is addressed to the given principal.
func (m *Message) IsTo(principalID string) bool {
	return m.To == principalID
}

// IsResponseTo returns true if this message answers other. A message with
// no server-assigned id can never be answered.
func (m *Message) IsResponseTo(other *Message) bool {
	if other == nil || other.ID == "" {
		return false
	}
	for _, id := range m.ResponseTo {
		if id == other.ID {
			return true
		}
	}
	return false
}

// HasTag returns true if the message carries the given tag.
func (m *Message) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
