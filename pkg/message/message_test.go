package message

import (
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	before := time.Now()
	m := New("_switchOn")
	after := time.Now()

	if m.ID != "" {
		t.Fatalf("local message should have no id, got %q", m.ID)
	}
	if m.TS.Before(before) || m.TS.After(after) {
		t.Fatalf("expected TS set to construction time, got %v", m.TS)
	}
	if m.Body == nil {
		t.Fatal("expected non-nil body")
	}
}

func TestParseDefaultsTimestamp(t *testing.T) {
	m, err := Parse([]byte(`{"type":"_switchOn"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.TS.IsZero() {
		t.Fatal("expected TS defaulted to now for message without ts")
	}

	m, err = Parse([]byte(`{"type":"_switchOn","ts":"2020-01-02T03:04:05Z"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	if !m.TS.Equal(want) {
		t.Fatalf("expected TS %v, got %v", want, m.TS)
	}
}

func TestParseMalformed(t *testing.T) {
	if _, err := Parse([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed message")
	}
}

func TestMillisToExpirationMissing(t *testing.T) {
	m := New("_status")
	if _, ok := m.MillisToExpiration(); ok {
		t.Fatal("message without expires must report no expiration")
	}
	if m.Expired() {
		t.Fatal("message without expires must never expire")
	}
}

func TestExpired(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Minute)

	m := New("_switchOn")
	m.Expires = &past
	if !m.Expired() {
		t.Fatal("expected message with past expires to be expired")
	}

	m.Expires = &future
	if m.Expired() {
		t.Fatal("expected message with future expires to not be expired")
	}
	if d, ok := m.MillisToExpiration(); !ok || d <= 0 {
		t.Fatalf("expected positive duration to expiration, got %v ok=%v", d, ok)
	}
}

func TestMillisToTimestamp(t *testing.T) {
	m := New("_switchOn")
	m.TS = time.Now().Add(time.Hour)
	if m.MillisToTimestamp() <= 0 {
		t.Fatal("expected positive duration for future message")
	}

	m.TS = time.Now().Add(-time.Hour)
	if m.MillisToTimestamp() >= 0 {
		t.Fatal("expected negative duration for past message")
	}
}

func TestPredicates(t *testing.T) {
	cmd := New("_switchOn")
	cmd.ID = "c1"
	cmd.From = "user-1"
	cmd.To = "device-1"

	if !cmd.Is("_switchOn") || cmd.Is("_switchOff") {
		t.Fatal("Is mismatch")
	}
	if !cmd.IsFrom("user-1") || cmd.IsFrom("device-1") {
		t.Fatal("IsFrom mismatch")
	}
	if !cmd.IsTo("device-1") || cmd.IsTo("user-1") {
		t.Fatal("IsTo mismatch")
	}

	ack := New("_switchState")
	ack.ResponseTo = []string{"c1"}
	if !ack.IsResponseTo(cmd) {
		t.Fatal("expected ack to be a response to cmd")
	}
	if cmd.IsResponseTo(ack) {
		t.Fatal("cmd is not a response to ack")
	}

	unsent := New("_switchOn")
	if ack.IsResponseTo(unsent) {
		t.Fatal("a message without an id can never be answered")
	}
}

func TestCommandFilter(t *testing.T) {
	f := CommandFilter("device-1")

	m := New("_switchOn")
	m.Tags = []string{CommandTag("device-1")}
	if !f.Matches(m) {
		t.Fatalf("expected command filter to match tagged message")
	}

	other := New("_switchOn")
	other.Tags = []string{CommandTag("device-2")}
	if f.Matches(other) {
		t.Fatal("command filter must not match another principal's commands")
	}
}

func TestFilterQueryRoundTrip(t *testing.T) {
	f := Filter{Tag: CommandTag("device-1"), From: "user-1"}
	opts := FindOptions{SortDescending: true, Limit: 1000}

	got, gotOpts := FilterFromQuery(f.Query(opts))
	if got != f {
		t.Fatalf("filter round trip mismatch: %+v != %+v", got, f)
	}
	if gotOpts != opts {
		t.Fatalf("options round trip mismatch: %+v != %+v", gotOpts, opts)
	}
}
