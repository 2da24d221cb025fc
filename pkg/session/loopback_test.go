package session

import (
	"context"
	"testing"
	"time"

	"github.com/nitrogen-io/nitrogen-go/pkg/message"
)

func TestLoopbackSendAssignsIDsAndEchoes(t *testing.T) {
	l := NewLoopback(Principal{ID: "device-1"})

	var echoed []*message.Message
	unsubscribe, err := l.Subscribe(message.Filter{To: "device-1"}, func(m *message.Message) {
		echoed = append(echoed, m)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	m := message.New("_switchOn")
	m.To = "device-1"
	other := message.New("_switchOn")
	other.To = "device-2"

	var cbSent []*message.Message
	l.SendMessages(context.Background(), []*message.Message{m, other}, func(sent []*message.Message, err error) {
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		cbSent = sent
	})

	if len(cbSent) != 2 {
		t.Fatalf("expected 2 sent messages, got %d", len(cbSent))
	}
	for _, s := range cbSent {
		if s.ID == "" {
			t.Fatal("sent message missing generated id")
		}
	}
	if len(echoed) != 1 || echoed[0].To != "device-1" {
		t.Fatalf("expected only the device-1 message echoed, got %d", len(echoed))
	}
}

func TestLoopbackFindOrderingAndLimit(t *testing.T) {
	l := NewLoopback(Principal{ID: "device-1"})
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"m1", "m2", "m3"} {
		m := message.New("_switchOn")
		m.ID = id
		m.To = "device-1"
		m.TS = base.Add(time.Duration(i) * time.Second)
		l.Seed(m)
	}

	got, err := l.FindMessages(context.Background(), message.Filter{To: "device-1"}, message.FindOptions{
		SortDescending: true,
		Limit:          2,
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].ID != "m3" || got[1].ID != "m2" {
		t.Fatalf("expected newest-first [m3 m2], got [%s %s]", got[0].ID, got[1].ID)
	}
}

func TestLoopbackSeedDoesNotEcho(t *testing.T) {
	l := NewLoopback(Principal{ID: "device-1"})

	echoes := 0
	unsubscribe, err := l.Subscribe(message.Filter{}, func(m *message.Message) { echoes++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	l.Seed(message.New("_switchOn"))
	if echoes != 0 {
		t.Fatalf("seed must not echo, got %d deliveries", echoes)
	}

	got, err := l.FindMessages(context.Background(), message.Filter{}, message.FindOptions{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected seeded message in store, got %d", len(got))
	}
}

func TestLoopbackUnsubscribeStopsDelivery(t *testing.T) {
	l := NewLoopback(Principal{ID: "device-1"})

	deliveries := 0
	unsubscribe, err := l.Subscribe(message.Filter{}, func(m *message.Message) { deliveries++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	l.SendMessages(context.Background(), []*message.Message{message.New("_switchOn")}, nil)
	unsubscribe()
	l.SendMessages(context.Background(), []*message.Message{message.New("_switchOff")}, nil)

	if deliveries != 1 {
		t.Fatalf("expected 1 delivery, got %d", deliveries)
	}
}
