package store

import (
	"sync"
	"testing"
	"time"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		events := r.snapshot()
		if len(events) >= n {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d events, want at least %d", len(events), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNotifierCoalescesUpsertsWithinWindow(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyWindow = 30 * time.Millisecond
	s := New(cfg)
	defer s.Close()

	rec := &eventRecorder{}
	s.Subscribe(rec.record)

	// Two writes to the same key plus one to another, all inside the window.
	s.UpsertContact(Contact{JID: "a@s.whatsapp.net", Name: "first"})
	s.UpsertContact(Contact{JID: "a@s.whatsapp.net", Name: "second"})
	s.UpsertContact(Contact{JID: "b@s.whatsapp.net", Name: "other"})

	events := rec.waitFor(t, 1)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 coalesced batch", len(events))
	}
	e := events[0]
	if e.Kind != EventContact {
		t.Fatalf("kind = %s, want %s", e.Kind, EventContact)
	}
	if len(e.Keys) != 2 {
		t.Fatalf("keys = %v, want 2 deduplicated keys", e.Keys)
	}
	// Last write wins for the duplicated key.
	for i, key := range e.Keys {
		if key != "a@s.whatsapp.net" {
			continue
		}
		c, ok := e.Records[i].(Contact)
		if !ok {
			t.Fatalf("record type = %T, want Contact", e.Records[i])
		}
		if c.Name != "second" {
			t.Fatalf("coalesced record name = %q, want last write", c.Name)
		}
	}
}

func TestNotifierDeliversKindsAsSeparateEvents(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyWindow = 20 * time.Millisecond
	s := New(cfg)
	defer s.Close()

	rec := &eventRecorder{}
	s.Subscribe(rec.record)

	s.UpsertContact(Contact{JID: "a@s.whatsapp.net"})
	s.UpsertMessage(msg("c1", "m1", 1))

	events := rec.waitFor(t, 2)
	kinds := map[EventKind]bool{}
	for _, e := range events {
		kinds[e.Kind] = true
	}
	if !kinds[EventContact] || !kinds[EventMessage] {
		t.Fatalf("kinds delivered = %v, want contact and message", kinds)
	}
}

func TestCloseFlushesPendingEvents(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyWindow = time.Hour // never fires on its own
	s := New(cfg)

	rec := &eventRecorder{}
	s.Subscribe(rec.record)

	s.UpsertContact(Contact{JID: "a@s.whatsapp.net"})
	s.Close()

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("events after close = %d, want final flush of 1", len(events))
	}
}
