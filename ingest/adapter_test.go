package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/itxrex07/rexwa-sub000/session"
	"github.com/itxrex07/rexwa-sub000/store"
)

func testAdapter(t *testing.T) (*Adapter, *store.Store, *session.Manager) {
	t.Helper()
	st := store.New(store.Config{NotifyWindow: time.Millisecond})
	t.Cleanup(st.Close)
	mgr, err := session.NewManager(session.Config{WorkDir: t.TempDir(), JobTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(mgr.Shutdown)
	return NewAdapter(st, mgr, Config{}), st, mgr
}

func frame(t *testing.T, kind EventType, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(Envelope{Type: kind, Payload: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestHandleFrameUpsertsEntities(t *testing.T) {
	a, st, _ := testAdapter(t)
	ctx := context.Background()

	frames := [][]byte{
		frame(t, EventTypeContact, ContactEvent{JID: "a@s.whatsapp.net", Name: "Alice"}),
		frame(t, EventTypeChat, ChatEvent{JID: "c1", Name: "General"}),
		frame(t, EventTypePresence, PresenceEvent{JID: "a@s.whatsapp.net", Available: true}),
		frame(t, EventTypeGroup, GroupEvent{JID: "g1@g.us", Subject: "Ops"}),
		frame(t, EventTypeCall, CallEvent{CallID: "call-1", FromJID: "a@s.whatsapp.net"}),
		frame(t, EventTypeMessage, MessageEvent{ChatJID: "c1", ID: "m1", SenderJID: "a@s.whatsapp.net", Timestamp: 42, Text: "hi"}),
	}
	for _, f := range frames {
		if err := a.HandleFrame(ctx, f); err != nil {
			t.Fatalf("HandleFrame() error = %v", err)
		}
	}

	if c, ok := st.GetContact("a@s.whatsapp.net"); !ok || c.Name != "Alice" {
		t.Fatalf("contact = %+v, ok = %v", c, ok)
	}
	if _, ok := st.GetChat("c1"); !ok {
		t.Fatalf("chat missing")
	}
	if p, ok := st.GetPresence("a@s.whatsapp.net"); !ok || !p.Available {
		t.Fatalf("presence = %+v, ok = %v", p, ok)
	}
	if _, ok := st.GetGroup("g1@g.us"); !ok {
		t.Fatalf("group missing")
	}
	if _, ok := st.GetCallOffer("call-1"); !ok {
		t.Fatalf("call offer missing")
	}
	m, ok := st.LoadMessage("c1", "m1")
	if !ok || m.Timestamp != 42 || m.Status != store.StatusSent {
		t.Fatalf("message = %+v, ok = %v", m, ok)
	}
}

func TestHandleFrameDropsMalformedPayloadSilently(t *testing.T) {
	a, st, _ := testAdapter(t)

	// Missing identity keys: dropped, not surfaced.
	if err := a.HandleFrame(context.Background(), frame(t, EventTypeContact, ContactEvent{Name: "noJID"})); err != nil {
		t.Fatalf("HandleFrame() error = %v, want silent drop", err)
	}
	if err := a.HandleFrame(context.Background(), frame(t, EventTypeMessage, MessageEvent{ChatJID: "c1"})); err != nil {
		t.Fatalf("HandleFrame() error = %v, want silent drop", err)
	}
	counts := st.Counts()
	if counts["contacts"] != 0 || counts["messages"] != 0 {
		t.Fatalf("counts = %v, want empty store", counts)
	}

	// Undecodable envelopes do surface.
	if err := a.HandleFrame(context.Background(), []byte("{broken")); err == nil {
		t.Fatalf("HandleFrame() = nil for undecodable envelope")
	}
}

func TestReceiptUpdatesMessageStatusViaIndex(t *testing.T) {
	a, st, _ := testAdapter(t)
	ctx := context.Background()

	if err := a.HandleFrame(ctx, frame(t, EventTypeMessage, MessageEvent{ChatJID: "c1", ID: "m1", Timestamp: 1})); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}
	// Receipt without a chat JID resolves through the secondary index.
	if err := a.HandleFrame(ctx, frame(t, EventTypeReceipt, ReceiptEvent{MessageID: "m1", Status: store.StatusRead})); err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}

	m, ok := st.LoadMessage("c1", "m1")
	if !ok || m.Status != store.StatusRead {
		t.Fatalf("message after receipt = %+v, ok = %v", m, ok)
	}
}

func TestCommandDispatchRunsHandlerWithSession(t *testing.T) {
	a, _, _ := testAdapter(t)

	got := make(chan CommandContext, 1)
	a.RegisterCommand("convert", func(ctx context.Context, sess *session.Session, cmd CommandContext) error {
		if sess.ActorID() != "a@s.whatsapp.net" {
			t.Errorf("actor = %q", sess.ActorID())
		}
		got <- cmd
		return nil
	})

	err := a.HandleFrame(context.Background(), frame(t, EventTypeMessage, MessageEvent{
		ChatJID:   "c1",
		ID:        "m1",
		SenderJID: "a@s.whatsapp.net",
		Timestamp: 1,
		Text:      "!convert sticker now",
	}))
	if err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}

	select {
	case cmd := <-got:
		if cmd.Command != "convert" {
			t.Fatalf("command = %q", cmd.Command)
		}
		if len(cmd.Args) != 2 || cmd.Args[0] != "sticker" || cmd.Args[1] != "now" {
			t.Fatalf("args = %v", cmd.Args)
		}
		if cmd.ChatJID != "c1" || cmd.MessageID != "m1" {
			t.Fatalf("context = %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never ran")
	}
	a.Wait()
}

func TestSelfMessagesNeverTriggerCommands(t *testing.T) {
	a, st, _ := testAdapter(t)

	ran := make(chan struct{}, 1)
	a.RegisterCommand("ping", func(ctx context.Context, sess *session.Session, cmd CommandContext) error {
		ran <- struct{}{}
		return nil
	})
	err := a.HandleFrame(context.Background(), frame(t, EventTypeMessage, MessageEvent{
		ChatJID: "c1", ID: "m1", Timestamp: 1, Text: "!ping", FromSelf: true,
	}))
	if err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}
	a.Wait()

	select {
	case <-ran:
		t.Fatalf("self message triggered a command")
	default:
	}
	// The message itself is still mirrored.
	if _, ok := st.LoadMessage("c1", "m1"); !ok {
		t.Fatalf("self message not stored")
	}
}

func TestParseCommand(t *testing.T) {
	a, _, _ := testAdapter(t)
	for _, tc := range []struct {
		text string
		name string
		args int
		ok   bool
	}{
		{"!ping", "ping", 0, true},
		{"  !Convert a b  ", "convert", 2, true},
		{"hello there", "", 0, false},
		{"!", "", 0, false},
		{"", "", 0, false},
	} {
		name, args, ok := a.parseCommand(tc.text)
		if ok != tc.ok || name != tc.name || len(args) != tc.args {
			t.Fatalf("parseCommand(%q) = (%q, %d args, %v), want (%q, %d, %v)",
				tc.text, name, len(args), ok, tc.name, tc.args, tc.ok)
		}
	}
}
