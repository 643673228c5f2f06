package store

import (
	"fmt"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxMessagesPerChat: 10,
		MaxChats:           5,
		RecentCacheSize:    4,
		ChatCleanupDelay:   10 * time.Millisecond,
		NotifyWindow:       5 * time.Millisecond,
	}
}

func msg(chatJID string, id string, ts int64) Message {
	return Message{ChatJID: chatJID, ID: id, Timestamp: ts}
}

// checkIndexConsistency verifies the bidirectional invariant between the
// primary message maps and the secondary index.
func checkIndexConsistency(t *testing.T, s *Store) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, chatJID := range s.msgIndex {
		if _, ok := s.messages[chatJID][id]; !ok {
			t.Fatalf("index entry %s -> %s has no message", id, chatJID)
		}
	}
	for chatJID, chat := range s.messages {
		for id := range chat {
			if got := s.msgIndex[id]; got != chatJID {
				t.Fatalf("message %s/%s indexed as %q", chatJID, id, got)
			}
		}
	}
}

func TestUpsertContactMergesShallowly(t *testing.T) {
	s := New(testConfig())
	defer s.Close()

	s.UpsertContact(Contact{JID: "123@s.whatsapp.net", Name: "Alice", Notify: "alice"})
	s.UpsertContact(Contact{JID: "123@s.whatsapp.net", BusinessName: "Alice LLC"})

	got, ok := s.GetContact("123@s.whatsapp.net")
	if !ok {
		t.Fatalf("GetContact() ok = false")
	}
	if got.Name != "Alice" || got.Notify != "alice" || got.BusinessName != "Alice LLC" {
		t.Fatalf("merge result = %+v", got)
	}
}

func TestUpsertDropsMissingIdentityKey(t *testing.T) {
	s := New(testConfig())
	defer s.Close()

	s.UpsertContact(Contact{Name: "ghost"})
	s.UpsertChat(Chat{Name: "ghost chat"})
	s.UpsertMessage(Message{ChatJID: "c1", Timestamp: 1})
	s.UpsertMessage(Message{ID: "m1", Timestamp: 1})

	counts := s.Counts()
	if counts["contacts"] != 0 || counts["chats"] != 0 || counts["messages"] != 0 {
		t.Fatalf("malformed records were stored: %v", counts)
	}
}

func TestUpsertChatPreservesAbsentBoolFields(t *testing.T) {
	s := New(testConfig())
	defer s.Close()

	archived := true
	s.UpsertChat(Chat{JID: "c1", Archived: &archived})
	s.UpsertChat(Chat{JID: "c1", Name: "renamed"})

	got, _ := s.GetChat("c1")
	if got.Archived == nil || !*got.Archived {
		t.Fatalf("archived flag lost on merge: %+v", got)
	}
	if got.Name != "renamed" {
		t.Fatalf("name = %q", got.Name)
	}
}

func TestUpsertMessageReplacesWholeRecord(t *testing.T) {
	s := New(testConfig())
	defer s.Close()

	s.UpsertMessage(Message{ChatJID: "c1", ID: "m1", Timestamp: 10, Status: StatusSent, SenderJID: "u1"})
	s.UpsertMessage(Message{ChatJID: "c1", ID: "m1", Timestamp: 10, Status: StatusRead})

	got, ok := s.LoadMessage("c1", "m1")
	if !ok {
		t.Fatalf("LoadMessage() ok = false")
	}
	if got.Status != StatusRead {
		t.Fatalf("status = %q, want %q", got.Status, StatusRead)
	}
	if got.SenderJID != "" {
		t.Fatalf("SenderJID = %q, want whole-record replace", got.SenderJID)
	}
	checkIndexConsistency(t, s)
}

func TestLoadMessageFallsThroughRecentCache(t *testing.T) {
	s := New(testConfig())
	defer s.Close()

	// More inserts than the recent cache holds: early messages are only in
	// the primary map, but must still resolve.
	for i := 0; i < 8; i++ {
		s.UpsertMessage(msg("c1", fmt.Sprintf("m%d", i), int64(i)))
	}
	if _, ok := s.LoadMessage("c1", "m0"); !ok {
		t.Fatalf("LoadMessage(m0) ok = false, recent-cache miss must fall through")
	}
}

func TestLoadMessageByIndexWithoutChatJID(t *testing.T) {
	s := New(testConfig())
	defer s.Close()

	s.UpsertMessage(msg("c7", "m42", 99))
	got, ok := s.LoadMessage("", "m42")
	if !ok {
		t.Fatalf("LoadMessage(\"\", m42) ok = false")
	}
	if got.ChatJID != "c7" {
		t.Fatalf("ChatJID = %q, want c7", got.ChatJID)
	}
}

func TestLoadMessageUnknown(t *testing.T) {
	s := New(testConfig())
	defer s.Close()

	if _, ok := s.LoadMessage("c1", "nope"); ok {
		t.Fatalf("LoadMessage() ok = true for unknown id")
	}
	if _, ok := s.LoadMessage("", ""); ok {
		t.Fatalf("LoadMessage() ok = true for empty id")
	}
}

func TestGetMessagesOrderAndPagination(t *testing.T) {
	s := New(testConfig())
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.UpsertMessage(msg("c1", fmt.Sprintf("m%d", i), int64(i)))
	}

	page := s.GetMessages("c1", 2, 0)
	if len(page) != 2 || page[0].ID != "m4" || page[1].ID != "m3" {
		t.Fatalf("first page = %v", ids(page))
	}
	page = s.GetMessages("c1", 2, 2)
	if len(page) != 2 || page[0].ID != "m2" || page[1].ID != "m1" {
		t.Fatalf("second page = %v", ids(page))
	}
	if got := s.GetMessages("c1", 10, 10); len(got) != 0 {
		t.Fatalf("offset past end = %v", ids(got))
	}
	if got := s.GetMessages("unknown", 10, 0); len(got) != 0 {
		t.Fatalf("unknown chat = %v, want empty", ids(got))
	}
}

func TestGetMessagesTieBreakByInsertionOrder(t *testing.T) {
	s := New(testConfig())
	defer s.Close()

	// Same timestamp: later insert sorts first.
	s.UpsertMessage(msg("c1", "first", 100))
	s.UpsertMessage(msg("c1", "second", 100))

	got := s.GetMessages("c1", 0, 0)
	if len(got) != 2 || got[0].ID != "second" || got[1].ID != "first" {
		t.Fatalf("order = %v", ids(got))
	}
}

func TestIndexConsistencyAcrossOperations(t *testing.T) {
	s := New(testConfig())
	defer s.Close()

	for chat := 0; chat < 4; chat++ {
		for i := 0; i < 15; i++ {
			s.UpsertMessage(msg(fmt.Sprintf("c%d", chat), fmt.Sprintf("c%d-m%d", chat, i), int64(i)))
			checkIndexConsistency(t, s)
		}
	}
	s.Cleanup()
	checkIndexConsistency(t, s)
	s.AggressiveCleanup()
	checkIndexConsistency(t, s)
}

func ids(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
