package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/itxrex07/rexwa-sub000/store"
)

// Inbound frames are tagged JSON envelopes. Each payload is validated for its
// identity fields at this boundary; everything past it can assume well-formed
// records.
type EventType string

const (
	EventTypeMessage  EventType = "message"
	EventTypeReceipt  EventType = "receipt"
	EventTypeContact  EventType = "contact"
	EventTypeChat     EventType = "chat"
	EventTypePresence EventType = "presence"
	EventTypeGroup    EventType = "group"
	EventTypeCall     EventType = "call_offer"
)

type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessageEvent is one observed inbound or outbound message. FromSelf marks
// messages sent by the bot's own account; those never carry a sender JID and
// never trigger command handling.
type MessageEvent struct {
	ChatJID   string          `json:"chat_jid"`
	ID        string          `json:"id"`
	SenderJID string          `json:"sender_jid,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Text      string          `json:"text,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	FromSelf  bool            `json:"from_self,omitempty"`
}

func (e MessageEvent) validate() error {
	if strings.TrimSpace(e.ChatJID) == "" {
		return fmt.Errorf("message event missing chat_jid")
	}
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("message event missing id")
	}
	return nil
}

func (e MessageEvent) record() store.Message {
	ts := e.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return store.Message{
		ChatJID:   strings.TrimSpace(e.ChatJID),
		ID:        strings.TrimSpace(e.ID),
		SenderJID: strings.TrimSpace(e.SenderJID),
		Timestamp: ts,
		Payload:   e.Payload,
	}
}

// ReceiptEvent reports a delivery-status transition for a known message. The
// chat JID is optional; the store's secondary index resolves it.
type ReceiptEvent struct {
	ChatJID   string `json:"chat_jid,omitempty"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (e ReceiptEvent) validate() error {
	if strings.TrimSpace(e.MessageID) == "" {
		return fmt.Errorf("receipt event missing message_id")
	}
	switch strings.TrimSpace(e.Status) {
	case store.StatusSent, store.StatusDelivered, store.StatusRead:
		return nil
	default:
		return fmt.Errorf("receipt event has unknown status: %q", e.Status)
	}
}

type ContactEvent struct {
	JID          string `json:"jid"`
	Name         string `json:"name,omitempty"`
	Notify       string `json:"notify,omitempty"`
	ShortName    string `json:"short_name,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
}

func (e ContactEvent) validate() error {
	if strings.TrimSpace(e.JID) == "" {
		return fmt.Errorf("contact event missing jid")
	}
	return nil
}

type ChatEvent struct {
	JID           string    `json:"jid"`
	Name          string    `json:"name,omitempty"`
	UnreadCount   int       `json:"unread_count,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	Archived      *bool     `json:"archived,omitempty"`
	Pinned        *bool     `json:"pinned,omitempty"`
	MutedUntil    time.Time `json:"muted_until,omitempty"`
}

func (e ChatEvent) validate() error {
	if strings.TrimSpace(e.JID) == "" {
		return fmt.Errorf("chat event missing jid")
	}
	return nil
}

type PresenceEvent struct {
	JID       string    `json:"jid"`
	Available bool      `json:"available"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
}

func (e PresenceEvent) validate() error {
	if strings.TrimSpace(e.JID) == "" {
		return fmt.Errorf("presence event missing jid")
	}
	return nil
}

type GroupEvent struct {
	JID          string    `json:"jid"`
	Subject      string    `json:"subject,omitempty"`
	OwnerJID     string    `json:"owner_jid,omitempty"`
	Description  string    `json:"description,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

func (e GroupEvent) validate() error {
	if strings.TrimSpace(e.JID) == "" {
		return fmt.Errorf("group event missing jid")
	}
	return nil
}

type CallEvent struct {
	CallID    string    `json:"call_id"`
	ChatJID   string    `json:"chat_jid,omitempty"`
	FromJID   string    `json:"from_jid,omitempty"`
	Video     bool      `json:"video,omitempty"`
	OfferedAt time.Time `json:"offered_at,omitempty"`
}

func (e CallEvent) validate() error {
	if strings.TrimSpace(e.CallID) == "" {
		return fmt.Errorf("call event missing call_id")
	}
	return nil
}
