package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Message delivery status values as reported by the protocol layer.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Contact mirrors a remote address-book entry, keyed by JID.
type Contact struct {
	JID          string    `json:"jid"`
	Name         string    `json:"name,omitempty"`
	Notify       string    `json:"notify,omitempty"`
	ShortName    string    `json:"short_name,omitempty"`
	BusinessName string    `json:"business_name,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Chat mirrors conversation-level metadata, keyed by JID. Archived and Pinned
// are pointers so an upsert that does not carry them preserves the prior value.
type Chat struct {
	JID           string    `json:"jid"`
	Name          string    `json:"name,omitempty"`
	UnreadCount   int       `json:"unread_count,omitempty"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	Archived      *bool     `json:"archived,omitempty"`
	Pinned        *bool     `json:"pinned,omitempty"`
	MutedUntil    time.Time `json:"muted_until,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Presence is the last observed availability of a JID.
type Presence struct {
	JID       string    `json:"jid"`
	Available bool      `json:"available"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// GroupMetadata mirrors group state, keyed by the group JID.
type GroupMetadata struct {
	JID          string    `json:"jid"`
	Subject      string    `json:"subject,omitempty"`
	OwnerJID     string    `json:"owner_jid,omitempty"`
	Description  string    `json:"description,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// CallOffer records an inbound call offer, keyed by call ID.
type CallOffer struct {
	CallID    string    `json:"call_id"`
	ChatJID   string    `json:"chat_jid,omitempty"`
	FromJID   string    `json:"from_jid,omitempty"`
	Video     bool      `json:"video,omitempty"`
	OfferedAt time.Time `json:"offered_at,omitempty"`
}

// Message is one cached message record, keyed by (ChatJID, ID). Unlike the
// other entities it is never merged: a re-upsert with the same key replaces
// the whole record. SenderJID is empty for messages sent by the bot itself.
type Message struct {
	ChatJID   string          `json:"chat_jid"`
	ID        string          `json:"id"`
	SenderJID string          `json:"sender_jid,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// storedMessage carries the insertion sequence used for deterministic
// eviction tie-breaks; the sequence is internal and never serialized.
type storedMessage struct {
	Message
	seq uint64
}

// Shallow merges: set fields of incoming overwrite, zero fields preserve the
// prior value. Identity keys and the UpdatedAt stamp are handled by the caller.

func mergeContact(existing Contact, incoming Contact) Contact {
	out := existing
	if v := strings.TrimSpace(incoming.Name); v != "" {
		out.Name = v
	}
	if v := strings.TrimSpace(incoming.Notify); v != "" {
		out.Notify = v
	}
	if v := strings.TrimSpace(incoming.ShortName); v != "" {
		out.ShortName = v
	}
	if v := strings.TrimSpace(incoming.BusinessName); v != "" {
		out.BusinessName = v
	}
	return out
}

func mergeChat(existing Chat, incoming Chat) Chat {
	out := existing
	if v := strings.TrimSpace(incoming.Name); v != "" {
		out.Name = v
	}
	if incoming.UnreadCount != 0 {
		out.UnreadCount = incoming.UnreadCount
	}
	if !incoming.LastMessageAt.IsZero() {
		out.LastMessageAt = incoming.LastMessageAt
	}
	if incoming.Archived != nil {
		v := *incoming.Archived
		out.Archived = &v
	}
	if incoming.Pinned != nil {
		v := *incoming.Pinned
		out.Pinned = &v
	}
	if !incoming.MutedUntil.IsZero() {
		out.MutedUntil = incoming.MutedUntil
	}
	return out
}

func mergePresence(existing Presence, incoming Presence) Presence {
	out := existing
	out.Available = incoming.Available
	if !incoming.LastSeen.IsZero() {
		out.LastSeen = incoming.LastSeen
	}
	return out
}

func mergeGroup(existing GroupMetadata, incoming GroupMetadata) GroupMetadata {
	out := existing
	if v := strings.TrimSpace(incoming.Subject); v != "" {
		out.Subject = v
	}
	if v := strings.TrimSpace(incoming.OwnerJID); v != "" {
		out.OwnerJID = v
	}
	if v := strings.TrimSpace(incoming.Description); v != "" {
		out.Description = v
	}
	if len(incoming.Participants) > 0 {
		out.Participants = append([]string(nil), incoming.Participants...)
	}
	if !incoming.CreatedAt.IsZero() {
		out.CreatedAt = incoming.CreatedAt
	}
	return out
}

func mergeCallOffer(existing CallOffer, incoming CallOffer) CallOffer {
	out := existing
	if v := strings.TrimSpace(incoming.ChatJID); v != "" {
		out.ChatJID = v
	}
	if v := strings.TrimSpace(incoming.FromJID); v != "" {
		out.FromJID = v
	}
	out.Video = incoming.Video
	if !incoming.OfferedAt.IsZero() {
		out.OfferedAt = incoming.OfferedAt
	}
	return out
}
