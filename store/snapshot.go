package store

import (
	"sort"
	"strings"
	"time"
)

const snapshotFormatVersion = 1

type SnapshotStats struct {
	Contacts   int `json:"contacts"`
	Chats      int `json:"chats"`
	Messages   int `json:"messages"`
	Presence   int `json:"presence"`
	Groups     int `json:"groups"`
	CallOffers int `json:"call_offers"`
}

// Snapshot is the serializable union of all entity maps. The secondary index
// is deliberately absent: Restore rebuilds it from the message maps, which
// defends against format drift in persisted files.
type Snapshot struct {
	Version    int                           `json:"version"`
	CreatedAt  time.Time                     `json:"created_at"`
	Contacts   map[string]Contact            `json:"contacts"`
	Chats      map[string]Chat               `json:"chats"`
	Messages   map[string]map[string]Message `json:"messages"`
	Presence   map[string]Presence           `json:"presence"`
	Groups     map[string]GroupMetadata      `json:"groups"`
	CallOffers map[string]CallOffer          `json:"call_offers"`
	Stats      SnapshotStats                 `json:"stats"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Version:    snapshotFormatVersion,
		CreatedAt:  time.Now().UTC(),
		Contacts:   make(map[string]Contact, len(s.contacts)),
		Chats:      make(map[string]Chat, len(s.chats)),
		Messages:   make(map[string]map[string]Message, len(s.messages)),
		Presence:   make(map[string]Presence, len(s.presence)),
		Groups:     make(map[string]GroupMetadata, len(s.groups)),
		CallOffers: make(map[string]CallOffer, len(s.calls)),
	}
	for jid, c := range s.contacts {
		snap.Contacts[jid] = c
	}
	for jid, c := range s.chats {
		snap.Chats[jid] = c
	}
	for jid, p := range s.presence {
		snap.Presence[jid] = p
	}
	for jid, g := range s.groups {
		snap.Groups[jid] = g
	}
	for id, c := range s.calls {
		snap.CallOffers[id] = c
	}
	for chatJID, chat := range s.messages {
		out := make(map[string]Message, len(chat))
		for id, stored := range chat {
			out[id] = stored.Message
		}
		snap.Messages[chatJID] = out
	}
	snap.Stats = SnapshotStats{
		Contacts:   len(snap.Contacts),
		Chats:      len(snap.Chats),
		Messages:   s.messageCountLocked(),
		Presence:   len(snap.Presence),
		Groups:     len(snap.Groups),
		CallOffers: len(snap.CallOffers),
	}
	return snap
}

// Restore replaces the store's state with the snapshot's. Messages are
// re-inserted in (timestamp, ID) order so insertion sequences, and with them
// eviction tie-breaks, stay deterministic across a save/load cycle.
// Malformed records are dropped, mirroring the upsert boundary.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contacts = make(map[string]Contact, len(snap.Contacts))
	s.chats = make(map[string]Chat, len(snap.Chats))
	s.presence = make(map[string]Presence, len(snap.Presence))
	s.groups = make(map[string]GroupMetadata, len(snap.Groups))
	s.calls = make(map[string]CallOffer, len(snap.CallOffers))
	s.messages = make(map[string]map[string]storedMessage, len(snap.Messages))
	s.msgIndex = make(map[string]string)
	s.chatSeq = make(map[string]uint64)
	s.chatActivity = make(map[string]time.Time)
	s.seq = 0
	s.recent.clear()

	for jid, c := range snap.Contacts {
		if strings.TrimSpace(jid) == "" {
			continue
		}
		c.JID = jid
		s.contacts[jid] = c
	}
	for jid, c := range snap.Chats {
		if strings.TrimSpace(jid) == "" {
			continue
		}
		c.JID = jid
		s.chats[jid] = c
	}
	for jid, p := range snap.Presence {
		if strings.TrimSpace(jid) == "" {
			continue
		}
		p.JID = jid
		s.presence[jid] = p
	}
	for jid, g := range snap.Groups {
		if strings.TrimSpace(jid) == "" {
			continue
		}
		g.JID = jid
		s.groups[jid] = g
	}
	for id, c := range snap.CallOffers {
		if strings.TrimSpace(id) == "" {
			continue
		}
		c.CallID = id
		s.calls[id] = c
	}

	chatJIDs := make([]string, 0, len(snap.Messages))
	for chatJID := range snap.Messages {
		if strings.TrimSpace(chatJID) == "" {
			continue
		}
		chatJIDs = append(chatJIDs, chatJID)
	}
	sort.Strings(chatJIDs)

	for _, chatJID := range chatJIDs {
		src := snap.Messages[chatJID]
		ordered := make([]Message, 0, len(src))
		for id, msg := range src {
			if strings.TrimSpace(id) == "" {
				continue
			}
			msg.ID = id
			msg.ChatJID = chatJID
			ordered = append(ordered, msg)
		}
		if len(ordered) == 0 {
			continue
		}
		sort.Slice(ordered, func(i, j int) bool {
			if ordered[i].Timestamp != ordered[j].Timestamp {
				return ordered[i].Timestamp < ordered[j].Timestamp
			}
			return ordered[i].ID < ordered[j].ID
		})

		chat := make(map[string]storedMessage, len(ordered))
		for _, msg := range ordered {
			s.seq++
			chat[msg.ID] = storedMessage{Message: msg, seq: s.seq}
			s.msgIndex[msg.ID] = chatJID
		}
		s.messages[chatJID] = chat
		newest := ordered[len(ordered)-1]
		s.touchChatLocked(chatJID, time.Unix(newest.Timestamp, 0).UTC())
	}
}
