// Package store is a bounded in-memory mirror of remote conversational state
// (contacts, chats, messages, presence, group metadata, call offers). It is a
// best-effort cache, not a source of truth: records may be evicted under
// memory pressure and reappear when re-observed from the event stream.
package store

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/itxrex07/rexwa-sub000/internal/metrics"
)

const (
	defaultMaxMessagesPerChat = 1000
	defaultMaxChats           = 500
	defaultRecentCacheSize    = 200
	defaultChatCleanupDelay   = 2 * time.Second
	defaultPresenceMaxAge     = 12 * time.Hour
	defaultNotifyWindow       = 100 * time.Millisecond

	// A chat schedules its own debounced cleanup once it overshoots the cap
	// by this factor, so bursts of inserts coalesce into one pass per chat.
	chatCleanupOvershoot = 1.2
)

type Config struct {
	MaxMessagesPerChat int
	MaxChats           int
	RecentCacheSize    int
	ChatCleanupDelay   time.Duration
	PresenceMaxAge     time.Duration
	NotifyWindow       time.Duration
	Logger             *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxMessagesPerChat <= 0 {
		c.MaxMessagesPerChat = defaultMaxMessagesPerChat
	}
	if c.MaxChats <= 0 {
		c.MaxChats = defaultMaxChats
	}
	if c.RecentCacheSize <= 0 {
		c.RecentCacheSize = defaultRecentCacheSize
	}
	if c.ChatCleanupDelay <= 0 {
		c.ChatCleanupDelay = defaultChatCleanupDelay
	}
	if c.PresenceMaxAge <= 0 {
		c.PresenceMaxAge = defaultPresenceMaxAge
	}
	if c.NotifyWindow <= 0 {
		c.NotifyWindow = defaultNotifyWindow
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type Store struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger

	contacts map[string]Contact
	chats    map[string]Chat
	presence map[string]Presence
	groups   map[string]GroupMetadata
	calls    map[string]CallOffer

	// messages[chatJID][messageID]; msgIndex is the derived messageID→chatJID
	// index and must stay consistent with messages after every mutation.
	messages map[string]map[string]storedMessage
	msgIndex map[string]string

	// Monotonic insertion sequences back the deterministic eviction
	// tie-break (first inserted = first evicted).
	seq          uint64
	chatSeq      map[string]uint64
	chatActivity map[string]time.Time

	recent   *recentCache
	notifier *notifier

	pendingChatCleanup map[string]*time.Timer
	closed             bool
}

func New(cfg Config) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		cfg:                cfg,
		logger:             cfg.Logger,
		contacts:           make(map[string]Contact),
		chats:              make(map[string]Chat),
		presence:           make(map[string]Presence),
		groups:             make(map[string]GroupMetadata),
		calls:              make(map[string]CallOffer),
		messages:           make(map[string]map[string]storedMessage),
		msgIndex:           make(map[string]string),
		chatSeq:            make(map[string]uint64),
		chatActivity:       make(map[string]time.Time),
		recent:             newRecentCache(cfg.RecentCacheSize),
		notifier:           newNotifier(cfg.NotifyWindow),
		pendingChatCleanup: make(map[string]*time.Timer),
	}
}

// Subscribe registers a listener for batched change notifications. Listeners
// run on the notifier's timer goroutine and may call back into the store.
func (s *Store) Subscribe(fn func(Event)) {
	s.notifier.subscribe(fn)
}

// Close cancels pending debounced cleanups and flushes the notifier. The
// store stays readable after Close; no further notifications are emitted.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	for chatJID, timer := range s.pendingChatCleanup {
		timer.Stop()
		delete(s.pendingChatCleanup, chatJID)
	}
	s.mu.Unlock()
	s.notifier.close()
}

// Upserts merge shallowly and are last-write-wins per key. Records with a
// missing identity key are dropped silently; this is deliberate policy for a
// cache fed by an unreliable event stream, not an error path.

func (s *Store) UpsertContact(c Contact) {
	c.JID = strings.TrimSpace(c.JID)
	if c.JID == "" {
		s.logger.Debug("store_drop_malformed", "kind", EventContact)
		return
	}
	s.mu.Lock()
	merged := mergeContact(s.contacts[c.JID], c)
	merged.JID = c.JID
	merged.UpdatedAt = time.Now().UTC()
	s.contacts[c.JID] = merged
	metrics.StoreEntities.WithLabelValues(string(EventContact)).Set(float64(len(s.contacts)))
	s.mu.Unlock()
	s.notifier.add(EventContact, c.JID, merged)
}

func (s *Store) UpsertChat(c Chat) {
	c.JID = strings.TrimSpace(c.JID)
	if c.JID == "" {
		s.logger.Debug("store_drop_malformed", "kind", EventChat)
		return
	}
	s.mu.Lock()
	merged := mergeChat(s.chats[c.JID], c)
	merged.JID = c.JID
	merged.UpdatedAt = time.Now().UTC()
	s.chats[c.JID] = merged
	s.touchChatLocked(c.JID, merged.UpdatedAt)
	metrics.StoreEntities.WithLabelValues(string(EventChat)).Set(float64(len(s.chats)))
	s.mu.Unlock()
	s.notifier.add(EventChat, c.JID, merged)
}

func (s *Store) UpsertPresence(p Presence) {
	p.JID = strings.TrimSpace(p.JID)
	if p.JID == "" {
		s.logger.Debug("store_drop_malformed", "kind", EventPresence)
		return
	}
	s.mu.Lock()
	merged := mergePresence(s.presence[p.JID], p)
	merged.JID = p.JID
	merged.UpdatedAt = time.Now().UTC()
	s.presence[p.JID] = merged
	metrics.StoreEntities.WithLabelValues(string(EventPresence)).Set(float64(len(s.presence)))
	s.mu.Unlock()
	s.notifier.add(EventPresence, p.JID, merged)
}

func (s *Store) UpsertGroup(g GroupMetadata) {
	g.JID = strings.TrimSpace(g.JID)
	if g.JID == "" {
		s.logger.Debug("store_drop_malformed", "kind", EventGroup)
		return
	}
	s.mu.Lock()
	merged := mergeGroup(s.groups[g.JID], g)
	merged.JID = g.JID
	merged.UpdatedAt = time.Now().UTC()
	s.groups[g.JID] = merged
	metrics.StoreEntities.WithLabelValues(string(EventGroup)).Set(float64(len(s.groups)))
	s.mu.Unlock()
	s.notifier.add(EventGroup, g.JID, merged)
}

func (s *Store) UpsertCallOffer(c CallOffer) {
	c.CallID = strings.TrimSpace(c.CallID)
	if c.CallID == "" {
		s.logger.Debug("store_drop_malformed", "kind", EventCall)
		return
	}
	s.mu.Lock()
	merged := mergeCallOffer(s.calls[c.CallID], c)
	merged.CallID = c.CallID
	s.calls[c.CallID] = merged
	metrics.StoreEntities.WithLabelValues(string(EventCall)).Set(float64(len(s.calls)))
	s.mu.Unlock()
	s.notifier.add(EventCall, c.CallID, merged)
}

// UpsertMessage writes the record whole (no merge), keeps the secondary index
// consistent in the same step, promotes the record into the recent cache, and
// schedules a debounced per-chat cleanup once the chat overshoots its cap.
func (s *Store) UpsertMessage(m Message) {
	m.ChatJID = strings.TrimSpace(m.ChatJID)
	m.ID = strings.TrimSpace(m.ID)
	if m.ChatJID == "" || m.ID == "" {
		s.logger.Debug("store_drop_malformed", "kind", EventMessage)
		return
	}

	s.mu.Lock()
	chat, ok := s.messages[m.ChatJID]
	if !ok {
		chat = make(map[string]storedMessage)
		s.messages[m.ChatJID] = chat
	}
	s.seq++
	seq := s.seq
	if prior, exists := chat[m.ID]; exists {
		// Whole-record replace keeps the original insertion order.
		seq = prior.seq
	}
	chat[m.ID] = storedMessage{Message: m, seq: seq}
	s.msgIndex[m.ID] = m.ChatJID
	s.recent.put(m)
	s.touchChatLocked(m.ChatJID, time.Unix(m.Timestamp, 0).UTC())

	overshoot := int(float64(s.cfg.MaxMessagesPerChat) * chatCleanupOvershoot)
	if len(chat) > overshoot {
		s.scheduleChatCleanupLocked(m.ChatJID)
	}
	metrics.StoreEntities.WithLabelValues(string(EventMessage)).Set(float64(s.messageCountLocked()))
	s.mu.Unlock()

	s.notifier.add(EventMessage, recentKey(m.ChatJID, m.ID), m)
}

// LoadMessage resolves a message by (chatJID, messageID). chatJID may be
// empty when only the message ID is known; the secondary index covers that
// case. Lookup order is recent cache, primary map, index; every hit promotes
// the record to most-recently-used.
func (s *Store) LoadMessage(chatJID string, messageID string) (Message, bool) {
	chatJID = strings.TrimSpace(chatJID)
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return Message{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if chatJID != "" {
		if msg, ok := s.recent.get(chatJID, messageID); ok {
			return msg, true
		}
		if chat, ok := s.messages[chatJID]; ok {
			if stored, ok := chat[messageID]; ok {
				s.recent.put(stored.Message)
				return stored.Message, true
			}
		}
	}
	indexedChat, ok := s.msgIndex[messageID]
	if !ok {
		return Message{}, false
	}
	stored, ok := s.messages[indexedChat][messageID]
	if !ok {
		return Message{}, false
	}
	s.recent.put(stored.Message)
	return stored.Message, true
}

// GetMessages returns the chat's messages ordered by descending timestamp
// (ties broken by insertion order, newest insert first), paginated. Unknown
// chats yield an empty slice.
func (s *Store) GetMessages(chatJID string, limit int, offset int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.messages[strings.TrimSpace(chatJID)]
	if !ok || len(chat) == 0 {
		return []Message{}
	}
	ordered := sortedByRecencyLocked(chat)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ordered) {
		return []Message{}
	}
	ordered = ordered[offset:]
	if limit > 0 && limit < len(ordered) {
		ordered = ordered[:limit]
	}
	out := make([]Message, 0, len(ordered))
	for _, stored := range ordered {
		out = append(out, stored.Message)
	}
	return out
}

func (s *Store) GetContact(jid string) (Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[strings.TrimSpace(jid)]
	return c, ok
}

func (s *Store) GetChat(jid string) (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[strings.TrimSpace(jid)]
	return c, ok
}

func (s *Store) GetPresence(jid string) (Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presence[strings.TrimSpace(jid)]
	return p, ok
}

func (s *Store) GetGroup(jid string) (GroupMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[strings.TrimSpace(jid)]
	return g, ok
}

func (s *Store) GetCallOffer(callID string) (CallOffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[strings.TrimSpace(callID)]
	return c, ok
}

// Counts reports the current size of every entity map, for the health
// endpoint and the stats snapshot.
func (s *Store) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{
		"contacts":    len(s.contacts),
		"chats":       len(s.chats),
		"messages":    s.messageCountLocked(),
		"presence":    len(s.presence),
		"groups":      len(s.groups),
		"call_offers": len(s.calls),
		"recent":      s.recent.len(),
	}
}

func (s *Store) messageCountLocked() int {
	total := 0
	for _, chat := range s.messages {
		total += len(chat)
	}
	return total
}

func (s *Store) touchChatLocked(chatJID string, at time.Time) {
	if _, ok := s.chatSeq[chatJID]; !ok {
		s.seq++
		s.chatSeq[chatJID] = s.seq
	}
	if at.After(s.chatActivity[chatJID]) {
		s.chatActivity[chatJID] = at
	}
}

// sortedByRecencyLocked orders a chat's messages newest first; equal
// timestamps fall back to insertion order with the later insert first, so the
// first-inserted record is always the first eviction candidate.
func sortedByRecencyLocked(chat map[string]storedMessage) []storedMessage {
	ordered := make([]storedMessage, 0, len(chat))
	for _, stored := range chat {
		ordered = append(ordered, stored)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Timestamp != ordered[j].Timestamp {
			return ordered[i].Timestamp > ordered[j].Timestamp
		}
		return ordered[i].seq > ordered[j].seq
	})
	return ordered
}
