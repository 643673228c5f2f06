package store

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/itxrex07/rexwa-sub000/internal/metrics"
)

// Cleanup is the regular eviction tier: every chat is trimmed to the per-chat
// cap by timestamp-descending retention, then the chat set is trimmed to the
// global cap by removing least-recently-active chats whole.
func (s *Store) Cleanup() {
	s.mu.Lock()
	evicted := s.trimAllChatsLocked(s.cfg.MaxMessagesPerChat)
	evicted += s.trimChatCountLocked(s.cfg.MaxChats)
	s.mu.Unlock()

	metrics.StoreCleanupsTotal.WithLabelValues("regular").Inc()
	if evicted > 0 {
		s.logger.Info("store_cleanup", "tier", "regular", "evicted", evicted)
	}
}

// AggressiveCleanup is the memory-pressure tier: the same algorithm with half
// the retention targets, plus a full recent-cache clear and presence pruning
// by age. Safe to call at any time; every removed message leaves the
// secondary index in the same step.
func (s *Store) AggressiveCleanup() {
	s.mu.Lock()
	evicted := s.trimAllChatsLocked(s.cfg.MaxMessagesPerChat / 2)
	evicted += s.trimChatCountLocked(s.cfg.MaxChats / 2)
	s.recent.clear()
	pruned := s.prunePresenceLocked(s.cfg.PresenceMaxAge)
	s.mu.Unlock()

	metrics.StoreCleanupsTotal.WithLabelValues("aggressive").Inc()
	s.logger.Warn("store_cleanup", "tier", "aggressive", "evicted", evicted, "presence_pruned", pruned)
}

func (s *Store) trimAllChatsLocked(limit int) int {
	if limit <= 0 {
		limit = 1
	}
	evicted := 0
	for chatJID := range s.messages {
		evicted += s.trimChatLocked(chatJID, limit)
	}
	return evicted
}

// trimChatLocked retains the limit most-recent messages of one chat. Removal
// and index maintenance happen in the same step so the index invariant holds
// after every call, not just eventually.
func (s *Store) trimChatLocked(chatJID string, limit int) int {
	chat, ok := s.messages[chatJID]
	if !ok || len(chat) <= limit {
		return 0
	}
	ordered := sortedByRecencyLocked(chat)
	evicted := 0
	for _, stored := range ordered[limit:] {
		delete(chat, stored.ID)
		delete(s.msgIndex, stored.ID)
		s.recent.remove(chatJID, stored.ID)
		evicted++
	}
	if len(chat) == 0 {
		delete(s.messages, chatJID)
	}
	if evicted > 0 {
		metrics.StoreEvictionsTotal.WithLabelValues(string(EventMessage)).Add(float64(evicted))
		metrics.StoreEntities.WithLabelValues(string(EventMessage)).Set(float64(s.messageCountLocked()))
	}
	return evicted
}

// trimChatCountLocked evicts whole chats (record plus messages) beyond the
// global cap, least-recently-active first; activity ties fall back to chat
// creation order, first created evicted first.
func (s *Store) trimChatCountLocked(maxChats int) int {
	if maxChats <= 0 {
		maxChats = 1
	}
	known := make(map[string]struct{}, len(s.messages)+len(s.chats))
	for chatJID := range s.messages {
		known[chatJID] = struct{}{}
	}
	for chatJID := range s.chats {
		known[chatJID] = struct{}{}
	}
	if len(known) <= maxChats {
		return 0
	}

	type chatRank struct {
		jid      string
		activity time.Time
		seq      uint64
	}
	ranked := make([]chatRank, 0, len(known))
	for chatJID := range known {
		ranked = append(ranked, chatRank{
			jid:      chatJID,
			activity: s.chatActivity[chatJID],
			seq:      s.chatSeq[chatJID],
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if !ranked[i].activity.Equal(ranked[j].activity) {
			return ranked[i].activity.Before(ranked[j].activity)
		}
		return ranked[i].seq < ranked[j].seq
	})

	evicted := 0
	for _, victim := range ranked[:len(ranked)-maxChats] {
		chat := s.messages[victim.jid]
		for id := range chat {
			delete(s.msgIndex, id)
			s.recent.remove(victim.jid, id)
			evicted++
		}
		delete(s.messages, victim.jid)
		delete(s.chats, victim.jid)
		delete(s.chatActivity, victim.jid)
		delete(s.chatSeq, victim.jid)
	}
	if evicted > 0 {
		metrics.StoreEvictionsTotal.WithLabelValues(string(EventMessage)).Add(float64(evicted))
		metrics.StoreEvictionsTotal.WithLabelValues(string(EventChat)).Add(float64(len(ranked) - maxChats))
		metrics.StoreEntities.WithLabelValues(string(EventMessage)).Set(float64(s.messageCountLocked()))
		metrics.StoreEntities.WithLabelValues(string(EventChat)).Set(float64(len(s.chats)))
	}
	return evicted
}

func (s *Store) prunePresenceLocked(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)
	pruned := 0
	for jid, p := range s.presence {
		if p.UpdatedAt.Before(cutoff) {
			delete(s.presence, jid)
			pruned++
		}
	}
	if pruned > 0 {
		metrics.StoreEvictionsTotal.WithLabelValues(string(EventPresence)).Add(float64(pruned))
		metrics.StoreEntities.WithLabelValues(string(EventPresence)).Set(float64(len(s.presence)))
	}
	return pruned
}

// scheduleChatCleanupLocked arms one debounced trim for the chat. The pending
// set guarantees at most one scheduled pass per chat at a time; a burst of
// inserts lands on the one timer already armed.
func (s *Store) scheduleChatCleanupLocked(chatJID string) {
	if s.closed {
		return
	}
	if _, pending := s.pendingChatCleanup[chatJID]; pending {
		return
	}
	s.pendingChatCleanup[chatJID] = time.AfterFunc(s.cfg.ChatCleanupDelay, func() {
		s.mu.Lock()
		delete(s.pendingChatCleanup, chatJID)
		evicted := s.trimChatLocked(chatJID, s.cfg.MaxMessagesPerChat)
		s.mu.Unlock()
		metrics.StoreCleanupsTotal.WithLabelValues("chat").Inc()
		if evicted > 0 {
			s.logger.Debug("store_chat_cleanup", "chat_jid", chatJID, "evicted", evicted)
		}
	})
}

type JanitorConfig struct {
	CleanupInterval   time.Duration // regular tier cadence, default 5m
	MemCheckInterval  time.Duration // heap poll cadence, default 30s
	MemThresholdBytes uint64        // aggressive tier trigger, default 512 MiB
}

func (c JanitorConfig) withDefaults() JanitorConfig {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.MemCheckInterval <= 0 {
		c.MemCheckInterval = 30 * time.Second
	}
	if c.MemThresholdBytes == 0 {
		c.MemThresholdBytes = 512 * 1024 * 1024
	}
	return c
}

// RunJanitor drives both eviction tiers until ctx is done: the regular tier
// on a fixed interval and the aggressive tier whenever the polled heap
// reading crosses the threshold.
func (s *Store) RunJanitor(ctx context.Context, cfg JanitorConfig) error {
	cfg = cfg.withDefaults()
	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()
	memTicker := time.NewTicker(cfg.MemCheckInterval)
	defer memTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanupTicker.C:
			s.Cleanup()
		case <-memTicker.C:
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			if stats.HeapAlloc > cfg.MemThresholdBytes {
				s.logger.Warn("store_memory_pressure", "heap_alloc", stats.HeapAlloc, "threshold", cfg.MemThresholdBytes)
				s.AggressiveCleanup()
			}
		}
	}
}
