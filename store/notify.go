package store

import (
	"sort"
	"sync"
	"time"
)

type EventKind string

const (
	EventContact  EventKind = "contact"
	EventChat     EventKind = "chat"
	EventMessage  EventKind = "message"
	EventPresence EventKind = "presence"
	EventGroup    EventKind = "group"
	EventCall     EventKind = "call"
)

// Event is one batched change notification: every upsert of the same kind
// within the notify window is coalesced into a single event carrying the
// union of affected records (deduplicated by key, last record wins).
type Event struct {
	Kind    EventKind `json:"kind"`
	Keys    []string  `json:"keys"`
	Records []any     `json:"records"`
}

type notifier struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[EventKind]map[string]any
	timer   *time.Timer
	subs    []func(Event)
	closed  bool
}

func newNotifier(window time.Duration) *notifier {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	return &notifier{
		window:  window,
		pending: make(map[EventKind]map[string]any),
	}
}

func (n *notifier) subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

func (n *notifier) add(kind EventKind, key string, record any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	byKey, ok := n.pending[kind]
	if !ok {
		byKey = make(map[string]any)
		n.pending[kind] = byKey
	}
	byKey[key] = record
	if n.timer == nil {
		n.timer = time.AfterFunc(n.window, n.flush)
	}
}

// flush delivers the coalesced batch. Subscribers run outside the notifier
// lock so they may call back into the store.
func (n *notifier) flush() {
	n.mu.Lock()
	pending := n.pending
	n.pending = make(map[EventKind]map[string]any)
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	subs := append([]func(Event){}, n.subs...)
	n.mu.Unlock()

	if len(pending) == 0 || len(subs) == 0 {
		return
	}

	kinds := make([]EventKind, 0, len(pending))
	for kind := range pending {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, kind := range kinds {
		byKey := pending[kind]
		keys := make([]string, 0, len(byKey))
		for key := range byKey {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		records := make([]any, 0, len(keys))
		for _, key := range keys {
			records = append(records, byKey[key])
		}
		event := Event{Kind: kind, Keys: keys, Records: records}
		for _, fn := range subs {
			fn(event)
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()
	n.flush()
}
