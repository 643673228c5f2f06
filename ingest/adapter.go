package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/itxrex07/rexwa-sub000/session"
	"github.com/itxrex07/rexwa-sub000/store"
)

const defaultCommandPrefix = "!"

// CommandContext is the message-processing context handed to a command
// handler alongside the actor's session.
type CommandContext struct {
	ChatJID   string
	SenderJID string
	MessageID string
	Command   string
	Args      []string
	RawText   string
}

// CommandHandler runs one actor-triggered command. ctx carries the execution
// timeout and the session's cancellation.
type CommandHandler func(ctx context.Context, sess *session.Session, cmd CommandContext) error

type Config struct {
	CommandPrefix string // defaults to "!"
	Logger        *slog.Logger
}

// Adapter is the single caller of both the store and the execution manager:
// it normalizes inbound protocol frames, upserts mirrored state, and
// schedules command handlers per actor. Malformed frames are dropped with a
// debug log, never propagated.
type Adapter struct {
	store   *store.Store
	manager *session.Manager
	prefix  string
	logger  *slog.Logger

	mu       sync.Mutex
	handlers map[string]CommandHandler
	wg       sync.WaitGroup
}

func NewAdapter(st *store.Store, mgr *session.Manager, cfg Config) *Adapter {
	prefix := cfg.CommandPrefix
	if prefix == "" {
		prefix = defaultCommandPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		store:    st,
		manager:  mgr,
		prefix:   prefix,
		logger:   logger,
		handlers: make(map[string]CommandHandler),
	}
}

// RegisterCommand binds a handler to a command name (without prefix). Names
// are matched case-insensitively.
func (a *Adapter) RegisterCommand(name string, h CommandHandler) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || h == nil {
		return
	}
	a.mu.Lock()
	a.handlers[name] = h
	a.mu.Unlock()
}

// HandleFrame decodes one envelope and applies it. Unknown event types and
// payloads failing identity validation are dropped; the returned error covers
// only undecodable envelopes, so feed code can count protocol noise.
func (a *Adapter) HandleFrame(ctx context.Context, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case EventTypeMessage:
		var ev MessageEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		if err := ev.validate(); err != nil {
			a.dropped(env.Type, err)
			return nil
		}
		a.handleMessage(ctx, ev)
	case EventTypeReceipt:
		var ev ReceiptEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		if err := ev.validate(); err != nil {
			a.dropped(env.Type, err)
			return nil
		}
		a.handleReceipt(ev)
	case EventTypeContact:
		var ev ContactEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		if err := ev.validate(); err != nil {
			a.dropped(env.Type, err)
			return nil
		}
		a.store.UpsertContact(store.Contact{
			JID:          ev.JID,
			Name:         ev.Name,
			Notify:       ev.Notify,
			ShortName:    ev.ShortName,
			BusinessName: ev.BusinessName,
		})
	case EventTypeChat:
		var ev ChatEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		if err := ev.validate(); err != nil {
			a.dropped(env.Type, err)
			return nil
		}
		a.store.UpsertChat(store.Chat{
			JID:           ev.JID,
			Name:          ev.Name,
			UnreadCount:   ev.UnreadCount,
			LastMessageAt: ev.LastMessageAt,
			Archived:      ev.Archived,
			Pinned:        ev.Pinned,
			MutedUntil:    ev.MutedUntil,
		})
	case EventTypePresence:
		var ev PresenceEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		if err := ev.validate(); err != nil {
			a.dropped(env.Type, err)
			return nil
		}
		a.store.UpsertPresence(store.Presence{
			JID:       ev.JID,
			Available: ev.Available,
			LastSeen:  ev.LastSeen,
		})
	case EventTypeGroup:
		var ev GroupEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		if err := ev.validate(); err != nil {
			a.dropped(env.Type, err)
			return nil
		}
		a.store.UpsertGroup(store.GroupMetadata{
			JID:          ev.JID,
			Subject:      ev.Subject,
			OwnerJID:     ev.OwnerJID,
			Description:  ev.Description,
			Participants: ev.Participants,
			CreatedAt:    ev.CreatedAt,
		})
	case EventTypeCall:
		var ev CallEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		if err := ev.validate(); err != nil {
			a.dropped(env.Type, err)
			return nil
		}
		a.store.UpsertCallOffer(store.CallOffer{
			CallID:    ev.CallID,
			ChatJID:   ev.ChatJID,
			FromJID:   ev.FromJID,
			Video:     ev.Video,
			OfferedAt: ev.OfferedAt,
		})
	default:
		a.logger.Debug("ingest_unknown_event_type", "type", string(env.Type))
	}
	return nil
}

func (a *Adapter) dropped(kind EventType, err error) {
	a.logger.Debug("ingest_drop_malformed", "type", string(kind), "error", err.Error())
}

func (a *Adapter) handleMessage(ctx context.Context, ev MessageEvent) {
	rec := ev.record()
	rec.Status = store.StatusSent
	a.store.UpsertMessage(rec)

	if ev.FromSelf {
		return
	}
	name, args, ok := a.parseCommand(ev.Text)
	if !ok {
		return
	}
	a.mu.Lock()
	handler, found := a.handlers[name]
	a.mu.Unlock()
	if !found {
		a.logger.Debug("ingest_unknown_command", "command", name, "chat", rec.ChatJID)
		return
	}

	actor := rec.SenderJID
	if actor == "" {
		actor = rec.ChatJID
	}
	cmd := CommandContext{
		ChatJID:   rec.ChatJID,
		SenderJID: rec.SenderJID,
		MessageID: rec.ID,
		Command:   name,
		Args:      args,
		RawText:   ev.Text,
	}

	// Command execution must not block the ingestion path; admission control
	// and queueing live in the manager.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := a.manager.Run(ctx, actor, func(jctx context.Context, sess *session.Session) error {
			return handler(jctx, sess, cmd)
		})
		switch {
		case err == nil:
		case errors.Is(err, session.ErrTimeout):
			a.logger.Warn("command_timeout", "command", name, "actor", actor, "chat", cmd.ChatJID)
		case errors.Is(err, session.ErrManagerClosed):
			a.logger.Debug("command_rejected_shutdown", "command", name, "actor", actor)
		default:
			a.logger.Warn("command_error", "command", name, "actor", actor, "chat", cmd.ChatJID, "error", err.Error())
		}
	}()
}

// handleReceipt resolves the message through the store (the receipt may not
// carry a chat JID) and rewrites it with the new status.
func (a *Adapter) handleReceipt(ev ReceiptEvent) {
	rec, ok := a.store.LoadMessage(ev.ChatJID, ev.MessageID)
	if !ok {
		a.logger.Debug("ingest_receipt_unknown_message", "message_id", ev.MessageID)
		return
	}
	rec.Status = strings.TrimSpace(ev.Status)
	a.store.UpsertMessage(rec)
}

func (a *Adapter) parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, a.prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, a.prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Wait blocks until all in-flight command dispatches have resolved. Used at
// shutdown so manager teardown observes no new Run calls.
func (a *Adapter) Wait() {
	a.wg.Wait()
}
