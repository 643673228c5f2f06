package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the isolated execution context for one actor: a private scratch
// directory, registered cleanup callbacks, and a cancellation signal fired at
// destruction. Sessions are owned by the Manager and reused across jobs until
// the reaper expires them.
type Session struct {
	id        string
	actorID   string
	dir       string
	createdAt time.Time
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	lastActive time.Time
	cleanups   []func() error
	destroyed  bool
}

func newSession(actorID string, baseDir string, logger *slog.Logger) (*Session, error) {
	id := uuid.NewString()
	dir := filepath.Join(baseDir, scratchDirName(actorID, id))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC()
	s := &Session{
		id:         id,
		actorID:    actorID,
		dir:        dir,
		createdAt:  now,
		lastActive: now,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	logger.Debug("session_created", "actor", actorID, "session_id", id, "dir", dir)
	return s, nil
}

// scratchDirName keeps the actor visible in the path for debugging while the
// UUID suffix guarantees uniqueness across session generations.
func scratchDirName(actorID string, id string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, actorID)
	if len(safe) > 48 {
		safe = safe[:48]
	}
	return safe + "-" + id[:8]
}

func (s *Session) ID() string      { return s.id }
func (s *Session) ActorID() string { return s.actorID }

// Context is cancelled when the session is destroyed. Long-running job code
// should observe it; the manager never forcibly terminates a job.
func (s *Session) Context() context.Context { return s.ctx }

// WorkingPath returns a path inside the session's private scratch directory.
// Two actors may use identical relative names without collision. The name is
// reduced to its base so callers cannot escape the directory.
func (s *Session) WorkingPath(name string) string {
	return filepath.Join(s.dir, filepath.Base(filepath.Clean(name)))
}

// AddCleanup registers a callback run at destruction, best effort: a failing
// callback is logged and does not block the rest.
func (s *Session) AddCleanup(fn func() error) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.cleanups = append(s.cleanups, fn)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// destroy fires the cancellation signal, runs the cleanup callbacks in
// reverse registration order, then removes the scratch directory. Idempotent.
func (s *Session) destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	s.cancel()
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			s.logger.Warn("session_cleanup_error", "actor", s.actorID, "session_id", s.id, "error", err.Error())
		}
	}
	if err := os.RemoveAll(s.dir); err != nil {
		s.logger.Warn("session_scratch_remove_error", "actor", s.actorID, "dir", s.dir, "error", err.Error())
	}
	s.logger.Debug("session_destroyed", "actor", s.actorID, "session_id", s.id)
}
