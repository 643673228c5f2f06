package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/itxrex07/rexwa-sub000/internal/fsstore"
	"github.com/itxrex07/rexwa-sub000/internal/metrics"
)

const (
	defaultMaxConcurrent = 5
	defaultJobTimeout    = 30 * time.Second
	defaultMaxIdleAge    = 5 * time.Minute
	defaultReapInterval  = 60 * time.Second
)

// Job is one unit of actor-triggered work. ctx carries the execution timeout
// and is cancelled when the session is destroyed.
type Job func(ctx context.Context, sess *Session) error

type Config struct {
	MaxConcurrent int           // admission bound across all actors
	JobTimeout    time.Duration // per-run timeout
	MaxIdleAge    time.Duration // idle age after which the reaper destroys a session
	ReapInterval  time.Duration // reaper sweep period
	WorkDir       string        // root for per-session scratch directories
	Logger        *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.MaxIdleAge <= 0 {
		c.MaxIdleAge = defaultMaxIdleAge
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = defaultReapInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type pending struct {
	actorID   string
	job       Job
	arrivedAt time.Time
	done      chan error
	claimed   bool
	cancelled bool
}

// Manager admission-controls job execution: at most MaxConcurrent jobs run at
// once, at most one of them per actor, everything else waits in a FIFO queue.
// Each actor's jobs run against a reusable Session that a periodic reaper
// destroys after MaxIdleAge of inactivity.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	busy     map[string]bool
	running  int
	queue    []*pending
	closed   bool

	reapStop chan struct{}
	reapDone chan struct{}
}

func NewManager(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.WorkDir) == "" {
		return nil, fmt.Errorf("session work dir is required")
	}
	if err := fsstore.EnsureDir(cfg.WorkDir, 0o700); err != nil {
		return nil, fmt.Errorf("ensure work dir: %w", err)
	}
	m := &Manager{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
		busy:     make(map[string]bool),
		reapStop: make(chan struct{}),
		reapDone: make(chan struct{}),
	}
	go m.reapLoop()
	return m, nil
}

// Run executes job under admission control and blocks until it completes, is
// rejected, or times out. If a slot is free and the actor has no running job
// it starts immediately on the actor's session (created lazily); otherwise it
// waits in the FIFO queue. ctx cancellation abandons a still-queued job; once
// the job has started, Run waits for its outcome, which the execution timeout
// bounds.
func (m *Manager) Run(ctx context.Context, actorID string, job Job) error {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return fmt.Errorf("actor id is required")
	}
	if job == nil {
		return fmt.Errorf("job is required")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.canStartLocked(actorID) {
		p := &pending{actorID: actorID, job: job, done: make(chan error, 1), claimed: true}
		if err := m.startLocked(p); err != nil {
			m.mu.Unlock()
			return err
		}
		m.mu.Unlock()
		return <-p.done
	}

	p := &pending{actorID: actorID, job: job, arrivedAt: time.Now().UTC(), done: make(chan error, 1)}
	m.queue = append(m.queue, p)
	depth := len(m.queue)
	m.mu.Unlock()
	metrics.SessionQueueDepth.Set(float64(depth))
	m.logger.Debug("session_job_queued", "actor", actorID, "queue_depth", depth)

	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		m.mu.Lock()
		if !p.claimed {
			p.cancelled = true
			m.removeQueuedLocked(p)
			depth := len(m.queue)
			m.mu.Unlock()
			metrics.SessionQueueDepth.Set(float64(depth))
			m.logger.Debug("session_job_abandoned", "actor", actorID, "waited", time.Since(p.arrivedAt).String())
			return ctx.Err()
		}
		m.mu.Unlock()
		// Already started; the outcome arrives within the job timeout.
		return <-p.done
	}
}

func (m *Manager) canStartLocked(actorID string) bool {
	return m.running < m.cfg.MaxConcurrent && !m.busy[actorID]
}

// startLocked claims a slot and launches the job on the actor's session.
// Session lookup and replacement happen under the manager lock, so a reaper
// sweep can never destroy a session between admission and start.
func (m *Manager) startLocked(p *pending) error {
	sess, err := m.sessionLocked(p.actorID)
	if err != nil {
		return fmt.Errorf("init session for %s: %w", p.actorID, err)
	}
	m.running++
	m.busy[p.actorID] = true
	metrics.SessionRunning.Set(float64(m.running))
	go m.execute(sess, p.job, p.done)
	return nil
}

func (m *Manager) sessionLocked(actorID string) (*Session, error) {
	if sess, ok := m.sessions[actorID]; ok {
		sess.touch()
		return sess, nil
	}
	sess, err := newSession(actorID, m.cfg.WorkDir, m.logger)
	if err != nil {
		return nil, err
	}
	m.sessions[actorID] = sess
	metrics.SessionActive.Set(float64(len(m.sessions)))
	return sess, nil
}

// execute races the job against the execution timeout. On timeout the slot is
// freed and the caller gets ErrTimeout; the job goroutine is left to observe
// ctx cancellation on its own, no accounting waits on it.
func (m *Manager) execute(sess *Session, job Job, done chan<- error) {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(sess.Context(), m.cfg.JobTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("job panic: %v", r)
			}
		}()
		result <- job(jobCtx, sess)
	}()

	var err error
	select {
	case err = <-result:
	case <-jobCtx.Done():
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, m.cfg.JobTimeout)
			metrics.SessionTimeoutsTotal.Inc()
			m.logger.Warn("session_job_timeout", "actor", sess.ActorID(), "timeout", m.cfg.JobTimeout.String())
		} else {
			err = jobCtx.Err()
		}
	}

	metrics.SessionJobDuration.Observe(time.Since(start).Seconds())
	m.finish(sess.ActorID())
	done <- err
}

// finish releases the actor's slot and admits queued work. It runs on every
// outcome, success, error, or timeout alike.
func (m *Manager) finish(actorID string) {
	m.mu.Lock()
	m.running--
	delete(m.busy, actorID)
	if sess, ok := m.sessions[actorID]; ok {
		sess.touch()
	}
	if !m.closed {
		m.processNextLocked()
	}
	running := m.running
	depth := len(m.queue)
	m.mu.Unlock()
	metrics.SessionRunning.Set(float64(running))
	metrics.SessionQueueDepth.Set(float64(depth))
}

// processNextLocked starts as many queued jobs as free slots allow, in
// arrival order. An entry whose actor still has a running job is left in
// place so the actor's own jobs stay FIFO relative to each other.
func (m *Manager) processNextLocked() {
	for m.running < m.cfg.MaxConcurrent {
		started := false
		for i, p := range m.queue {
			if p.cancelled {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				started = true
				break
			}
			if m.busy[p.actorID] {
				continue
			}
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			p.claimed = true
			if err := m.startLocked(p); err != nil {
				p.done <- err
			}
			started = true
			break
		}
		if !started {
			return
		}
	}
}

func (m *Manager) removeQueuedLocked(target *pending) {
	for i, p := range m.queue {
		if p == target {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func (m *Manager) reapLoop() {
	defer close(m.reapDone)
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.reapStop:
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

// reap destroys sessions idle longer than MaxIdleAge. Busy sessions are never
// touched; the idle check and removal happen atomically with job admission.
func (m *Manager) reap() {
	cutoff := time.Now().UTC().Add(-m.cfg.MaxIdleAge)

	m.mu.Lock()
	var victims []*Session
	for actorID, sess := range m.sessions {
		if m.busy[actorID] {
			continue
		}
		if sess.idleSince().Before(cutoff) {
			victims = append(victims, sess)
			delete(m.sessions, actorID)
		}
	}
	active := len(m.sessions)
	m.mu.Unlock()

	for _, sess := range victims {
		sess.destroy()
	}
	metrics.SessionActive.Set(float64(active))
	if len(victims) > 0 {
		m.logger.Debug("session_reaped", "count", len(victims), "active", active)
	}
}

// ActiveSessions reports the number of live sessions, running or idle.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// QueueDepth reports the number of jobs waiting for a slot.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Shutdown stops the reaper, rejects every queued job with ErrManagerClosed,
// and destroys all sessions synchronously. Running jobs observe cancellation
// through their context. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.reapDone
		return
	}
	m.closed = true
	rejected := m.queue
	m.queue = nil
	for _, p := range rejected {
		p.claimed = true
	}
	var victims []*Session
	for actorID, sess := range m.sessions {
		victims = append(victims, sess)
		delete(m.sessions, actorID)
	}
	m.mu.Unlock()

	close(m.reapStop)
	<-m.reapDone

	for _, p := range rejected {
		p.done <- ErrManagerClosed
	}
	for _, sess := range victims {
		sess.destroy()
	}
	metrics.SessionQueueDepth.Set(0)
	metrics.SessionActive.Set(0)
	m.logger.Info("session_manager_shutdown", "rejected_jobs", len(rejected), "destroyed_sessions", len(victims))
}
