package observe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itxrex07/rexwa-sub000/session"
	"github.com/itxrex07/rexwa-sub000/store"
)

const clientSendBuffer = 16

type Config struct {
	Addr   string // listen address, e.g. 127.0.0.1:8480
	Logger *slog.Logger
}

// Server is the operational surface over the store and the execution manager:
// a health endpoint, Prometheus metrics, and a websocket stream of the
// store's batched change notifications for downstream listeners.
type Server struct {
	addr    string
	store   *store.Store
	manager *session.Manager
	logger  *slog.Logger
	started time.Time

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

func NewServer(st *store.Store, mgr *session.Manager, cfg Config) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:    cfg.Addr,
		store:   st,
		manager: mgr,
		logger:  logger,
		started: time.Now().UTC(),
		clients: make(map[chan []byte]struct{}),
	}
	st.Subscribe(s.broadcast)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWS)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("observe_listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("observe server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type healthResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Store         map[string]int `json:"store"`
	Sessions      map[string]int `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Store:         s.store.Counts(),
		Sessions:      map[string]int{},
	}
	if s.manager != nil {
		resp.Sessions["active"] = s.manager.ActiveSessions()
		resp.Sessions["queue_depth"] = s.manager.QueueDepth()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleWS streams batched store events as JSON frames. A client that cannot
// keep up has frames dropped rather than backpressuring the store path.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("observe_ws_upgrade_error", "error", err.Error())
		return
	}
	send := make(chan []byte, clientSendBuffer)
	s.mu.Lock()
	s.clients[send] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("observe_ws_connected", "clients", count)

	go func() {
		for data := range send {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	// Reads only to observe disconnect; clients send nothing meaningful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.clients, send)
	close(send)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) broadcast(event store.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("observe_event_encode_error", "error", err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for send := range s.clients {
		select {
		case send <- data:
		default:
			// Slow client, drop the frame.
		}
	}
}
