// Package server implements the focus HTTP server, REST API, auth, and SSE real-time events.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/focus/config"
	"github.com/GoCodeAlone/focus/events"
	"github.com/GoCodeAlone/focus/server/api"
	"github.com/GoCodeAlone/focus/task"
)

// Server is the focus HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	engine    api.Engine
	scheduler api.Scheduler
	tasks     task.Store
	bus       events.Bus
	loc       *time.Location
	handlers  *api.Handlers
	routes    sync.Once

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger.
func New(cfg config.Config, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		startTime: time.Now(),
		version:   ver,
	}
}

// SetEngine attaches the ranking engine to the server.
func (s *Server) SetEngine(e api.Engine) {
	s.engine = e
}

// SetScheduler attaches the resurfacing scheduler to the server.
func (s *Server) SetScheduler(sched api.Scheduler) {
	s.scheduler = sched
}

// SetTaskStore attaches a task store to the server.
func (s *Server) SetTaskStore(store task.Store) {
	s.tasks = store
}

// SetBus attaches the event bus to the server.
func (s *Server) SetBus(bus events.Bus) {
	s.bus = bus
}

// SetLocation sets the timezone used to read calendar dates in requests.
func (s *Server) SetLocation(loc *time.Location) {
	s.loc = loc
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	s.routes.Do(s.registerRoutes)
	return s.mux
}

// Start registers routes and begins listening. It returns
// http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9191"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Engine:    s.engine,
		Tasks:     s.tasks,
		Bus:       s.bus,
		Scheduler: s.scheduler,
		Logger:    s.logger,
		Location:  s.loc,
		Version:   s.version,
		StartAt:   s.startTime,
	}
	s.handlers = h

	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", h.StatusHandler())

	// SSE authenticates via ?token= since EventSource cannot set headers.
	s.mux.HandleFunc("GET /events", s.handleSSE)

	// Everything else under /api/ requires a bearer token.
	apiMux := http.NewServeMux()
	h.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleSSE streams bus events to the client as Server-Sent Events. Each
// connection has its own bus subscription; a slow client misses events
// rather than holding up the publisher.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// Verify auth via query token param for SSE (EventSource can't set headers)
	if _, err := verifyJWT(s.jwtSecret(), r.URL.Query().Get("token")); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.bus == nil {
		http.Error(w, "event bus not configured", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	ch, unsub := s.bus.Subscribe(64)
	defer unsub()

	// Send initial connected event
	fmt.Fprintf(w, "data: {\"kind\":\"connected\"}\n\n") //nolint:errcheck
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("sse event marshal", slog.Any("err", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\n", ev.Kind) //nolint:errcheck
			for _, line := range strings.Split(string(data), "\n") {
				fmt.Fprintf(w, "data: %s\n", line) //nolint:errcheck
			}
			fmt.Fprintln(w) //nolint:errcheck
			flusher.Flush()
		}
	}
}
