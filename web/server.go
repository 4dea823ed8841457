package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/martinemde/codepair/config"
	"github.com/martinemde/codepair/conversation"
	"github.com/martinemde/codepair/store"
)

// Starter launches conversation runs. *conversation.Orchestrator satisfies it.
type Starter interface {
	Start(ctx context.Context, task string) *conversation.Run
}

type Server struct {
	starter   Starter
	store     *store.Store
	cfg       config.WebConfig
	version   string
	startedAt time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	baseCtx context.Context
	runs    map[string]*runHub
	order   []string
}

// NewServer creates the HTTP surface. st may be nil when no run journal is
// configured.
func NewServer(starter Starter, st *store.Store, cfg config.WebConfig, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		starter:   starter,
		store:     st,
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
		logger:    logger.With("component", "web"),
		baseCtx:   context.Background(),
		runs:      make(map[string]*runHub),
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("GET /api/tasks/{id}/ws", s.handleWebSocket)
	return s.withMiddleware(mux)
}

// Start serves until ctx is cancelled. Runs started over HTTP live under
// ctx, so shutting the server down cancels them.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		s.cancelAll()
		server.Close()
	}()

	s.logger.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// launch starts a run and begins pumping its events into a hub.
func (s *Server) launch(task string) *runHub {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	run := s.starter.Start(ctx, task)
	hub := newRunHub(run, s.logger)

	s.mu.Lock()
	s.runs[run.ID()] = hub
	s.order = append(s.order, run.ID())
	s.mu.Unlock()

	go hub.pump()
	return hub
}

func (s *Server) lookup(id string) (*runHub, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.runs[id]
	return h, ok
}

func (s *Server) hubs() []*runHub {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*runHub, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id])
	}
	return out
}

func (s *Server) cancelAll() {
	for _, h := range s.hubs() {
		h.run.Cancel()
	}
}
