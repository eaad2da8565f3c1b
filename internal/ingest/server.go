// Package ingest exposes the HTTP boundary producers call to queue a
// notification. Acceptance only confirms buffering; delivery happens
// asynchronously behind the drain scheduler.
package ingest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"botrelay/internal/credential"
	"botrelay/internal/store"
	logx "botrelay/pkg/logx"
)

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg   Config
	log   logx.Logger
	gate  credential.Gate
	store *store.Store

	srv *http.Server
}

func New(cfg Config, gate credential.Gate, st *store.Store, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, log: log, gate: gate, store: st}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /notify", s.handleNotify)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route table; tests drive it via httptest.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until the listener fails or Shutdown is called.
// http.ErrServerClosed is the clean-exit signal, not a failure.
func (s *Server) Start() error {
	s.log.Info("http listening", logx.String("addr", s.cfg.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(sctx)
}
