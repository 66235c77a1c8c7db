package main

import (
	"context"
	"expvar"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/arl/statsviz"

	"github.com/INLOpen/diskbfs/config"
)

// debugServer exposes expvar metrics and a live statsviz dashboard while
// a search runs.
type debugServer struct {
	server  *http.Server
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
}

func newDebugServer(cfg config.DebugConfig, logger *slog.Logger) *debugServer {
	mux := http.NewServeMux()
	logger = logger.With("component", "debugServer")

	mux.Handle("/metrics", expvar.Handler())
	_ = statsviz.Register(mux,
		statsviz.Root("/viz"),
		statsviz.SendFrequency(250*time.Millisecond),
	)
	logger.Info("debug endpoints registered", "metrics", "/metrics", "viz", "/viz")

	addr := cfg.ListenAddress
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	return &debugServer{
		server: &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

func (s *debugServer) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()
	s.logger.Info("debug server listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *debugServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
