// Package health serves the runtime's liveness and readiness endpoints.
// Readiness flips once the start sequence has completed.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/vk/modkit/internal/ctxlog"
)

// Server wraps the healthcheck handler and its HTTP listener.
type Server struct {
	srv   *http.Server
	ready atomic.Bool
}

// New builds a health server listening on the given port, exposing /live
// and /ready.
func New(port int) *Server {
	s := &Server{}
	handler := healthcheck.NewHandler()
	handler.AddReadinessCheck("modules-started", func() error {
		if !s.ready.Load() {
			return errors.New("module runtime not started")
		}
		return nil
	})
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}
	return s
}

// Start runs the listener in the background.
func (s *Server) Start(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	go func() {
		logger.Info("🩺 Health check server starting.", "address", fmt.Sprintf("http://localhost%s/ready", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed unexpectedly.", "error", err)
		}
	}()
}

// SetReady flips the readiness check.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Close shuts the listener down gracefully.
func (s *Server) Close(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	logger.Info("🩺 Shutting down health check server.")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Health check server shutdown failed.", "error", err)
		return err
	}
	return nil
}
