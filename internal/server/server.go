// Package server hosts the operational HTTP listener: Prometheus metrics,
// health and pipeline status.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

// Server wraps the ops listener.
type Server struct {
	logger *slog.Logger
	http   *http.Server
}

// New constructs a Server listening on addr.
func New(addr string, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}

	return &Server{
		logger: logger,
		http:   srv,
	}
}

// Start begins serving HTTP traffic. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting ops listener", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// Shutdown gracefully terminates the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down ops listener")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
