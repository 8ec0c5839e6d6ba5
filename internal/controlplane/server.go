// Package controlplane is the local HTTP API of a running daemon.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type Config struct {
	Addr  string
	Token string
}

type Server struct {
	config  Config
	handler *Handler
	server  *http.Server
	logger  *slog.Logger
	ready   chan struct{}
	addr    net.Addr
}

// New builds a server for engine. hist may be nil. ctx bounds the syncs the
// API starts.
func New(ctx context.Context, cfg Config, engine Engine, hist HistoryReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "controlplane")

	h := NewHandler(ctx, engine, hist, logger)
	return &Server{
		config:  cfg,
		handler: h,
		logger:  logger,
		ready:   make(chan struct{}),
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           SetupRoutes(h, RouteConfig{Token: cfg.Token, Logger: logger}),
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("control plane listen: %w", err)
	}
	s.addr = ln.Addr()
	close(s.ready)

	s.logger.Info("control plane start", "addr", fmt.Sprintf("http://%s", s.addr), "auth", s.config.Token != "")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control plane serve: %w", err)
	}
	return nil
}

// Addr waits for Start to bind and returns the listening address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
		return s.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts the listener down and waits for API-triggered syncs.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("control plane stop")
	err := s.server.Shutdown(ctx)
	s.handler.Wait()
	return err
}
