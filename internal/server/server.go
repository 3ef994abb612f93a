package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openmined/blobdispatch/internal/config"
	"github.com/openmined/blobdispatch/internal/docblob"
)

const shutdownTimeout = 5 * time.Second

// Server is the blob API HTTP server
type Server struct {
	config  *config.HTTPConfig
	server  *http.Server
	manager *docblob.Manager
}

// New creates a Server for cfg. Call Start to listen.
func New(cfg *config.HTTPConfig, mgr *docblob.Manager) (*Server, error) {
	handler, err := SetupRoutes(mgr, cfg)
	if err != nil {
		return nil, fmt.Errorf("setup routes: %w", err)
	}

	return &Server{
		config:  cfg,
		manager: mgr,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start serves until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	slog.Info("blobdispatch server start", "providers", s.manager.Registry().ProviderIDs())
	defer slog.Info("blobdispatch server stop")

	errCh := make(chan error, 1)
	go func() {
		if err := s.runHttpServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		slog.Info("http server stopped")
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("blobdispatch shutdown signal")
	if err := s.Stop(context.Background()); err != nil {
		slog.Error("blobdispatch shutdown error", "error", err)
		return err
	}
	return <-errCh
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Handler returns the routed handler, for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) runHttpServer() error {
	if s.config.CertFile != "" && s.config.KeyFile != "" {
		slog.Info("server start tls", "addr", s.config.Addr, "cert", s.config.CertFile, "key", s.config.KeyFile)
		return s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.Addr)
	return s.server.ListenAndServe()
}
