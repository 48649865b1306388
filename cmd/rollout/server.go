package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/artpar/rollout/internal/shell/api"
)

// =============================================================================
// Server
// =============================================================================

// Server serves the deployment API over HTTP.
type Server struct {
	config     *Config
	app        *App
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a server with the engine wired from cfg.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, &ServerError{Op: "NewApp", Err: err}
	}

	var metricsHandler http.Handler
	if app.Metrics != nil {
		metricsHandler = app.Metrics.Handler()
	}
	handler := api.NewHandler(app.Manager, metricsHandler, logger)

	return &Server{
		config: cfg,
		app:    app,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		logger: logger,
	}, nil
}

// Start serves until ctx is cancelled or the listener fails, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.app.Close()
		return &ServerError{Op: "Start", Err: err}
	case <-ctx.Done():
		s.logger.Info("received shutdown signal")
	}

	return s.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown gracefully shuts down the server. Deployments still running keep
// their requests open until the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := s.app.Close(); err != nil {
		s.logger.Error("platform client close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op  string
	Err error
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// =============================================================================
// serve
// =============================================================================

func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the deployment API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c.logger.Info("starting rollout", "version", Version, "config", c.configPath)

			server, err := NewServer(c.cfg, c.logger)
			if err != nil {
				return err
			}
			return server.Start(cmd.Context())
		},
	}
}
