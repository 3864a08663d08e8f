// Package api provides the HTTP API server for the Veriflow service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veriflow-io/veriflow/internal/api/middleware"
	"github.com/veriflow-io/veriflow/internal/storage"
)

// Server represents the HTTP API server.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	config      *ServerConfig
	deps        *Dependencies
	startTime   time.Time
	apiKeyStore storage.APIKeyStore
	rateLimiter middleware.RateLimiter
}

// NewServer creates a new HTTP server instance with structured logging and the
// full middleware stack.
//
// Dependencies are injected explicitly rather than being part of ServerConfig:
// configuration (what) stays separate from dependencies (how).
//
// Parameters:
//   - cfg: Pure server configuration (ports, timeouts, CORS settings)
//   - deps: Store and service bundle the handlers are wired to
//   - apiKeyStore: API key storage implementation (nil disables authentication)
//   - rateLimiter: Rate limiter implementation (nil disables rate limiting)
func NewServer(
	cfg *ServerConfig,
	deps *Dependencies,
	apiKeyStore storage.APIKeyStore,
	rateLimiter middleware.RateLimiter,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if deps.OpenConnector == nil {
		deps.OpenConnector = openConnector
	}

	mux := http.NewServeMux()

	server := &Server{
		logger:      logger,
		config:      cfg,
		deps:        deps,
		apiKeyStore: apiKeyStore,
		rateLimiter: rateLimiter,
	}

	server.setupRoutes(mux)

	if apiKeyStore != nil { // pragma: allowlist secret
		logger.Info("API key authentication middleware enabled")
	} else {
		logger.Warn("APIKeyStore not configured - authentication middleware disabled")
	}

	if rateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. RequestID - attach a request ID to all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. Auth - identify the API client (optional)
	//   4. RateLimit - block requests before expensive operations (optional)
	//   5. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   6. SecurityHeaders / CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithRequestID(),
		middleware.WithRecovery(logger),
		middleware.WithAuth(apiKeyStore, cfg.APIKeyHeader, logger),
		middleware.WithRateLimit(rateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithSecurityHeaders(),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Handler exposes the fully wired handler chain, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	// Record server start time for uptime calculation
	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting Veriflow API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server and releases its dependencies.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Close API key store to release database connections
	if s.apiKeyStore != nil { // pragma: allowlist secret
		if store, ok := s.apiKeyStore.(io.Closer); ok {
			if err := store.Close(); err != nil {
				s.logger.Error("Failed to close API key store", slog.String("error", err.Error()))
			}
		}
	}

	// Close rate limiter to stop its background cleanup goroutine
	if s.rateLimiter != nil {
		if limiter, ok := s.rateLimiter.(io.Closer); ok {
			if err := limiter.Close(); err != nil {
				s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
			}
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
