// Package http provides the HTTP API server for uom.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/uomlabs/uom/internal/config"
	"github.com/uomlabs/uom/internal/database"
	"github.com/uomlabs/uom/internal/gate"
	"github.com/uomlabs/uom/internal/http/handlers"
	"github.com/uomlabs/uom/internal/http/middleware"
	"github.com/uomlabs/uom/internal/observability"
	"github.com/uomlabs/uom/internal/orchestrator"
	"github.com/uomlabs/uom/internal/pattern"
	"github.com/uomlabs/uom/internal/version"
	"github.com/uomlabs/uom/pkg/httpclient"
)

// Server is the HTTP API server.
type Server struct {
	config     *config.Config
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger

	db       *database.DB
	gate     *gate.Gate
	orch     *orchestrator.Orchestrator
	patterns *pattern.Service
	breakers *httpclient.CircuitBreakerManager
}

// NewServer creates a new HTTP server with middleware configured.
func NewServer(cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "http")

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	router.Use(middleware.SkipCompressionForSSE(chimiddleware.Compress(5)))

	humaConfig := huma.DefaultConfig(version.ApplicationName+" API", version.Short())
	humaConfig.Info.Description = "Sandbox-first file processing orchestrator"
	api := humachi.New(router, humaConfig)

	return &Server{
		config: cfg,
		router: router,
		api:    api,
		logger: logger,
	}
}

// WithDB attaches the database connection used by the health endpoint.
func (s *Server) WithDB(db *database.DB) *Server {
	s.db = db
	return s
}

// WithGate attaches the dispatch gate serving process submissions.
func (s *Server) WithGate(g *gate.Gate) *Server {
	s.gate = g
	return s
}

// WithOrchestrator attaches the job orchestrator.
func (s *Server) WithOrchestrator(o *orchestrator.Orchestrator) *Server {
	s.orch = o
	return s
}

// WithPatternService attaches the pattern cache admin surface.
func (s *Server) WithPatternService(ps *pattern.Service) *Server {
	s.patterns = ps
	return s
}

// WithCircuitBreakerManager attaches the breaker admin surface.
func (s *Server) WithCircuitBreakerManager(m *httpclient.CircuitBreakerManager) *Server {
	s.breakers = m
	return s
}

// RegisterRoutes wires all handlers onto the router. Call after the With*
// builders.
func (s *Server) RegisterRoutes() {
	handlers.NewHealthHandler(s.db, s.breakers, s.logger).Register(s.api)

	if s.gate != nil {
		handlers.NewProcessHandler(s.gate, s.logger).RegisterRoutes(s.router)
	}
	if s.orch != nil {
		handlers.NewJobsHandler(s.orch).Register(s.api)
		handlers.NewStatsHandler(s.orch).Register(s.api)
		handlers.NewStreamHandler(s.orch, s.config.Orchestrator.HeartbeatInterval, s.logger).RegisterRoutes(s.router)
	}
	if s.patterns != nil {
		handlers.NewPatternsHandler(s.patterns).Register(s.api)
	}
	if s.breakers != nil {
		handlers.NewBreakersHandler(s.breakers).Register(s.api)
	}
}

// Router exposes the underlying router, mainly for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start begins listening for HTTP requests. It blocks until the server stops.
func (s *Server) Start() error {
	addr := s.config.Server.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.Info("starting http server",
		slog.String("address", addr),
		slog.String("version", version.Short()),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// ListenAndServe runs the server until the context is cancelled or a shutdown
// signal arrives, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}
