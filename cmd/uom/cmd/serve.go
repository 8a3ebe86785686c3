package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/uomlabs/uom/internal/clients"
	"github.com/uomlabs/uom/internal/database"
	"github.com/uomlabs/uom/internal/decision"
	"github.com/uomlabs/uom/internal/gate"
	internalhttp "github.com/uomlabs/uom/internal/http"
	"github.com/uomlabs/uom/internal/observability"
	"github.com/uomlabs/uom/internal/orchestrator"
	"github.com/uomlabs/uom/internal/pattern"
	"github.com/uomlabs/uom/internal/repository"
	"github.com/uomlabs/uom/internal/version"
	"github.com/uomlabs/uom/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the uom server",
	Long: `Start the uom HTTP server and orchestration pipeline.

The server provides:
- POST /v1/process/sandbox-first for file and URL submissions
- Job status polling and SSE event streams
- Pattern cache and circuit breaker admin APIs
- Health check endpoint and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("database") {
		cfg.Database.DSN, _ = cmd.Flags().GetString("database")
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	breakers := httpclient.NewCircuitBreakerManager()
	apiKey := cfg.Services.InternalAPIKey

	cyber := clients.NewCyberAgent(cfg.Services.CyberAgent, apiKey, breakers, logger)
	video := clients.NewVideoAgent(cfg.Services.VideoAgent, apiKey, breakers, logger)
	geo := clients.NewGeoAgent(cfg.Services.GeoAgent, apiKey, breakers, logger)
	github := clients.NewGitHubManager(cfg.Services.GitHubManager, apiKey, breakers, logger)
	mage := clients.NewMageAgent(cfg.Services.MageAgent, apiKey, breakers, logger)
	fileproc := clients.NewFileProcess(cfg.Services.FileProcess, apiKey, breakers, logger)

	sinks := []clients.StorageSink{
		clients.NewPostgresSink(db.DB, logger),
		clients.NewQdrantSink(cfg.Services.Qdrant, apiKey, breakers, logger),
		clients.NewGraphRAGSink(cfg.Services.GraphRAG, apiKey, breakers, logger),
	}

	patterns := pattern.NewService(repository.NewPatternRepository(db.DB), pattern.Config{
		MinSuccessRate: cfg.Decision.MinPatternSuccessRate,
		MinSamples:     cfg.Decision.MinPatternSamples,
	}, logger)
	executor := pattern.NewExecutor(patterns, mage, logger)

	var fallback decision.Backend
	if cfg.Services.MageAgentFallback.URL != "" {
		fallbackAgent := clients.NewMageAgentFallback(cfg.Services.MageAgentFallback, apiKey, breakers, logger)
		fallback = decision.NewMageBackend(fallbackAgent)
	}
	engine := decision.NewEngine(patterns, decision.NewMageBackend(mage), fallback,
		decision.Config{LLMTimeout: cfg.Decision.LLMTimeout}, logger)

	dispatcher := orchestrator.NewClientDispatcher(cyber, video, geo, github, mage, fileproc,
		cfg.Orchestrator.JobTimeout, logger)

	orch := orchestrator.New(engine, cyber, dispatcher, sinks, cfg.Orchestrator, logger)
	orch.Start()
	defer orch.Stop()

	g := gate.New(orch, video, github, cyber, patterns, executor, cfg.Gate, logger)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Decision.PatternSweepSchedule, func() {
		removed, err := patterns.Sweep(context.Background())
		if err != nil {
			logger.Warn("pattern sweep failed", slog.String("error", err.Error()))
			return
		}
		if removed > 0 {
			logger.Info("pattern sweep retired stale patterns", slog.Int64("removed", removed))
		}
	}); err != nil {
		return fmt.Errorf("scheduling pattern sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	server := internalhttp.NewServer(cfg, logger).
		WithDB(db).
		WithGate(g).
		WithOrchestrator(orch).
		WithPatternService(patterns).
		WithCircuitBreakerManager(breakers)
	server.RegisterRoutes()

	logger.Info("starting uom",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Short()),
		slog.String("database", db.Driver()),
	)

	return server.ListenAndServe(context.Background())
}
