package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/uomlabs/uom/internal/config"
	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/internal/gate"
	"github.com/uomlabs/uom/internal/models"
	"github.com/uomlabs/uom/internal/orchestrator"
	"github.com/uomlabs/uom/internal/pattern"
	"github.com/uomlabs/uom/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAPI(t *testing.T) (*chi.Mux, huma.API) {
	t.Helper()
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("uom test", "0.0.0"))
	return router, api
}

// stubDispatcher completes every dispatch successfully unless configured
// otherwise.
type stubDispatcher struct {
	result *domain.ProcessingResult
	err    error
}

func (d *stubDispatcher) Dispatch(ctx context.Context, route domain.RouteDecision, file domain.FileContext, correlationID string) (*domain.ProcessingResult, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.result != nil {
		return d.result, nil
	}
	return &domain.ProcessingResult{Success: true, DurationMs: 5}, nil
}

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	cfg := config.OrchestratorConfig{
		MaxConcurrentJobs: 10,
		JobTimeout:        5 * time.Second,
		SandboxTimeout:    time.Second,
		JanitorInterval:   time.Hour,
	}
	return orchestrator.New(nil, nil, &stubDispatcher{}, nil, cfg, discardLogger())
}

func newTestGate(t *testing.T, orch *orchestrator.Orchestrator) *gate.Gate {
	t.Helper()
	cfg := config.GateConfig{MaxArchiveEntries: 100, MaxFileSizeBytes: 10 << 20}
	return gate.New(orch, nil, nil, nil, nil, nil, cfg, discardLogger())
}

func newTestPatterns(t *testing.T) *pattern.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ProcessingPattern{}))
	return pattern.NewService(repository.NewPatternRepository(db), pattern.DefaultConfig(), discardLogger())
}

// multipartUpload builds a multipart body with one file part and optional
// extra form fields.
func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

// completedJob runs one synchronous PDF job to completion and returns its ID.
func completedJob(t *testing.T, orch *orchestrator.Orchestrator) string {
	t.Helper()

	resp, err := orch.Process(context.Background(), orchestrator.Request{
		File: domain.FileContext{
			Filename: "report.pdf",
			MimeType: "application/pdf",
			FileSize: 14,
			Buffer:   []byte("%PDF-1.4 test"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, orchestrator.StatusCompleted, resp.Status)
	return resp.JobID
}
