package decision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/internal/models"
	"github.com/uomlabs/uom/internal/pattern"
	"github.com/uomlabs/uom/internal/repository"
)

func setupPatterns(t *testing.T) *pattern.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ProcessingPattern{}))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return pattern.NewService(repository.NewPatternRepository(db), pattern.DefaultConfig(), log)
}

// stubBackend answers every decision point with a fixed envelope or error.
type stubBackend struct {
	decision   any
	confidence float64
	reason     string
	err        error
	calls      int
}

func (b *stubBackend) Decide(ctx context.Context, point domain.DecisionPoint, req domain.DecisionRequest) (json.RawMessage, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	inner, err := json.Marshal(b.decision)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"decision":   json.RawMessage(inner),
		"confidence": b.confidence,
		"reason":     b.reason,
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pdfRequest() domain.DecisionRequest {
	return domain.DecisionRequest{
		File: domain.FileContext{
			Filename:    "report.pdf",
			MimeType:    "application/pdf",
			FileSize:    512 * 1024,
			StoragePath: "/tmp/report.pdf",
		},
		CorrelationID: "corr-1",
	}
}

func TestEngine_HeuristicsOnly(t *testing.T) {
	e := NewEngine(nil, nil, nil, Config{}, discardLogger())
	ctx := context.Background()
	req := pdfRequest()

	route, err := e.DecideProcessingRoute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFastPath, route.Source)
	assert.InDelta(t, 0.7, route.Confidence, 1e-9)
	assert.Equal(t, domain.ServiceMageAgent, route.Payload.TargetService)
	assert.False(t, route.LearnFromOutcome)
}

func TestEngine_FastPathForKnownBinary(t *testing.T) {
	primary := &stubBackend{decision: domain.TriageDecision{SandboxTier: domain.Tier1}, confidence: 0.95}
	e := NewEngine(nil, primary, nil, Config{}, discardLogger())

	req := pdfRequest()
	req.File.Filename = "payload.exe"
	req.File.MimeType = "application/x-msdownload"

	d, err := e.DecideInitialTriage(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFastPath, d.Source)
	assert.Equal(t, domain.Tier3, d.Payload.SandboxTier)
	assert.Zero(t, primary.calls, "fast path must not consult the LLM")
}

func TestEngine_PrimaryBackend(t *testing.T) {
	primary := &stubBackend{
		decision: domain.RouteDecision{
			TargetService: domain.ServiceFileProcess,
			Method:        "document_extraction",
			Priority:      6,
		},
		confidence: 0.92,
		reason:     "document with extractable text",
	}
	e := NewEngine(nil, primary, nil, Config{}, discardLogger())

	d, err := e.DecideProcessingRoute(context.Background(), pdfRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLLMPrimary, d.Source)
	assert.Equal(t, domain.ServiceFileProcess, d.Payload.TargetService)
	assert.InDelta(t, 0.92, d.Confidence, 1e-9)
	assert.True(t, d.LearnFromOutcome)
}

func TestEngine_FallbackWhenPrimaryFails(t *testing.T) {
	primary := &stubBackend{err: errors.New("model overloaded")}
	fallback := &stubBackend{
		decision:   domain.RouteDecision{TargetService: domain.ServiceFileProcess, Method: "document_extraction"},
		confidence: 0.8,
	}
	e := NewEngine(nil, primary, fallback, Config{}, discardLogger())

	d, err := e.DecideProcessingRoute(context.Background(), pdfRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLLMFallback, d.Source)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestEngine_HeuristicWhenAllBackendsFail(t *testing.T) {
	primary := &stubBackend{err: errors.New("down")}
	fallback := &stubBackend{err: errors.New("also down")}
	e := NewEngine(nil, primary, fallback, Config{}, discardLogger())

	d, err := e.DecideProcessingRoute(context.Background(), pdfRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFastPath, d.Source)
	assert.InDelta(t, 0.7, d.Confidence, 1e-9)
}

func TestEngine_PatternCacheHit(t *testing.T) {
	patterns := setupPatterns(t)
	primary := &stubBackend{decision: domain.RouteDecision{TargetService: domain.ServiceMageAgent}, confidence: 0.9}
	e := NewEngine(patterns, primary, nil, Config{}, discardLogger())
	ctx := context.Background()
	req := pdfRequest()

	cached := domain.RouteDecision{
		TargetService: domain.ServiceFileProcess,
		Method:        "document_extraction",
		Priority:      6,
		Reason:        "learned from prior jobs",
	}
	require.NoError(t, e.StorePattern(ctx, req, domain.PointProcessingRoute, cached))

	d, err := e.DecideProcessingRoute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.SourcePatternCache, d.Source)
	assert.Equal(t, domain.ServiceFileProcess, d.Payload.TargetService)
	assert.Zero(t, primary.calls, "cache hit must not consult the LLM")
	assert.True(t, d.LearnFromOutcome)
}

func TestEngine_PatternFailureAgesOutCache(t *testing.T) {
	patterns := setupPatterns(t)
	e := NewEngine(patterns, nil, nil, Config{}, discardLogger())
	ctx := context.Background()
	req := pdfRequest()

	cached := domain.RouteDecision{TargetService: domain.ServiceFileProcess, Method: "document_extraction"}
	require.NoError(t, e.StorePattern(ctx, req, domain.PointProcessingRoute, cached))
	require.NoError(t, e.RecordPatternFailure(ctx, req))

	// One success, one failure: the young pattern is no longer served, so
	// resolution falls through to the heuristic.
	d, err := e.DecideProcessingRoute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceFastPath, d.Source)
	assert.Equal(t, domain.ServiceMageAgent, d.Payload.TargetService)
}

func TestEngine_BackendConfidenceClamped(t *testing.T) {
	primary := &stubBackend{
		decision:   domain.RouteDecision{TargetService: domain.ServiceFileProcess},
		confidence: 3.5,
	}
	e := NewEngine(nil, primary, nil, Config{}, discardLogger())

	d, err := e.DecideProcessingRoute(context.Background(), pdfRequest())
	require.NoError(t, err)
	assert.InDelta(t, 0.5, d.Confidence, 1e-9)
}

func TestEngine_SecurityFastPathBlocksMalicious(t *testing.T) {
	primary := &stubBackend{decision: domain.SecurityDecision{Action: domain.ActionAllow}, confidence: 0.9}
	e := NewEngine(nil, primary, nil, Config{}, discardLogger())

	req := pdfRequest()
	req.SandboxResult = &domain.SandboxAnalysisResult{
		Security: domain.SecurityResult{ThreatLevel: domain.ThreatCritical, IsMalicious: true, ShouldBlock: true},
	}

	d, err := e.DecideSecurityAssessment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBlock, d.Payload.Action)
	assert.Zero(t, primary.calls)
}
