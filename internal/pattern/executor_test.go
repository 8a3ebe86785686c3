package pattern

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uomlabs/uom/internal/clients"
	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/internal/models"
	"github.com/uomlabs/uom/internal/repository"
)

type fakeRunner struct {
	exec *clients.PatternExecution
	err  error
}

func (f *fakeRunner) ExecutePattern(ctx context.Context, pattern *models.ProcessingPattern, file domain.FileContext, correlationID string) (*clients.PatternExecution, error) {
	return f.exec, f.err
}

func testFile() domain.FileContext {
	return domain.FileContext{
		Filename:    "model.dwg",
		MimeType:    "application/acad",
		FileSize:    1024,
		StoragePath: "/tmp/model.dwg",
	}
}

func TestExecutor_SuccessReportsSpeedup(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	fp := dwgFingerprint()

	id, err := svc.StorePattern(ctx, fp, Body{ProcessingCode: "import ezdxf", Language: models.LanguagePython})
	require.NoError(t, err)
	// Seed an average of 4000ms.
	require.NoError(t, svc.RecordExecution(ctx, id, repository.ExecutionOutcome{Success: true, ExecutionTimeMs: 4000}))
	p, err := svc.Get(ctx, id)
	require.NoError(t, err)

	runner := &fakeRunner{exec: &clients.PatternExecution{
		Success:          true,
		ExtractedContent: "entities: 42",
		ExecutionTimeMs:  1000,
	}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := NewExecutor(svc, runner, log)

	result, err := exec.Execute(ctx, p, testFile(), "c-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "cached_pattern_execution", result.ProcessingMethod)
	assert.InDelta(t, 2.0, result.SpeedupFactor, 1e-9)

	updated, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated.SuccessCount)
}

func TestExecutor_FailureRecordedAgainstPattern(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	fp := dwgFingerprint()

	id, err := svc.StorePattern(ctx, fp, Body{ProcessingCode: "import ezdxf", Language: models.LanguagePython})
	require.NoError(t, err)
	p, err := svc.Get(ctx, id)
	require.NoError(t, err)

	runner := &fakeRunner{exec: &clients.PatternExecution{
		Success:         false,
		ExecutionTimeMs: 200,
		Error:           "parse error",
	}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := NewExecutor(svc, runner, log)

	result, err := exec.Execute(ctx, p, testFile(), "c-2")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "parse error", result.Error)

	updated, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.FailureCount)
}

func TestExecutor_RunnerErrorRecordedAsFailure(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()
	fp := dwgFingerprint()

	id, err := svc.StorePattern(ctx, fp, Body{ProcessingCode: "import ezdxf", Language: models.LanguagePython})
	require.NoError(t, err)
	p, err := svc.Get(ctx, id)
	require.NoError(t, err)

	runner := &fakeRunner{err: errors.New("runner unavailable")}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := NewExecutor(svc, runner, log)

	_, err = exec.Execute(ctx, p, testFile(), "c-3")
	require.Error(t, err)

	updated, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.FailureCount)
}
