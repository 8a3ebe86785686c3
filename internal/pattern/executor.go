package pattern

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uomlabs/uom/internal/clients"
	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/internal/models"
	"github.com/uomlabs/uom/internal/observability"
	"github.com/uomlabs/uom/internal/repository"
)

// CodeRunner executes a pattern body in the external code-execution
// environment. Implemented by the MageAgent client.
type CodeRunner interface {
	ExecutePattern(ctx context.Context, pattern *models.ProcessingPattern, file domain.FileContext, correlationID string) (*clients.PatternExecution, error)
}

// ExecutionResult is the outcome of a cached-pattern execution, including the
// speedup against the pattern's recorded average.
type ExecutionResult struct {
	Success          bool           `json:"success"`
	ExtractedContent string         `json:"extractedContent,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Artifacts        []string       `json:"artifacts,omitempty"`
	ProcessingMethod string         `json:"processingMethod"`
	ExecutionTimeMs  int64          `json:"executionTimeMs"`
	SpeedupFactor    float64        `json:"speedupFactor,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// Executor runs cached patterns and records every outcome against the
// pattern's counters.
type Executor struct {
	service *Service
	runner  CodeRunner
	logger  *slog.Logger
}

// NewExecutor creates the cached-pattern executor.
func NewExecutor(service *Service, runner CodeRunner, logger *slog.Logger) *Executor {
	return &Executor{
		service: service,
		runner:  runner,
		logger:  observability.WithComponent(logger, "pattern.executor"),
	}
}

// Execute runs the pattern against the file. The outcome, success or
// failure, is recorded against the pattern so its success rate stays
// truthful. A failed execution returns the result with Success false and no
// error; the caller falls through to full processing.
func (e *Executor) Execute(ctx context.Context, p *models.ProcessingPattern, file domain.FileContext, correlationID string) (*ExecutionResult, error) {
	start := time.Now()

	exec, err := e.runner.ExecutePattern(ctx, p, file, correlationID)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		e.record(ctx, p.ID, false, elapsed)
		return nil, fmt.Errorf("running cached pattern %s: %w", p.ID, err)
	}

	timeMs := exec.ExecutionTimeMs
	if timeMs <= 0 {
		timeMs = elapsed
	}
	e.record(ctx, p.ID, exec.Success, timeMs)

	result := &ExecutionResult{
		Success:          exec.Success,
		ExtractedContent: exec.ExtractedContent,
		Metadata:         exec.Metadata,
		Artifacts:        exec.Artifacts,
		ProcessingMethod: "cached_pattern_execution",
		ExecutionTimeMs:  timeMs,
		Error:            exec.Error,
	}
	if exec.Success && p.AverageExecutionTimeMs > 0 && timeMs > 0 {
		result.SpeedupFactor = p.AverageExecutionTimeMs / float64(timeMs)
	}

	e.logger.Info("cached pattern executed",
		slog.String("pattern_id", p.ID.String()),
		slog.Bool("success", exec.Success),
		slog.Int64("execution_time_ms", timeMs),
		slog.Float64("speedup_factor", result.SpeedupFactor),
	)
	return result, nil
}

func (e *Executor) record(ctx context.Context, id models.ULID, success bool, timeMs int64) {
	err := e.service.RecordExecution(ctx, id, repository.ExecutionOutcome{
		Success:         success,
		ExecutionTimeMs: timeMs,
	})
	if err != nil {
		e.logger.Warn("recording pattern execution failed",
			slog.String("pattern_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}
