package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uomlabs/uom/internal/clients"
	"github.com/uomlabs/uom/internal/domain"
)

// stageError carries the stage name alongside the failure.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error {
	return e.err
}

// run drives one job through the pipeline under the job timeout. Exceptions
// are caught once at this boundary: the job is marked failed, the error event
// closes the stream, and the failure is recorded against the pattern cache.
func (o *Orchestrator) run(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.JobTimeout)
	defer cancel()
	defer job.finish()

	logger := o.logger.With(
		slog.String("job_id", job.ID),
		slog.String("correlation_id", job.CorrelationID),
	)

	if err := o.pipeline(ctx, job, logger); err != nil {
		stage := "unknown"
		if serr, ok := err.(*stageError); ok {
			stage = serr.stage
		}

		job.mu.Lock()
		job.Err = err.Error()
		job.ErrorStage = stage
		job.mu.Unlock()
		job.setStage(StatusFailed, stage, "pipeline failed: "+err.Error())

		logger.Error("job failed",
			slog.String("stage", stage),
			slog.String("error", err.Error()),
		)
		job.emit(EventError, job.Snapshot())

		if recErr := o.engine.RecordPatternFailure(context.Background(), o.decisionRequest(job)); recErr != nil {
			logger.Warn("recording pattern failure failed", slog.String("error", recErr.Error()))
		}
	}
}

// pipeline runs the six stages in order. A nil return means the job reached a
// terminal status (completed, blocked, or review_queued) cleanly.
func (o *Orchestrator) pipeline(ctx context.Context, job *Job, logger *slog.Logger) error {
	// Stage 1: triage.
	job.setStage(StatusTriaging, "triage", "deciding sandbox tier")
	job.emit(EventStage, map[string]any{"stage": "triage", "message": "deciding sandbox tier"})

	triage, err := o.engine.DecideInitialTriage(ctx, o.decisionRequest(job))
	if err != nil {
		return &stageError{stage: "triage", err: err}
	}
	job.mu.Lock()
	job.TriageDecision = triage
	job.mu.Unlock()

	// Stage 2: sandbox analysis. Failure here degrades to a synthetic
	// medium-threat result rather than failing the job.
	job.setStage(StatusSandboxRunning, "sandbox", "running sandbox analysis")
	job.emit(EventStage, map[string]any{"stage": "sandbox", "message": "running sandbox analysis"})

	sandboxResult := o.runSandbox(ctx, job, triage.Payload, logger)
	job.mu.Lock()
	job.SandboxResult = sandboxResult
	job.mu.Unlock()

	// Stage 3: security assessment.
	job.setStage(StatusSecurityAssessment, "security", "assessing threat level")
	job.emit(EventStage, map[string]any{"stage": "security", "message": "assessing threat level"})

	security, err := o.engine.DecideSecurityAssessment(ctx, o.decisionRequest(job))
	if err != nil {
		return &stageError{stage: "security", err: err}
	}
	job.mu.Lock()
	job.SecurityDecision = security
	job.mu.Unlock()

	switch security.Payload.Action {
	case domain.ActionBlock:
		job.setStage(StatusBlocked, "security", "blocked: "+security.Payload.Reason)
		logger.Warn("job blocked", slog.String("reason", security.Payload.Reason))
		job.emit(EventBlocked, job.Snapshot())
		return nil
	case domain.ActionReview:
		job.setStage(StatusReviewQueued, "security", "queued for review: "+security.Payload.Reason)
		logger.Info("job queued for review",
			slog.String("queue", security.Payload.ReviewQueue),
			slog.String("reason", security.Payload.Reason),
		)
		job.emit(EventReviewQueued, job.Snapshot())
		return nil
	case domain.ActionEscalate:
		logger.Warn("security escalation", slog.String("reason", security.Payload.Reason))
		job.emit(EventEscalated, map[string]any{
			"reason":      security.Payload.Reason,
			"notifyUsers": security.Payload.NotifyUsers,
		})
	}

	// Stage 4: routing.
	job.setStage(StatusRouting, "routing", "choosing processing service")
	job.emit(EventStage, map[string]any{"stage": "routing", "message": "choosing processing service"})

	route, err := o.engine.DecideProcessingRoute(ctx, o.decisionRequest(job))
	if err != nil {
		return &stageError{stage: "routing", err: err}
	}
	job.mu.Lock()
	job.RouteDecision = route
	job.mu.Unlock()

	// Stage 5: processing.
	job.setStage(StatusProcessing, "processing", "processing via "+string(route.Payload.TargetService))
	job.emit(EventStage, map[string]any{
		"stage":         "processing",
		"message":       "dispatching to " + string(route.Payload.TargetService),
		"targetService": route.Payload.TargetService,
		"method":        route.Payload.Method,
	})

	if o.dispatcher == nil {
		return &stageError{stage: "processing", err: fmt.Errorf("no dispatcher configured")}
	}
	result, err := o.dispatcher.Dispatch(ctx, route.Payload, job.File, job.CorrelationID)
	if err != nil {
		return &stageError{stage: "processing", err: err}
	}
	job.mu.Lock()
	job.ProcessingResult = result
	job.mu.Unlock()

	// Stage 6: post-processing.
	job.setStage(StatusPostProcessing, "post_processing", "storing results")
	job.emit(EventStage, map[string]any{"stage": "post_processing", "message": "storing results"})

	postReq := o.decisionRequest(job)
	postReq.ProcessingOK = result.Success
	post, err := o.engine.DecidePostProcessing(ctx, postReq)
	if err != nil {
		return &stageError{stage: "post_processing", err: err}
	}
	job.mu.Lock()
	job.PostProcessDecision = post
	job.mu.Unlock()

	o.store(ctx, job, post.Payload, logger)
	o.learn(ctx, job, result, post.Payload, logger)

	if post.Payload.NotifyUser {
		job.emit(EventNotification, map[string]any{
			"message": "processing complete",
			"jobId":   job.ID,
		})
	}

	job.setStage(StatusCompleted, "completed", "pipeline complete")
	logger.Info("job completed",
		slog.Bool("success", result.Success),
		slog.Int64("duration_ms", result.DurationMs),
	)
	job.emit(EventComplete, job.Snapshot())
	return nil
}

// runSandbox executes Stage 2 under the sandbox timeout. Any failure yields a
// synthetic medium-threat result flagged sandbox_analysis_failed.
func (o *Orchestrator) runSandbox(ctx context.Context, job *Job, triage domain.TriageDecision, logger *slog.Logger) *domain.SandboxAnalysisResult {
	start := time.Now()

	if o.sandbox != nil {
		req := clients.NewSandboxRequest(job.File, triage, job.CorrelationID)
		result, err := o.sandbox.AnalyzeSandbox(ctx, req, o.cfg.SandboxTimeout)
		if err == nil {
			return result
		}
		logger.Warn("sandbox analysis failed, continuing with synthetic result",
			slog.String("error", err.Error()),
		)
	}

	return &domain.SandboxAnalysisResult{
		Classification: domain.ClassificationResult{Category: domain.ClassUnknown},
		Security: domain.SecurityResult{
			ThreatLevel: domain.ThreatMedium,
			Flags:       []string{"sandbox_analysis_failed"},
		},
		DurationMs:    time.Since(start).Milliseconds(),
		Timestamp:     time.Now(),
		Tier:          triage.SandboxTier,
		CorrelationID: job.CorrelationID,
	}
}

// store writes the processing result to each requested destination in order.
// A failing destination is logged and skipped; the job still completes.
func (o *Orchestrator) store(ctx context.Context, job *Job, post domain.PostProcessDecision, logger *slog.Logger) {
	if len(post.StoreIn) == 0 {
		return
	}

	job.mu.RLock()
	record := clients.StorageRecord{
		JobID:         job.ID,
		CorrelationID: job.CorrelationID,
		File:          job.File,
		Decision:      post,
	}
	if job.RouteDecision != nil {
		record.Route = job.RouteDecision.Payload
	}
	if job.ProcessingResult != nil {
		record.Result = *job.ProcessingResult
	}
	job.mu.RUnlock()

	var stored, failed []domain.StorageDestination
	for _, dest := range post.StoreIn {
		sink, ok := o.sinks[dest]
		if !ok {
			logger.Warn("no sink for storage destination", slog.String("destination", string(dest)))
			failed = append(failed, dest)
			continue
		}
		if err := sink.Store(ctx, record); err != nil {
			logger.Warn("storage sink failed",
				slog.String("destination", string(dest)),
				slog.String("error", err.Error()),
			)
			failed = append(failed, dest)
			continue
		}
		stored = append(stored, dest)
	}

	job.emit(EventStorageComplete, map[string]any{
		"stored": stored,
		"failed": failed,
	})
}

// learn records the job outcome against the pattern cache. A successful run
// with learning enabled stores the routing decision together with any
// processing recipe the processor generated, plus the decisions at the other
// points that were marked learnable. A failed run counts against the routing
// pattern.
func (o *Orchestrator) learn(ctx context.Context, job *Job, result *domain.ProcessingResult, post domain.PostProcessDecision, logger *slog.Logger) {
	req := o.decisionRequest(job)

	if !result.Success {
		if err := o.engine.RecordPatternFailure(ctx, req); err != nil {
			logger.Warn("recording pattern failure failed", slog.String("error", err.Error()))
		}
		return
	}
	if !post.LearnPattern {
		return
	}

	job.mu.RLock()
	route := job.RouteDecision
	extra := make(map[domain.DecisionPoint]any)
	if d := job.TriageDecision; d != nil && d.LearnFromOutcome {
		extra[domain.PointInitialTriage] = d.Payload
	}
	if d := job.SecurityDecision; d != nil && d.LearnFromOutcome {
		extra[domain.PointSecurityAssessment] = d.Payload
	}
	if d := job.PostProcessDecision; d != nil && d.LearnFromOutcome {
		extra[domain.PointPostProcessing] = d.Payload
	}
	job.mu.RUnlock()

	if route != nil {
		if err := o.engine.StoreLearnedPattern(ctx, req, route.Payload, result.Pattern); err != nil {
			logger.Warn("storing route pattern failed", slog.String("error", err.Error()))
		}
	}
	for point, payload := range extra {
		if err := o.engine.StorePattern(ctx, req, point, payload); err != nil {
			logger.Warn("storing decision pattern failed",
				slog.String("point", string(point)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// decisionRequest snapshots the job as decision-engine input.
func (o *Orchestrator) decisionRequest(job *Job) domain.DecisionRequest {
	job.mu.RLock()
	defer job.mu.RUnlock()

	return domain.DecisionRequest{
		File:          job.File,
		User:          job.User,
		OrgPolicies:   job.OrgPolicies,
		SandboxResult: job.SandboxResult,
		CorrelationID: job.CorrelationID,
	}
}
