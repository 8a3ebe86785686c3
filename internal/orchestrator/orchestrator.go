// Package orchestrator drives each job through the six-stage sandbox-first
// pipeline: triage, sandbox analysis, security assessment, routing,
// processing, post-processing. Jobs are held in an in-memory table and run
// as independent goroutines; progress and events stream to subscribers.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/uomlabs/uom/internal/clients"
	"github.com/uomlabs/uom/internal/config"
	"github.com/uomlabs/uom/internal/decision"
	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/internal/models"
	"github.com/uomlabs/uom/internal/observability"
)

// ErrTooManyJobs is returned when the active job count is at the configured
// cap. Submissions are rejected, never silently dropped.
var ErrTooManyJobs = errors.New("maximum concurrent jobs reached")

// ErrJobNotFound is returned for queries against unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// DecisionEngine is the decision surface the pipeline consumes.
type DecisionEngine interface {
	DecideInitialTriage(ctx context.Context, req domain.DecisionRequest) (*domain.Decision[domain.TriageDecision], error)
	DecideSecurityAssessment(ctx context.Context, req domain.DecisionRequest) (*domain.Decision[domain.SecurityDecision], error)
	DecideProcessingRoute(ctx context.Context, req domain.DecisionRequest) (*domain.Decision[domain.RouteDecision], error)
	DecidePostProcessing(ctx context.Context, req domain.DecisionRequest) (*domain.Decision[domain.PostProcessDecision], error)
	StorePattern(ctx context.Context, req domain.DecisionRequest, point domain.DecisionPoint, payload any) error
	StoreLearnedPattern(ctx context.Context, req domain.DecisionRequest, route domain.RouteDecision, gen *domain.GeneratedPattern) error
	RecordPatternFailure(ctx context.Context, req domain.DecisionRequest) error
}

// SandboxAnalyzer runs the sandbox analysis stage.
type SandboxAnalyzer interface {
	AnalyzeSandbox(ctx context.Context, req clients.SandboxRequest, timeout time.Duration) (*domain.SandboxAnalysisResult, error)
}

// Stats is the orchestrator's aggregate view.
type Stats struct {
	ActiveJobs   int               `json:"activeJobs"`
	TotalJobs    int64             `json:"totalJobs"`
	JobsByStatus map[JobStatus]int `json:"jobsByStatus"`
}

// Orchestrator owns the job table and runs the pipeline.
type Orchestrator struct {
	engine     DecisionEngine
	sandbox    SandboxAnalyzer
	dispatcher Dispatcher
	sinks      map[domain.StorageDestination]clients.StorageSink

	cfg    config.OrchestratorConfig
	logger *slog.Logger

	mu        sync.RWMutex
	jobs      map[string]*Job
	totalJobs int64

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// New creates the orchestrator. sandbox and dispatcher may be nil in degraded
// deployments; sinks may be empty. A nil engine falls back to the built-in
// heuristics-only decision engine.
func New(
	engine DecisionEngine,
	sandbox SandboxAnalyzer,
	dispatcher Dispatcher,
	sinks []clients.StorageSink,
	cfg config.OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 50
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.SandboxTimeout <= 0 {
		cfg.SandboxTimeout = 2 * time.Minute
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = 60 * time.Second
	}

	if engine == nil {
		engine = decision.NewEngine(nil, nil, nil, decision.Config{}, logger)
	}

	sinkMap := make(map[domain.StorageDestination]clients.StorageSink, len(sinks))
	for _, sink := range sinks {
		sinkMap[sink.Name()] = sink
	}

	return &Orchestrator{
		engine:      engine,
		sandbox:     sandbox,
		dispatcher:  dispatcher,
		sinks:       sinkMap,
		cfg:         cfg,
		logger:      observability.WithComponent(logger, "orchestrator"),
		jobs:        make(map[string]*Job),
		janitorStop: make(chan struct{}),
	}
}

// Start launches the janitor. Safe to call once.
func (o *Orchestrator) Start() {
	go o.runJanitor()
}

// Stop terminates the janitor. In-flight jobs run to completion.
func (o *Orchestrator) Stop() {
	o.janitorOnce.Do(func() { close(o.janitorStop) })
}

// Process admits a job into the pipeline. With req.Async the response is the
// pending job shape; otherwise the call blocks until the job is terminal.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Response, error) {
	if err := req.File.Validate(); err != nil {
		return nil, err
	}

	job, err := o.admit(req)
	if err != nil {
		return nil, err
	}

	go o.run(job)

	if req.Async {
		return job.Snapshot(), nil
	}

	select {
	case <-job.Done():
		return job.Snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// admit registers a new job, enforcing the concurrency cap.
func (o *Orchestrator) admit(req Request) (*Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	active := 0
	for _, j := range o.jobs {
		j.mu.RLock()
		terminal := j.Status.Terminal()
		j.mu.RUnlock()
		if !terminal {
			active++
		}
	}
	if active >= o.cfg.MaxConcurrentJobs {
		return nil, ErrTooManyJobs
	}

	job := newJob(models.NewULID().String(), models.NewULID().String(), req)
	o.jobs[job.ID] = job
	o.totalJobs++

	o.logger.Info("job admitted",
		slog.String("job_id", job.ID),
		slog.String("correlation_id", job.CorrelationID),
		slog.String("filename", req.File.Filename),
		slog.Int64("file_size", req.File.FileSize),
	)
	return job, nil
}

// GetJob returns the current shape of one job.
func (o *Orchestrator) GetJob(jobID string) (*Response, error) {
	o.mu.RLock()
	job, ok := o.jobs[jobID]
	o.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Snapshot(), nil
}

// Subscribe attaches an event sink to a job. A live stream opens with a
// status frame carrying the current job snapshot; subscribing to a job that
// is already terminal delivers the terminal event once and closes the
// channel.
func (o *Orchestrator) Subscribe(jobID string) (<-chan Event, func(), error) {
	o.mu.RLock()
	job, ok := o.jobs[jobID]
	o.mu.RUnlock()
	if !ok {
		return nil, nil, ErrJobNotFound
	}
	ch, cancel := job.subscribeOrReplay()
	return ch, cancel, nil
}

// terminalEventName maps a terminal status to its closing event.
func terminalEventName(status JobStatus) string {
	switch status {
	case StatusBlocked:
		return EventBlocked
	case StatusReviewQueued:
		return EventReviewQueued
	case StatusFailed:
		return EventError
	default:
		return EventComplete
	}
}

// Stats returns the aggregate job counts.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	stats := Stats{
		TotalJobs:    o.totalJobs,
		JobsByStatus: make(map[JobStatus]int),
	}
	for _, j := range o.jobs {
		j.mu.RLock()
		status := j.Status
		j.mu.RUnlock()
		stats.JobsByStatus[status]++
		if !status.Terminal() {
			stats.ActiveJobs++
		}
	}
	return stats
}

// runJanitor evicts jobs stuck in a non-terminal status for more than twice
// the job timeout. Evicted jobs emit no further events.
func (o *Orchestrator) runJanitor() {
	ticker := time.NewTicker(o.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.janitorStop:
			return
		case <-ticker.C:
			o.evictStuck(time.Now())
		}
	}
}

func (o *Orchestrator) evictStuck(now time.Time) {
	maxAge := 2 * o.cfg.JobTimeout

	o.mu.Lock()
	var evicted []*Job
	for id, j := range o.jobs {
		j.mu.RLock()
		stuck := !j.Status.Terminal() && now.Sub(j.CreatedAt) > maxAge
		j.mu.RUnlock()
		if stuck {
			delete(o.jobs, id)
			evicted = append(evicted, j)
		}
	}
	o.mu.Unlock()

	for _, j := range evicted {
		j.closeSubscribers()
		j.finish()
		o.logger.Warn("evicted stuck job",
			slog.String("job_id", j.ID),
			slog.String("correlation_id", j.CorrelationID),
		)
	}
}
