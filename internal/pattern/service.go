// Package pattern implements the pattern cache and learner: it indexes past
// successful (context, decision) pairs by file fingerprint, serves cache hits
// to the decision engine, records execution outcomes, and ages out patterns
// whose success rate falls below the floor.
package pattern

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/internal/models"
	"github.com/uomlabs/uom/internal/observability"
	"github.com/uomlabs/uom/internal/repository"
)

// Fingerprint is the cache key: two requests with the same fingerprint may
// share a pattern.
type Fingerprint struct {
	MimeType      string
	Extension     string
	SizeBucket    string
	DecisionPoint domain.DecisionPoint
}

// FingerprintFor derives the cache key from a file context and decision point.
func FingerprintFor(file domain.FileContext, point domain.DecisionPoint) Fingerprint {
	return Fingerprint{
		MimeType:      file.MimeType,
		Extension:     strings.ToLower(filepath.Ext(file.Filename)),
		SizeBucket:    models.SizeBucketFor(file.FileSize),
		DecisionPoint: point,
	}
}

// String renders the fingerprint as its storage key.
func (f Fingerprint) String() string {
	return models.BuildFingerprint(f.MimeType, f.Extension, f.SizeBucket, string(f.DecisionPoint))
}

// Match is a successful cache lookup.
type Match struct {
	Pattern    *models.ProcessingPattern
	Confidence float64
	Reason     string
}

// Body is the content stored with a new pattern.
type Body struct {
	// ProcessingCode plus Language and Packages for executable patterns.
	ProcessingCode string
	Language       models.PatternLanguage
	Packages       []string

	// DecisionPayload for decision-cache entries.
	DecisionPayload string
}

// Config tunes cache lookups and retirement.
type Config struct {
	// MinSuccessRate is the floor below which patterns are not served.
	MinSuccessRate float64

	// MinSamples is the execution count below which a pattern's success rate
	// is not trusted. Such young patterns are served only while they have
	// never failed.
	MinSamples int
}

// DefaultConfig returns the standard cache tuning.
func DefaultConfig() Config {
	return Config{MinSuccessRate: 0.80, MinSamples: 3}
}

// Service is the pattern cache and learner.
type Service struct {
	repo   repository.PatternRepository
	cfg    Config
	logger *slog.Logger
}

// NewService creates the pattern service.
func NewService(repo repository.PatternRepository, cfg Config, logger *slog.Logger) *Service {
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = DefaultConfig().MinSuccessRate
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultConfig().MinSamples
	}
	return &Service{
		repo:   repo,
		cfg:    cfg,
		logger: observability.WithComponent(logger, "pattern"),
	}
}

// FindPattern returns the best pattern for the fingerprint whose success rate
// clears minSuccessRate, or nil when no pattern qualifies. Pass a
// non-positive minSuccessRate to use the configured floor. Confidence is the
// pattern's own success rate.
func (s *Service) FindPattern(ctx context.Context, fp Fingerprint, minSuccessRate float64) (*Match, error) {
	if minSuccessRate <= 0 {
		minSuccessRate = s.cfg.MinSuccessRate
	}

	found, err := s.repo.FindBest(ctx, fp.MimeType, fp.Extension, fp.SizeBucket, string(fp.DecisionPoint), minSuccessRate)
	if err != nil {
		return nil, fmt.Errorf("pattern lookup: %w", err)
	}
	if found == nil {
		return nil, nil
	}

	// A young pattern's rate is not yet trustworthy; serve it only while it
	// has never failed.
	if found.TotalExecutions() < int64(s.cfg.MinSamples) && found.FailureCount > 0 {
		return nil, nil
	}

	confidence := found.SuccessRate
	if confidence > 1 {
		confidence = 1
	}
	return &Match{
		Pattern:    found,
		Confidence: confidence,
		Reason: fmt.Sprintf("cached pattern with %.0f%% success over %d executions",
			found.SuccessRate*100, found.TotalExecutions()),
	}, nil
}

// StorePattern creates a new pattern for the fingerprint with one recorded
// success. When a pattern already exists for the fingerprint, a success is
// recorded against it and any body fields it is missing are filled in from
// the new body.
func (s *Service) StorePattern(ctx context.Context, fp Fingerprint, body Body) (models.ULID, error) {
	existing, err := s.repo.FindBest(ctx, fp.MimeType, fp.Extension, fp.SizeBucket, string(fp.DecisionPoint), 0)
	if err != nil {
		return models.ULID{}, fmt.Errorf("checking existing pattern: %w", err)
	}
	if existing != nil {
		if _, err := s.repo.RecordExecution(ctx, existing.ID, repository.ExecutionOutcome{Success: true}); err != nil {
			return models.ULID{}, err
		}
		if err := s.backfillBody(ctx, existing, body); err != nil {
			return models.ULID{}, err
		}
		return existing.ID, nil
	}

	p := &models.ProcessingPattern{
		MimeType:        fp.MimeType,
		Extension:       fp.Extension,
		SizeBucket:      fp.SizeBucket,
		DecisionPoint:   string(fp.DecisionPoint),
		ProcessingCode:  body.ProcessingCode,
		Language:        body.Language,
		DecisionPayload: body.DecisionPayload,
		SuccessCount:    1,
		FailureCount:    0,
		SuccessRate:     1.0,
	}
	if err := p.SetPackageList(body.Packages); err != nil {
		return models.ULID{}, fmt.Errorf("encoding packages: %w", err)
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return models.ULID{}, err
	}

	s.logger.Info("pattern stored",
		slog.String("pattern_id", p.ID.String()),
		slog.String("fingerprint", fp.String()),
	)
	return p.ID, nil
}

// backfillBody fills body fields the stored pattern is missing. The unique
// fingerprint index admits one row per fingerprint, so a decision-cache row
// created before the processor reported a recipe would otherwise hold the
// slot forever without ever becoming executable.
func (s *Service) backfillBody(ctx context.Context, existing *models.ProcessingPattern, body Body) error {
	update := repository.BodyUpdate{}
	if body.ProcessingCode != "" && existing.ProcessingCode == "" {
		update.ProcessingCode = body.ProcessingCode
		update.Language = body.Language
		if len(body.Packages) > 0 {
			data, err := json.Marshal(body.Packages)
			if err != nil {
				return fmt.Errorf("encoding packages: %w", err)
			}
			update.Packages = string(data)
		}
	}
	if body.DecisionPayload != "" && existing.DecisionPayload == "" {
		update.DecisionPayload = body.DecisionPayload
	}
	if update == (repository.BodyUpdate{}) {
		return nil
	}

	if err := s.repo.FillBody(ctx, existing.ID, update); err != nil {
		return fmt.Errorf("backfilling pattern body: %w", err)
	}
	s.logger.Info("pattern body backfilled",
		slog.String("pattern_id", existing.ID.String()),
		slog.Bool("executable", update.ProcessingCode != ""),
	)
	return nil
}

// RecordExecution folds one execution outcome into the pattern.
func (s *Service) RecordExecution(ctx context.Context, id models.ULID, outcome repository.ExecutionOutcome) error {
	updated, err := s.repo.RecordExecution(ctx, id, outcome)
	if err != nil {
		return err
	}
	s.logger.Debug("pattern execution recorded",
		slog.String("pattern_id", id.String()),
		slog.Bool("success", outcome.Success),
		slog.Float64("success_rate", updated.SuccessRate),
	)
	return nil
}

// RecordSuccess stores or reinforces a decision pattern after a successful
// job. The decision payload is serialized as the cached decision.
func (s *Service) RecordSuccess(ctx context.Context, fp Fingerprint, decision any) error {
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("encoding decision payload: %w", err)
	}
	_, err = s.StorePattern(ctx, fp, Body{DecisionPayload: string(payload)})
	return err
}

// RecordFailure records a failure against the fingerprint's pattern, if one
// exists. Absence is not an error.
func (s *Service) RecordFailure(ctx context.Context, fp Fingerprint) error {
	existing, err := s.repo.FindBest(ctx, fp.MimeType, fp.Extension, fp.SizeBucket, string(fp.DecisionPoint), 0)
	if err != nil {
		return fmt.Errorf("checking existing pattern: %w", err)
	}
	if existing == nil {
		return nil
	}
	return s.RecordExecution(ctx, existing.ID, repository.ExecutionOutcome{Success: false})
}

// Sweep removes patterns whose success rate fell below the floor after at
// least MinSamples executions. Returns the number retired.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteStale(ctx, s.cfg.MinSuccessRate, s.cfg.MinSamples)
	if err != nil {
		return 0, fmt.Errorf("retirement sweep: %w", err)
	}
	if removed > 0 {
		s.logger.Info("retired low-success patterns", slog.Int64("removed", removed))
	}
	return removed, nil
}

// List returns all stored patterns.
func (s *Service) List(ctx context.Context) ([]*models.ProcessingPattern, error) {
	return s.repo.ListAll(ctx)
}

// Get returns one pattern by ID, or nil.
func (s *Service) Get(ctx context.Context, id models.ULID) (*models.ProcessingPattern, error) {
	return s.repo.GetByID(ctx, id)
}

// Retire deletes one pattern by ID.
func (s *Service) Retire(ctx context.Context, id models.ULID) error {
	return s.repo.Retire(ctx, id)
}
