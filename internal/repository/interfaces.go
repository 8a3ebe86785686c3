// Package repository provides data access for persisted uom entities.
package repository

import (
	"context"

	"github.com/uomlabs/uom/internal/models"
)

// ExecutionOutcome is one pattern execution result to fold into the counters.
type ExecutionOutcome struct {
	Success         bool
	ExecutionTimeMs int64
	Error           string
}

// BodyUpdate carries body fields to fill on an existing pattern. Empty
// fields leave the stored value untouched.
type BodyUpdate struct {
	ProcessingCode  string
	Language        models.PatternLanguage
	Packages        string
	DecisionPayload string
}

// PatternRepository defines data access for processing patterns.
type PatternRepository interface {
	// Create persists a new pattern.
	Create(ctx context.Context, pattern *models.ProcessingPattern) error

	// GetByID retrieves a pattern by ID, or nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.ProcessingPattern, error)

	// FindBest returns the highest-success-rate pattern matching the
	// fingerprint with successRate >= minSuccessRate, or nil.
	FindBest(ctx context.Context, mimeType, extension, sizeBucket, decisionPoint string, minSuccessRate float64) (*models.ProcessingPattern, error)

	// RecordExecution atomically folds one execution outcome into the
	// pattern's counters, success rate, and running-mean execution time.
	RecordExecution(ctx context.Context, id models.ULID, outcome ExecutionOutcome) (*models.ProcessingPattern, error)

	// FillBody sets body fields the pattern is missing, leaving populated
	// columns untouched.
	FillBody(ctx context.Context, id models.ULID, update BodyUpdate) error

	// Retire deletes a pattern so it is no longer served.
	Retire(ctx context.Context, id models.ULID) error

	// ListAll returns all patterns ordered by success rate.
	ListAll(ctx context.Context) ([]*models.ProcessingPattern, error)

	// DeleteStale removes patterns whose success rate fell below floor after
	// at least minSamples executions. Returns the number removed.
	DeleteStale(ctx context.Context, floor float64, minSamples int) (int64, error)
}
