package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/uomlabs/uom/internal/models"
)

// patternRepo implements PatternRepository using GORM.
type patternRepo struct {
	db *gorm.DB
}

// NewPatternRepository creates a new PatternRepository.
func NewPatternRepository(db *gorm.DB) PatternRepository {
	return &patternRepo{db: db}
}

// Create persists a new pattern.
func (r *patternRepo) Create(ctx context.Context, pattern *models.ProcessingPattern) error {
	if err := r.db.WithContext(ctx).Create(pattern).Error; err != nil {
		return fmt.Errorf("creating pattern: %w", err)
	}
	return nil
}

// GetByID retrieves a pattern by ID, or nil when absent.
func (r *patternRepo) GetByID(ctx context.Context, id models.ULID) (*models.ProcessingPattern, error) {
	var pattern models.ProcessingPattern
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&pattern).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting pattern by ID: %w", err)
	}
	return &pattern, nil
}

// FindBest returns the highest-success-rate pattern matching the fingerprint
// with successRate >= minSuccessRate, or nil when none qualifies.
func (r *patternRepo) FindBest(ctx context.Context, mimeType, extension, sizeBucket, decisionPoint string, minSuccessRate float64) (*models.ProcessingPattern, error) {
	var pattern models.ProcessingPattern
	err := r.db.WithContext(ctx).
		Where("mime_type = ? AND extension = ? AND size_bucket = ? AND decision_point = ?",
			mimeType, extension, sizeBucket, decisionPoint).
		Where("success_rate >= ?", minSuccessRate).
		Order("success_rate DESC, success_count DESC").
		First(&pattern).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding best pattern: %w", err)
	}
	return &pattern, nil
}

// RecordExecution atomically folds one execution outcome into the pattern.
// The row is locked for the duration of the update so concurrent executions
// never lose a count.
func (r *patternRepo) RecordExecution(ctx context.Context, id models.ULID, outcome ExecutionOutcome) (*models.ProcessingPattern, error) {
	var updated models.ProcessingPattern
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pattern models.ProcessingPattern
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&pattern).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrPatternNotFound
			}
			return fmt.Errorf("loading pattern for update: %w", err)
		}

		pattern.ApplyExecution(outcome.Success, outcome.ExecutionTimeMs)

		if err := tx.Save(&pattern).Error; err != nil {
			return fmt.Errorf("saving pattern execution: %w", err)
		}
		updated = pattern
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// FillBody sets body fields on an existing pattern, leaving already-populated
// columns untouched. Used to turn a decision-cache row into an executable
// pattern once a processing recipe is known, since the unique fingerprint
// index admits only one row per fingerprint.
func (r *patternRepo) FillBody(ctx context.Context, id models.ULID, update BodyUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pattern models.ProcessingPattern
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&pattern).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrPatternNotFound
			}
			return fmt.Errorf("loading pattern for body update: %w", err)
		}

		if update.ProcessingCode != "" && pattern.ProcessingCode == "" {
			pattern.ProcessingCode = update.ProcessingCode
			pattern.Language = update.Language
			pattern.Packages = update.Packages
		}
		if update.DecisionPayload != "" && pattern.DecisionPayload == "" {
			pattern.DecisionPayload = update.DecisionPayload
		}

		if err := tx.Save(&pattern).Error; err != nil {
			return fmt.Errorf("saving pattern body: %w", err)
		}
		return nil
	})
}

// Retire deletes a pattern so it is no longer served.
func (r *patternRepo) Retire(ctx context.Context, id models.ULID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ProcessingPattern{})
	if result.Error != nil {
		return fmt.Errorf("retiring pattern: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrPatternNotFound
	}
	return nil
}

// ListAll returns all patterns ordered by success rate.
func (r *patternRepo) ListAll(ctx context.Context) ([]*models.ProcessingPattern, error) {
	var patterns []*models.ProcessingPattern
	if err := r.db.WithContext(ctx).
		Order("success_rate DESC, success_count DESC").
		Find(&patterns).Error; err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}
	return patterns, nil
}

// DeleteStale removes patterns whose success rate fell below floor after at
// least minSamples executions.
func (r *patternRepo) DeleteStale(ctx context.Context, floor float64, minSamples int) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("success_rate < ? AND success_count + failure_count >= ?", floor, minSamples).
		Delete(&models.ProcessingPattern{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting stale patterns: %w", result.Error)
	}
	return result.RowsAffected, nil
}
