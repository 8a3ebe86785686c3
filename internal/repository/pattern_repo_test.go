package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/uomlabs/uom/internal/models"
)

func setupPatternTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.ProcessingPattern{}))
	return db
}

func newTestPattern(mimeType, ext string) *models.ProcessingPattern {
	return &models.ProcessingPattern{
		MimeType:       mimeType,
		Extension:      ext,
		SizeBucket:     "medium",
		DecisionPoint:  "processing_route",
		ProcessingCode: "import ezdxf\nprint('ok')",
		Language:       models.LanguagePython,
		SuccessCount:   1,
		SuccessRate:    1.0,
	}
}

func TestPatternRepo_CreateAndGet(t *testing.T) {
	db := setupPatternTestDB(t)
	repo := NewPatternRepository(db)
	ctx := context.Background()

	pattern := newTestPattern("application/acad", ".dwg")
	require.NoError(t, repo.Create(ctx, pattern))
	require.False(t, pattern.ID.IsZero())

	got, err := repo.GetByID(ctx, pattern.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "application/acad", got.MimeType)
	assert.Equal(t, ".dwg", got.Extension)

	missing, err := repo.GetByID(ctx, models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPatternRepo_FindBest(t *testing.T) {
	db := setupPatternTestDB(t)
	repo := NewPatternRepository(db)
	ctx := context.Background()

	good := newTestPattern("application/acad", ".dwg")
	good.SuccessCount = 9
	good.FailureCount = 1
	good.SuccessRate = 0.9
	require.NoError(t, repo.Create(ctx, good))

	t.Run("match above threshold", func(t *testing.T) {
		found, err := repo.FindBest(ctx, "application/acad", ".dwg", "medium", "processing_route", 0.80)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, good.ID, found.ID)
	})

	t.Run("below threshold not served", func(t *testing.T) {
		bad := newTestPattern("application/x-step", ".stp")
		bad.SuccessCount = 1
		bad.FailureCount = 3
		bad.SuccessRate = 0.25
		require.NoError(t, repo.Create(ctx, bad))

		found, err := repo.FindBest(ctx, "application/x-step", ".stp", "medium", "processing_route", 0.80)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("fingerprint mismatch", func(t *testing.T) {
		found, err := repo.FindBest(ctx, "application/acad", ".dwg", "huge", "processing_route", 0.80)
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestPatternRepo_RecordExecution(t *testing.T) {
	db := setupPatternTestDB(t)
	repo := NewPatternRepository(db)
	ctx := context.Background()

	pattern := newTestPattern("application/acad", ".dwg")
	pattern.AverageExecutionTimeMs = 1000
	require.NoError(t, repo.Create(ctx, pattern))

	updated, err := repo.RecordExecution(ctx, pattern.ID, ExecutionOutcome{Success: false, ExecutionTimeMs: 3000})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.SuccessCount)
	assert.Equal(t, int64(1), updated.FailureCount)
	assert.InDelta(t, 0.5, updated.SuccessRate, 1e-9)
	assert.InDelta(t, 2000, updated.AverageExecutionTimeMs, 1e-9)
	assert.NotNil(t, updated.LastUsedAt)

	t.Run("unknown pattern", func(t *testing.T) {
		_, err := repo.RecordExecution(ctx, models.NewULID(), ExecutionOutcome{Success: true, ExecutionTimeMs: 10})
		assert.ErrorIs(t, err, models.ErrPatternNotFound)
	})
}

func TestPatternRepo_Retire(t *testing.T) {
	db := setupPatternTestDB(t)
	repo := NewPatternRepository(db)
	ctx := context.Background()

	pattern := newTestPattern("application/acad", ".dwg")
	require.NoError(t, repo.Create(ctx, pattern))

	require.NoError(t, repo.Retire(ctx, pattern.ID))

	got, err := repo.GetByID(ctx, pattern.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, repo.Retire(ctx, pattern.ID), models.ErrPatternNotFound)
}

func TestPatternRepo_DeleteStale(t *testing.T) {
	db := setupPatternTestDB(t)
	repo := NewPatternRepository(db)
	ctx := context.Background()

	stale := newTestPattern("text/csv", ".csv")
	stale.SuccessCount = 2
	stale.FailureCount = 8
	stale.SuccessRate = 0.2
	require.NoError(t, repo.Create(ctx, stale))

	// Below the floor but too few samples to trust the rate.
	young := newTestPattern("text/xml", ".xml")
	young.SuccessCount = 0
	young.FailureCount = 1
	young.SuccessRate = 0
	require.NoError(t, repo.Create(ctx, young))

	healthy := newTestPattern("application/pdf", ".pdf")
	healthy.SuccessCount = 10
	healthy.SuccessRate = 1.0
	require.NoError(t, repo.Create(ctx, healthy))

	removed, err := repo.DeleteStale(ctx, 0.80, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	remaining, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, "application/pdf", remaining[0].MimeType)
}
