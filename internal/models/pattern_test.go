package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingPattern_ApplyExecution(t *testing.T) {
	t.Run("success then failure yields 0.5", func(t *testing.T) {
		p := &ProcessingPattern{}
		p.ApplyExecution(true, 100)
		assert.Equal(t, int64(1), p.SuccessCount)
		assert.InDelta(t, 1.0, p.SuccessRate, 1e-9)

		p.ApplyExecution(false, 300)
		assert.Equal(t, int64(1), p.FailureCount)
		assert.InDelta(t, 0.5, p.SuccessRate, 1e-9)
	})

	t.Run("running mean execution time", func(t *testing.T) {
		p := &ProcessingPattern{}
		p.ApplyExecution(true, 100)
		p.ApplyExecution(true, 300)
		p.ApplyExecution(true, 200)
		assert.InDelta(t, 200.0, p.AverageExecutionTimeMs, 1e-9)
	})

	t.Run("success rate matches definition after every update", func(t *testing.T) {
		p := &ProcessingPattern{}
		outcomes := []bool{true, true, false, true, false, false, true}
		for _, ok := range outcomes {
			p.ApplyExecution(ok, 50)
			expected := float64(p.SuccessCount) / float64(p.SuccessCount+p.FailureCount)
			assert.InDelta(t, expected, p.SuccessRate, 1e-9)
		}
		assert.NotNil(t, p.LastUsedAt)
	})
}

func TestProcessingPattern_Validate(t *testing.T) {
	valid := ProcessingPattern{
		MimeType:       "application/acad",
		Extension:      ".dwg",
		SizeBucket:     "medium",
		DecisionPoint:  "processing_route",
		ProcessingCode: "import ezdxf",
		Language:       LanguagePython,
	}

	t.Run("valid pattern", func(t *testing.T) {
		p := valid
		require.NoError(t, p.Validate())
	})

	t.Run("missing mime type", func(t *testing.T) {
		p := valid
		p.MimeType = ""
		assert.ErrorIs(t, p.Validate(), ErrMimeTypeRequired)
	})

	t.Run("decision-only entry needs no code", func(t *testing.T) {
		p := valid
		p.ProcessingCode = ""
		p.Language = ""
		p.DecisionPayload = `{"targetService":"fileprocess"}`
		require.NoError(t, p.Validate())
	})

	t.Run("missing code", func(t *testing.T) {
		p := valid
		p.ProcessingCode = ""
		assert.ErrorIs(t, p.Validate(), ErrProcessingCodeRequired)
	})

	t.Run("bad language", func(t *testing.T) {
		p := valid
		p.Language = "cobol"
		assert.ErrorIs(t, p.Validate(), ErrInvalidLanguage)
	})
}

func TestSizeBucketFor(t *testing.T) {
	tests := []struct {
		size   int64
		bucket string
	}{
		{0, "tiny"},
		{63 * 1024, "tiny"},
		{64 * 1024, "small"},
		{1024 * 1024, "medium"},
		{32 * 1024 * 1024, "large"},
		{512 * 1024 * 1024, "huge"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.bucket, SizeBucketFor(tt.size), "size %d", tt.size)
	}
}

func TestProcessingPattern_PackageList(t *testing.T) {
	p := &ProcessingPattern{}
	require.NoError(t, p.SetPackageList([]string{"ezdxf", "numpy"}))
	assert.Equal(t, []string{"ezdxf", "numpy"}, p.PackageList())

	require.NoError(t, p.SetPackageList(nil))
	assert.Nil(t, p.PackageList())
}

func TestBuildFingerprint(t *testing.T) {
	fp := BuildFingerprint("application/pdf", ".pdf", "small", "processing_route")
	assert.Equal(t, "application/pdf|.pdf|small|processing_route", fp)
}
