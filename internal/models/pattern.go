package models

import (
	"encoding/json"
	"strings"

	"gorm.io/gorm"
)

// PatternLanguage is the runtime a processing pattern executes under.
type PatternLanguage string

const (
	// LanguagePython indicates a Python pattern body.
	LanguagePython PatternLanguage = "python"
	// LanguageNode indicates a Node.js pattern body.
	LanguageNode PatternLanguage = "node"
	// LanguageGo indicates a Go pattern body.
	LanguageGo PatternLanguage = "go"
	// LanguageRust indicates a Rust pattern body.
	LanguageRust PatternLanguage = "rust"
	// LanguageJava indicates a Java pattern body.
	LanguageJava PatternLanguage = "java"
	// LanguageBash indicates a shell pattern body.
	LanguageBash PatternLanguage = "bash"
)

// validLanguages is the set of accepted pattern languages.
var validLanguages = map[PatternLanguage]bool{
	LanguagePython: true,
	LanguageNode:   true,
	LanguageGo:     true,
	LanguageRust:   true,
	LanguageJava:   true,
	LanguageBash:   true,
}

// Valid reports whether the language is a supported runtime.
func (l PatternLanguage) Valid() bool {
	return validLanguages[l]
}

// ProcessingPattern is a cached recipe for processing files that share a
// fingerprint (MIME type, extension, size bucket, decision point). Patterns
// are created from successful novel-type runs and updated after every
// execution; patterns whose success rate drops below the configured floor
// are no longer served.
type ProcessingPattern struct {
	BaseModel

	// MimeType of the files this pattern applies to.
	MimeType string `gorm:"not null;size:255;index:idx_pattern_fingerprint,unique" json:"mime_type"`

	// Extension is the lowercased file extension including the dot.
	Extension string `gorm:"size:32;index:idx_pattern_fingerprint,unique" json:"extension"`

	// SizeBucket groups file sizes into coarse buckets (tiny, small, medium, large, huge).
	SizeBucket string `gorm:"size:16;index:idx_pattern_fingerprint,unique" json:"size_bucket"`

	// DecisionPoint this pattern answers (initial_triage, security_assessment,
	// processing_route, post_processing).
	DecisionPoint string `gorm:"not null;size:32;index:idx_pattern_fingerprint,unique" json:"decision_point"`

	// ProcessingCode is the opaque pattern body executed by the code runner.
	// Empty for pure decision-cache entries.
	ProcessingCode string `gorm:"type:text" json:"processing_code,omitempty"`

	// DecisionPayload is the JSON-encoded decision served on cache hits at
	// this decision point. Empty for executable-only patterns.
	DecisionPayload string `gorm:"type:text" json:"decision_payload,omitempty"`

	// Language the pattern body is written in.
	Language PatternLanguage `gorm:"not null;size:16" json:"language"`

	// Packages is a JSON-encoded list of runtime packages the pattern needs.
	Packages string `gorm:"size:4096" json:"packages"`

	// SuccessCount is the number of successful executions.
	SuccessCount int64 `gorm:"default:0" json:"success_count"`

	// FailureCount is the number of failed executions.
	FailureCount int64 `gorm:"default:0" json:"failure_count"`

	// SuccessRate is SuccessCount / (SuccessCount + FailureCount).
	SuccessRate float64 `gorm:"default:0;index" json:"success_rate"`

	// AverageExecutionTimeMs is the cumulative running mean of execution time.
	AverageExecutionTimeMs float64 `gorm:"default:0" json:"average_execution_time_ms"`

	// LastUsedAt is the timestamp of the most recent execution.
	LastUsedAt *Time `gorm:"index" json:"last_used_at,omitempty"`
}

// TableName returns the table name for ProcessingPattern.
func (ProcessingPattern) TableName() string {
	return "processing_patterns"
}

// Fingerprint returns the cache key for this pattern.
func (p *ProcessingPattern) Fingerprint() string {
	return BuildFingerprint(p.MimeType, p.Extension, p.SizeBucket, p.DecisionPoint)
}

// BuildFingerprint assembles a pattern cache key from its parts.
func BuildFingerprint(mimeType, extension, sizeBucket, decisionPoint string) string {
	return strings.Join([]string{mimeType, extension, sizeBucket, decisionPoint}, "|")
}

// SizeBucketFor maps a byte count onto a coarse size bucket.
func SizeBucketFor(sizeBytes int64) string {
	switch {
	case sizeBytes < 64*1024:
		return "tiny"
	case sizeBytes < 1024*1024:
		return "small"
	case sizeBytes < 32*1024*1024:
		return "medium"
	case sizeBytes < 512*1024*1024:
		return "large"
	default:
		return "huge"
	}
}

// PackageList decodes the JSON-encoded package list.
func (p *ProcessingPattern) PackageList() []string {
	if p.Packages == "" {
		return nil
	}
	var pkgs []string
	if err := json.Unmarshal([]byte(p.Packages), &pkgs); err != nil {
		return nil
	}
	return pkgs
}

// SetPackageList JSON-encodes the package list into Packages.
func (p *ProcessingPattern) SetPackageList(pkgs []string) error {
	if len(pkgs) == 0 {
		p.Packages = ""
		return nil
	}
	data, err := json.Marshal(pkgs)
	if err != nil {
		return err
	}
	p.Packages = string(data)
	return nil
}

// TotalExecutions returns the total number of recorded executions.
func (p *ProcessingPattern) TotalExecutions() int64 {
	return p.SuccessCount + p.FailureCount
}

// ApplyExecution folds one execution outcome into the counters, success rate,
// and running-mean execution time. Callers persist the result atomically.
func (p *ProcessingPattern) ApplyExecution(success bool, executionTimeMs int64) {
	prior := p.TotalExecutions()
	if success {
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	p.SuccessRate = float64(p.SuccessCount) / float64(p.TotalExecutions())
	p.AverageExecutionTimeMs = (p.AverageExecutionTimeMs*float64(prior) + float64(executionTimeMs)) / float64(prior+1)
	now := Now()
	p.LastUsedAt = &now
}

// Validate performs basic validation on the pattern.
func (p *ProcessingPattern) Validate() error {
	if p.MimeType == "" {
		return ErrMimeTypeRequired
	}
	if p.ProcessingCode == "" && p.DecisionPayload == "" {
		return ErrProcessingCodeRequired
	}
	if p.ProcessingCode != "" && !validLanguages[p.Language] {
		return ErrInvalidLanguage
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the pattern and generates a ULID.
func (p *ProcessingPattern) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}

// BeforeUpdate is a GORM hook that validates the pattern before update.
func (p *ProcessingPattern) BeforeUpdate(tx *gorm.DB) error {
	return p.Validate()
}
