// Package domain defines the core value types shared across the uom
// pipeline: file and user context, sandbox analysis results, and the
// decision payloads produced by the decision engine.
package domain

import (
	"errors"
	"time"
)

// ErrMissingFileSource indicates a FileContext with no retrievable content.
var ErrMissingFileSource = errors.New("file context needs a storage path, source URL, or inline buffer")

// FileContext is the invariant input of a job. At least one of StoragePath,
// OriginalURL, or Buffer must be present.
type FileContext struct {
	// Filename is the sanitized file name (no path components).
	Filename string `json:"filename"`

	// MimeType is authoritative, derived from magic-byte inspection.
	// The client-declared type is advisory only.
	MimeType string `json:"mimeType"`

	// FileSize in bytes.
	FileSize int64 `json:"fileSize"`

	// FileHash is an optional content-addressed identifier.
	FileHash string `json:"fileHash,omitempty"`

	// StoragePath is an optional local path readable by any component.
	StoragePath string `json:"storagePath,omitempty"`

	// OriginalURL is the optional source URL.
	OriginalURL string `json:"originalUrl,omitempty"`

	// Buffer holds small inline content when neither a path nor URL exists.
	Buffer []byte `json:"-"`
}

// Validate checks the FileContext invariants.
func (f *FileContext) Validate() error {
	if f.Filename == "" {
		return errors.New("filename is required")
	}
	if f.FileSize < 0 {
		return errors.New("fileSize must be non-negative")
	}
	if f.StoragePath == "" && f.OriginalURL == "" && len(f.Buffer) == 0 {
		return ErrMissingFileSource
	}
	return nil
}

// UserContext carries the requesting user's identity and trust signal.
// All fields are optional; absence means anonymous with no trust signal.
type UserContext struct {
	UserID         string  `json:"userId,omitempty"`
	OrgID          string  `json:"orgId,omitempty"`
	UserTrustScore float64 `json:"userTrustScore,omitempty"`
}

// OrgSecurityPolicy is an opaque bag of policy flags consumed only by the
// decision engine.
type OrgSecurityPolicy map[string]any

// SandboxTier is the depth of sandbox analysis.
type SandboxTier string

const (
	// Tier1 is fast static analysis.
	Tier1 SandboxTier = "tier1"
	// Tier2 is dynamic analysis with limited tools.
	Tier2 SandboxTier = "tier2"
	// Tier3 is full tooling including decompilation.
	Tier3 SandboxTier = "tier3"
)

// ThreatLevel classifies how dangerous a file is.
type ThreatLevel string

const (
	ThreatSafe     ThreatLevel = "safe"
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// FileClassification is the coarse content category a sandbox assigns.
type FileClassification string

const (
	ClassBinary     FileClassification = "binary"
	ClassDocument   FileClassification = "document"
	ClassArchive    FileClassification = "archive"
	ClassMedia      FileClassification = "media"
	ClassCode       FileClassification = "code"
	ClassData       FileClassification = "data"
	ClassGeo        FileClassification = "geo"
	ClassPointcloud FileClassification = "pointcloud"
	ClassUnknown    FileClassification = "unknown"
)

// ClassificationResult is the content-type half of a sandbox analysis.
type ClassificationResult struct {
	Category   FileClassification `json:"category"`
	Format     string             `json:"format,omitempty"`
	Confidence float64            `json:"confidence"`
}

// SecurityResult is the threat half of a sandbox analysis.
// Invariant: IsMalicious implies ShouldBlock.
type SecurityResult struct {
	ThreatLevel ThreatLevel `json:"threatLevel"`
	IsMalicious bool        `json:"isMalicious"`
	ShouldBlock bool        `json:"shouldBlock"`
	Flags       []string    `json:"flags,omitempty"`
	YaraRules   []string    `json:"yaraRules,omitempty"`
}

// ServiceRecommendation is one sandbox routing suggestion.
type ServiceRecommendation struct {
	TargetService string  `json:"targetService"`
	Method        string  `json:"method"`
	Priority      int     `json:"priority"`
	Reason        string  `json:"reason,omitempty"`
	Confidence    float64 `json:"confidence"`
}

// SandboxAnalysisResult is the output of the sandbox stage.
type SandboxAnalysisResult struct {
	Classification  ClassificationResult    `json:"classification"`
	Security        SecurityResult          `json:"security"`
	Recommendations []ServiceRecommendation `json:"recommendations,omitempty"`
	ToolsUsed       []string                `json:"toolsUsed,omitempty"`
	DurationMs      int64                   `json:"durationMs"`
	Timestamp       time.Time               `json:"timestamp"`
	Tier            SandboxTier             `json:"tier"`
	AnalysisID      string                  `json:"analysisId,omitempty"`
	CorrelationID   string                  `json:"correlationId,omitempty"`
}

// Normalize enforces the malicious-implies-block invariant.
func (r *SandboxAnalysisResult) Normalize() {
	if r.Security.IsMalicious {
		r.Security.ShouldBlock = true
	}
}

// GeneratedPattern is the reusable processing recipe a dynamic processor
// reports back after handling a novel file type. Cached under the file's
// fingerprint, it lets later files of the same shape execute directly.
type GeneratedPattern struct {
	Code     string   `json:"code"`
	Language string   `json:"language"`
	Packages []string `json:"packages,omitempty"`
}

// ProcessingResult is the output of the processing stage.
type ProcessingResult struct {
	Success          bool              `json:"success"`
	JobID            string            `json:"jobId,omitempty"`
	OutputPath       string            `json:"outputPath,omitempty"`
	ExtractedContent string            `json:"extractedContent,omitempty"`
	Artifacts        []string          `json:"artifacts,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
	Pattern          *GeneratedPattern `json:"pattern,omitempty"`
	DurationMs       int64             `json:"durationMs"`
	Error            string            `json:"error,omitempty"`
}
