package models

// ProcessedArtifact is the relational record written by the postgres storage
// sink after a job completes. It captures what was processed and where the
// outputs went so completed work is queryable after the in-memory job record
// is gone.
type ProcessedArtifact struct {
	BaseModel

	// JobID is the orchestrator job this artifact came from.
	JobID string `gorm:"not null;size:26;index" json:"job_id"`

	// CorrelationID links the artifact to the request trace.
	CorrelationID string `gorm:"size:64;index" json:"correlation_id,omitempty"`

	// Filename and MimeType describe the processed file.
	Filename string `gorm:"not null;size:512" json:"filename"`
	MimeType string `gorm:"size:255;index" json:"mime_type"`

	// TargetService is the downstream service that processed the file.
	TargetService string `gorm:"size:32" json:"target_service"`

	// ExtractedContent holds the extracted text, truncated by the sink.
	ExtractedContent string `gorm:"type:text" json:"extracted_content,omitempty"`

	// Artifacts is a JSON-encoded list of output artifact paths.
	Artifacts string `gorm:"size:4096" json:"artifacts,omitempty"`

	// DurationMs is the processing duration.
	DurationMs int64 `json:"duration_ms"`
}

// TableName returns the table name for ProcessedArtifact.
func (ProcessedArtifact) TableName() string {
	return "processed_artifacts"
}
