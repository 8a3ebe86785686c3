// Package clients implements the JSON-over-HTTP facades for every downstream
// analysis service. Each service speaks either the scan protocol (submit,
// poll status, cancel) or the synchronous analyze protocol (single call,
// optionally returning a poll URL). All calls go through the resilient HTTP
// client and the service's shared circuit breaker.
package clients

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors shared by all clients.
var (
	// ErrPollTimeout indicates a poll loop exceeded its wall-clock budget.
	// The remote job has been cancelled best-effort.
	ErrPollTimeout = errors.New("poll timeout exceeded")

	// ErrRemoteJobFailed indicates the downstream service reported failure.
	ErrRemoteJobFailed = errors.New("remote job failed")

	// ErrRemoteJobCancelled indicates the downstream job was cancelled.
	ErrRemoteJobCancelled = errors.New("remote job cancelled")
)

// Internal tracing headers carried on every request.
const (
	HeaderAPIKey          = "X-API-Key"
	HeaderInternalService = "X-Internal-Service"
	HeaderCorrelationID   = "X-Correlation-ID"
	HeaderCompanyID       = "X-Company-ID"
	HeaderAppID           = "X-App-ID"
	HeaderUserID          = "X-User-ID"
)

// ScanJobStatus is the lifecycle state a scan-protocol job reports.
type ScanJobStatus string

const (
	ScanQueued     ScanJobStatus = "queued"
	ScanProcessing ScanJobStatus = "processing"
	ScanRunning    ScanJobStatus = "running"
	ScanCompleted  ScanJobStatus = "completed"
	ScanFailed     ScanJobStatus = "failed"
	ScanCancelled  ScanJobStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s ScanJobStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed || s == ScanCancelled
}

// SubmitResponse is the scan protocol's submit acknowledgement.
type SubmitResponse struct {
	JobID  string        `json:"jobId"`
	Status ScanJobStatus `json:"status"`
}

// StatusResponse is one scan protocol status poll result.
type StatusResponse struct {
	Status   ScanJobStatus   `json:"status"`
	Progress float64         `json:"progress,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// AnalyzeResponse is the synchronous analyze protocol's response. When the
// service chose to execute asynchronously it returns a poll URL instead of a
// result; the client then polls until the result arrives.
type AnalyzeResponse struct {
	Result            json.RawMessage `json:"result,omitempty"`
	PollURL           string          `json:"pollUrl,omitempty"`
	TaskID            string          `json:"taskId,omitempty"`
	EstimatedDuration int64           `json:"estimatedDuration,omitempty"`
	Status            string          `json:"status,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// Async reports whether the service deferred the work behind a poll URL.
func (r *AnalyzeResponse) Async() bool {
	return r.PollURL != ""
}

// Defaults for the two polling disciplines.
const (
	// DefaultScanPollInterval is the scan protocol status poll period.
	DefaultScanPollInterval = 2 * time.Second

	// DefaultAnalyzePollInterval is the sync analyze poll period.
	DefaultAnalyzePollInterval = 5 * time.Second

	// DefaultAnalyzePollTimeout caps sync analyze polling.
	DefaultAnalyzePollTimeout = 5 * time.Minute
)
