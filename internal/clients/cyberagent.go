package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/uomlabs/uom/internal/config"
	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/pkg/httpclient"
)

// CyberAgent is the sandbox and binary-analysis service. It implements the
// scan protocol for deep analysis and a synchronous quick-analyze call.
type CyberAgent struct {
	*scanService
}

// NewCyberAgent creates the CyberAgent client.
func NewCyberAgent(cfg config.ServiceConfig, apiKey string, breakers *httpclient.CircuitBreakerManager, logger *slog.Logger) *CyberAgent {
	sc := newServiceClient("cyberagent", cfg, apiKey, breakers, logger)
	return &CyberAgent{scanService: newScanService(sc, "/v1/analyze")}
}

// SandboxRequest describes one sandbox analysis submission.
type SandboxRequest struct {
	Filename      string             `json:"filename"`
	MimeType      string             `json:"mimeType"`
	FileSize      int64              `json:"fileSize"`
	FilePath      string             `json:"filePath,omitempty"` // file://... local path
	FileURL       string             `json:"fileUrl,omitempty"`
	Content       []byte             `json:"content,omitempty"` // inline bytes, base64 on the wire
	Tier          domain.SandboxTier `json:"tier"`
	Tools         []string           `json:"tools,omitempty"`
	TimeoutMs     int64              `json:"timeoutMs,omitempty"`
	Decompile     bool               `json:"decompile,omitempty"`
	CorrelationID string             `json:"correlationId,omitempty"`
}

// NewSandboxRequest builds a sandbox submission from a file context and the
// triage decision. The file is passed by local path when available, by URL
// otherwise, and inline for buffer-only files such as archive members.
func NewSandboxRequest(file domain.FileContext, triage domain.TriageDecision, correlationID string) SandboxRequest {
	req := SandboxRequest{
		Filename:      file.Filename,
		MimeType:      file.MimeType,
		FileSize:      file.FileSize,
		Tier:          triage.SandboxTier,
		Tools:         triage.Tools,
		TimeoutMs:     triage.TimeoutMs,
		CorrelationID: correlationID,
	}
	switch {
	case file.StoragePath != "":
		req.FilePath = "file://" + file.StoragePath
	case file.OriginalURL != "":
		req.FileURL = file.OriginalURL
	default:
		req.Content = file.Buffer
	}
	return req
}

// AnalyzeSandbox runs a full sandbox analysis through the scan protocol,
// bounded by timeout, and decodes the result.
func (c *CyberAgent) AnalyzeSandbox(ctx context.Context, req SandboxRequest, timeout time.Duration) (*domain.SandboxAnalysisResult, error) {
	raw, err := PollScan(ctx, c, req, c.pollInterval, timeout, c.logger)
	if err != nil {
		return nil, err
	}

	var result domain.SandboxAnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding sandbox result: %w", err)
	}
	result.Normalize()
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	return &result, nil
}

// QuickAnalyze runs the synchronous analyze protocol for fast verdicts on
// suspicious uploads gated before the orchestrator.
func (c *CyberAgent) QuickAnalyze(ctx context.Context, req SandboxRequest) (*domain.SandboxAnalysisResult, error) {
	var resp AnalyzeResponse
	if err := c.postJSON(ctx, "/v1/quick-analyze", req, &resp); err != nil {
		return nil, err
	}

	raw, err := PollAnalyze(ctx, c.serviceClient, &resp)
	if err != nil {
		return nil, err
	}

	var result domain.SandboxAnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding quick-analyze result: %w", err)
	}
	result.Normalize()
	return &result, nil
}

// MalwareScan submits a deep malware scan with decompilation enabled and
// returns the remote job acknowledgement without waiting for completion.
func (c *CyberAgent) MalwareScan(ctx context.Context, req SandboxRequest) (*SubmitResponse, error) {
	req.Decompile = true
	req.Tier = domain.Tier3
	return c.Submit(ctx, req)
}
