package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/uomlabs/uom/internal/config"
	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/internal/models"
	"github.com/uomlabs/uom/pkg/httpclient"
)

// MageAgent is the LLM-backed universal executor. It serves three roles:
// decision-engine backend (Orchestrate with a decision task), dynamic
// processing target for files nothing else handles, and code runner for
// cached pattern execution.
type MageAgent struct {
	*serviceClient
}

// NewMageAgent creates the MageAgent client.
func NewMageAgent(cfg config.ServiceConfig, apiKey string, breakers *httpclient.CircuitBreakerManager, logger *slog.Logger) *MageAgent {
	return &MageAgent{serviceClient: newServiceClient("mageagent", cfg, apiKey, breakers, logger)}
}

// NewMageAgentFallback creates a client against the secondary MageAgent
// endpoint. It carries its own circuit breaker so a failing primary does not
// poison the fallback.
func NewMageAgentFallback(cfg config.ServiceConfig, apiKey string, breakers *httpclient.CircuitBreakerManager, logger *slog.Logger) *MageAgent {
	return &MageAgent{serviceClient: newServiceClient("mageagent_fallback", cfg, apiKey, breakers, logger)}
}

// attachFileSource adds the file source to a task context: local path when
// available, URL otherwise, inline base64 bytes for buffer-only files such as
// archive members.
func attachFileSource(taskCtx map[string]any, file domain.FileContext) {
	switch {
	case file.StoragePath != "":
		taskCtx["filePath"] = "file://" + file.StoragePath
	case file.OriginalURL != "":
		taskCtx["fileUrl"] = file.OriginalURL
	case len(file.Buffer) > 0:
		taskCtx["content"] = base64.StdEncoding.EncodeToString(file.Buffer)
	}
}

// OrchestrateRequest is one opaque task submission.
type OrchestrateRequest struct {
	Task          string         `json:"task"`
	Context       map[string]any `json:"context,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// Orchestrate runs an opaque task through the synchronous analyze protocol.
// When the service defers behind a poll URL the result is polled at 5 second
// intervals for up to 5 minutes.
func (c *MageAgent) Orchestrate(ctx context.Context, req OrchestrateRequest) (json.RawMessage, error) {
	var resp AnalyzeResponse
	if err := c.postJSON(ctx, "/v1/orchestrate", req, &resp); err != nil {
		return nil, err
	}
	return PollAnalyze(ctx, c.serviceClient, &resp)
}

// ProcessFile runs a file through the universal dynamic processor.
func (c *MageAgent) ProcessFile(ctx context.Context, file domain.FileContext, correlationID string) (*domain.ProcessingResult, error) {
	req := OrchestrateRequest{
		Task: "process_file",
		Context: map[string]any{
			"filename": file.Filename,
			"mimeType": file.MimeType,
			"fileSize": file.FileSize,
		},
		CorrelationID: correlationID,
	}
	attachFileSource(req.Context, file)

	raw, err := c.Orchestrate(ctx, req)
	if err != nil {
		return nil, err
	}

	var result domain.ProcessingResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding processing result: %w", err)
	}
	return &result, nil
}

// PatternExecution is the outcome of running a cached pattern body.
type PatternExecution struct {
	Success          bool           `json:"success"`
	ExtractedContent string         `json:"extractedContent,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Artifacts        []string       `json:"artifacts,omitempty"`
	ExecutionTimeMs  int64          `json:"executionTimeMs"`
	Error            string         `json:"error,omitempty"`
}

// ExecutePattern runs a cached pattern body against a file in the external
// code-execution environment.
func (c *MageAgent) ExecutePattern(ctx context.Context, pattern *models.ProcessingPattern, file domain.FileContext, correlationID string) (*PatternExecution, error) {
	req := OrchestrateRequest{
		Task: "execute_code",
		Context: map[string]any{
			"code":     pattern.ProcessingCode,
			"language": string(pattern.Language),
			"packages": pattern.PackageList(),
			"filename": file.Filename,
			"mimeType": file.MimeType,
		},
		CorrelationID: correlationID,
	}
	attachFileSource(req.Context, file)

	raw, err := c.Orchestrate(ctx, req)
	if err != nil {
		return nil, err
	}

	var exec PatternExecution
	if err := json.Unmarshal(raw, &exec); err != nil {
		return nil, fmt.Errorf("decoding pattern execution: %w", err)
	}
	return &exec, nil
}
