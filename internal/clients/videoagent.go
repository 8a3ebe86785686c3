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

// VideoAgent processes video files and YouTube URLs through the scan
// protocol.
type VideoAgent struct {
	*scanService
}

// NewVideoAgent creates the VideoAgent client.
func NewVideoAgent(cfg config.ServiceConfig, apiKey string, breakers *httpclient.CircuitBreakerManager, logger *slog.Logger) *VideoAgent {
	sc := newServiceClient("videoagent", cfg, apiKey, breakers, logger)
	return &VideoAgent{scanService: newScanService(sc, "/v1/process")}
}

// VideoRequest describes one video processing submission.
type VideoRequest struct {
	Filename      string `json:"filename,omitempty"`
	FilePath      string `json:"filePath,omitempty"`
	SourceURL     string `json:"sourceUrl,omitempty"`
	Content       []byte `json:"content,omitempty"`
	Transcribe    bool   `json:"transcribe"`
	DetectObjects bool   `json:"detectObjects"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// VideoResult is the decoded video processing output.
type VideoResult struct {
	Metadata      map[string]any `json:"metadata,omitempty"`
	Scenes        []any          `json:"scenes,omitempty"`
	Frames        []string       `json:"frames,omitempty"`
	Transcription string         `json:"transcription,omitempty"`
	Objects       []any          `json:"objects,omitempty"`
}

// ProcessVideo runs a video job to completion and decodes the result.
func (c *VideoAgent) ProcessVideo(ctx context.Context, req VideoRequest, timeout time.Duration) (*VideoResult, error) {
	raw, err := PollScan(ctx, c, req, c.pollInterval, timeout, c.logger)
	if err != nil {
		return nil, err
	}

	var result VideoResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding video result: %w", err)
	}
	return &result, nil
}

// SubmitYouTube enqueues a YouTube URL for download and processing, returning
// the remote job acknowledgement and a poll URL for the caller. Used by the
// dispatch gate's YouTube short-circuit; the orchestrator is never engaged.
func (c *VideoAgent) SubmitYouTube(ctx context.Context, url, correlationID string) (*SubmitResponse, string, error) {
	req := VideoRequest{
		SourceURL:     url,
		Transcribe:    true,
		CorrelationID: correlationID,
	}
	resp, err := c.Submit(ctx, req)
	if err != nil {
		return nil, "", err
	}
	return resp, c.url("/v1/jobs/" + resp.JobID), nil
}

// ProcessFile runs a local video file through the agent.
func (c *VideoAgent) ProcessFile(ctx context.Context, file domain.FileContext, correlationID string, timeout time.Duration) (*VideoResult, error) {
	req := VideoRequest{
		Filename:      file.Filename,
		Transcribe:    true,
		DetectObjects: true,
		CorrelationID: correlationID,
	}
	switch {
	case file.StoragePath != "":
		req.FilePath = "file://" + file.StoragePath
	case file.OriginalURL != "":
		req.SourceURL = file.OriginalURL
	default:
		req.Content = file.Buffer
	}
	return c.ProcessVideo(ctx, req, timeout)
}
