package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/uomlabs/uom/internal/config"
	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/pkg/httpclient"
)

// FileProcess is the document extraction service. It speaks the synchronous
// analyze protocol and handles structured formats (PDF, office documents,
// plain text) the specialized agents do not cover.
type FileProcess struct {
	*serviceClient
}

// NewFileProcess creates the FileProcess client.
func NewFileProcess(cfg config.ServiceConfig, apiKey string, breakers *httpclient.CircuitBreakerManager, logger *slog.Logger) *FileProcess {
	return &FileProcess{serviceClient: newServiceClient("fileprocess", cfg, apiKey, breakers, logger)}
}

// ExtractRequest describes one document extraction submission.
type ExtractRequest struct {
	Filename      string `json:"filename"`
	MimeType      string `json:"mimeType"`
	FilePath      string `json:"filePath,omitempty"`
	FileURL       string `json:"fileUrl,omitempty"`
	Content       []byte `json:"content,omitempty"`
	Method        string `json:"method,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// ExtractDocument runs a document through the extraction pipeline. Large
// documents may come back behind a poll URL.
func (c *FileProcess) ExtractDocument(ctx context.Context, file domain.FileContext, method, correlationID string) (*domain.ProcessingResult, error) {
	req := ExtractRequest{
		Filename:      file.Filename,
		MimeType:      file.MimeType,
		Method:        method,
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

	var resp AnalyzeResponse
	if err := c.postJSON(ctx, "/v1/extract", req, &resp); err != nil {
		return nil, err
	}

	raw, err := PollAnalyze(ctx, c.serviceClient, &resp)
	if err != nil {
		return nil, err
	}

	var result domain.ProcessingResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding extraction result: %w", err)
	}
	return &result, nil
}
