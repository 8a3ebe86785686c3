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

// GeoAgent processes geospatial data and LiDAR point clouds through the scan
// protocol.
type GeoAgent struct {
	*scanService
}

// NewGeoAgent creates the GeoAgent client.
func NewGeoAgent(cfg config.ServiceConfig, apiKey string, breakers *httpclient.CircuitBreakerManager, logger *slog.Logger) *GeoAgent {
	sc := newServiceClient("geoagent", cfg, apiKey, breakers, logger)
	return &GeoAgent{scanService: newScanService(sc, "/v1/process")}
}

// GeoRequest describes one geospatial processing submission.
type GeoRequest struct {
	Filename      string `json:"filename"`
	FilePath      string `json:"filePath,omitempty"`
	FileURL       string `json:"fileUrl,omitempty"`
	Content       []byte `json:"content,omitempty"`
	Kind          string `json:"kind"` // geospatial or lidar
	CorrelationID string `json:"correlationId,omitempty"`
}

// GeoResult is the decoded geospatial processing output.
type GeoResult struct {
	Geometry  map[string]any `json:"geometry,omitempty"`
	Artifacts []string       `json:"artifacts,omitempty"` // DEM/DSM/CHM paths
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ProcessGeospatial runs a geospatial job to completion.
func (c *GeoAgent) ProcessGeospatial(ctx context.Context, file domain.FileContext, correlationID string, timeout time.Duration) (*GeoResult, error) {
	return c.process(ctx, file, "geospatial", correlationID, timeout)
}

// ProcessLiDAR runs a point cloud job to completion.
func (c *GeoAgent) ProcessLiDAR(ctx context.Context, file domain.FileContext, correlationID string, timeout time.Duration) (*GeoResult, error) {
	return c.process(ctx, file, "lidar", correlationID, timeout)
}

func (c *GeoAgent) process(ctx context.Context, file domain.FileContext, kind, correlationID string, timeout time.Duration) (*GeoResult, error) {
	req := GeoRequest{
		Filename:      file.Filename,
		Kind:          kind,
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

	raw, err := PollScan(ctx, c, req, c.pollInterval, timeout, c.logger)
	if err != nil {
		return nil, err
	}

	var result GeoResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding geo result: %w", err)
	}
	return &result, nil
}
