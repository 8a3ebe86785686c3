package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uomlabs/uom/internal/clients"
	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/internal/observability"
)

// Dispatcher executes the processing stage for one routed job.
type Dispatcher interface {
	Dispatch(ctx context.Context, route domain.RouteDecision, file domain.FileContext, correlationID string) (*domain.ProcessingResult, error)
}

// ClientDispatcher routes to the concrete downstream clients by target
// service. Any client may be nil; dispatching to a missing client is an
// error.
type ClientDispatcher struct {
	cyber    *clients.CyberAgent
	video    *clients.VideoAgent
	geo      *clients.GeoAgent
	github   *clients.GitHubManager
	mage     *clients.MageAgent
	fileproc *clients.FileProcess

	timeout time.Duration
	logger  *slog.Logger
}

// NewClientDispatcher wires the downstream clients into a dispatcher. The
// timeout bounds each scan-protocol poll loop.
func NewClientDispatcher(
	cyber *clients.CyberAgent,
	video *clients.VideoAgent,
	geo *clients.GeoAgent,
	github *clients.GitHubManager,
	mage *clients.MageAgent,
	fileproc *clients.FileProcess,
	timeout time.Duration,
	logger *slog.Logger,
) *ClientDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ClientDispatcher{
		cyber:    cyber,
		video:    video,
		geo:      geo,
		github:   github,
		mage:     mage,
		fileproc: fileproc,
		timeout:  timeout,
		logger:   observability.WithComponent(logger, "dispatch"),
	}
}

// Dispatch implements Dispatcher.
func (d *ClientDispatcher) Dispatch(ctx context.Context, route domain.RouteDecision, file domain.FileContext, correlationID string) (*domain.ProcessingResult, error) {
	start := time.Now()

	d.logger.Info("dispatching to processing service",
		slog.String("target", string(route.TargetService)),
		slog.String("method", route.Method),
		slog.String("correlation_id", correlationID),
	)

	switch route.TargetService {
	case domain.ServiceCyberAgent:
		return d.dispatchCyber(ctx, file, correlationID, start)
	case domain.ServiceVideoAgent:
		return d.dispatchVideo(ctx, file, correlationID, start)
	case domain.ServiceGeoAgent:
		return d.dispatchGeo(ctx, route, file, correlationID, start)
	case domain.ServiceGitHubManager:
		return d.dispatchGitHub(ctx, file, correlationID, start)
	case domain.ServiceFileProcess:
		return d.dispatchFileProcess(ctx, route, file, correlationID, start)
	case domain.ServiceMageAgent:
		return d.dispatchMage(ctx, file, correlationID, start)
	default:
		return nil, fmt.Errorf("no client for target service %q", route.TargetService)
	}
}

func (d *ClientDispatcher) dispatchCyber(ctx context.Context, file domain.FileContext, correlationID string, start time.Time) (*domain.ProcessingResult, error) {
	if d.cyber == nil {
		return nil, fmt.Errorf("cyberagent client not configured")
	}

	req := clients.NewSandboxRequest(file, domain.TriageDecision{
		SandboxTier: domain.Tier3,
		Tools:       []string{"magic_detect", "yara_full", "ghidra", "strings"},
	}, correlationID)
	req.Decompile = true

	analysis, err := d.cyber.AnalyzeSandbox(ctx, req, d.timeout)
	if err != nil {
		return nil, err
	}
	return &domain.ProcessingResult{
		Success: true,
		Metadata: map[string]any{
			"classification": analysis.Classification,
			"security":       analysis.Security,
			"toolsUsed":      analysis.ToolsUsed,
		},
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (d *ClientDispatcher) dispatchVideo(ctx context.Context, file domain.FileContext, correlationID string, start time.Time) (*domain.ProcessingResult, error) {
	if d.video == nil {
		return nil, fmt.Errorf("videoagent client not configured")
	}

	result, err := d.video.ProcessFile(ctx, file, correlationID, d.timeout)
	if err != nil {
		return nil, err
	}
	return &domain.ProcessingResult{
		Success:          true,
		ExtractedContent: result.Transcription,
		Artifacts:        result.Frames,
		Metadata:         result.Metadata,
		DurationMs:       time.Since(start).Milliseconds(),
	}, nil
}

func (d *ClientDispatcher) dispatchGeo(ctx context.Context, route domain.RouteDecision, file domain.FileContext, correlationID string, start time.Time) (*domain.ProcessingResult, error) {
	if d.geo == nil {
		return nil, fmt.Errorf("geoagent client not configured")
	}

	var result *clients.GeoResult
	var err error
	if route.Method == "lidar_processing" {
		result, err = d.geo.ProcessLiDAR(ctx, file, correlationID, d.timeout)
	} else {
		result, err = d.geo.ProcessGeospatial(ctx, file, correlationID, d.timeout)
	}
	if err != nil {
		return nil, err
	}

	metadata := result.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if result.Geometry != nil {
		metadata["geometry"] = result.Geometry
	}
	return &domain.ProcessingResult{
		Success:    true,
		Artifacts:  result.Artifacts,
		Metadata:   metadata,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (d *ClientDispatcher) dispatchGitHub(ctx context.Context, file domain.FileContext, correlationID string, start time.Time) (*domain.ProcessingResult, error) {
	if d.github == nil {
		return nil, fmt.Errorf("github-manager client not configured")
	}
	if file.OriginalURL == "" {
		return nil, fmt.Errorf("github-manager route without a repository url")
	}

	result, err := d.github.ProcessRepo(ctx, file.OriginalURL, false, correlationID, d.timeout)
	if err != nil {
		return nil, err
	}
	metadata := result.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["connectionId"] = result.ConnectionID
	metadata["isNewConnection"] = result.IsNewConnection
	metadata["filesIngested"] = result.FilesIngested
	return &domain.ProcessingResult{
		Success:    true,
		Metadata:   metadata,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (d *ClientDispatcher) dispatchFileProcess(ctx context.Context, route domain.RouteDecision, file domain.FileContext, correlationID string, start time.Time) (*domain.ProcessingResult, error) {
	if d.fileproc == nil {
		return nil, fmt.Errorf("fileprocess client not configured")
	}

	result, err := d.fileproc.ExtractDocument(ctx, file, route.Method, correlationID)
	if err != nil {
		return nil, err
	}
	if result.DurationMs == 0 {
		result.DurationMs = time.Since(start).Milliseconds()
	}
	return result, nil
}

func (d *ClientDispatcher) dispatchMage(ctx context.Context, file domain.FileContext, correlationID string, start time.Time) (*domain.ProcessingResult, error) {
	if d.mage == nil {
		return nil, fmt.Errorf("mageagent client not configured")
	}

	result, err := d.mage.ProcessFile(ctx, file, correlationID)
	if err != nil {
		return nil, err
	}
	if result.DurationMs == 0 {
		result.DurationMs = time.Since(start).Milliseconds()
	}
	return result, nil
}
