// Package gate is the pre-queue dispatch gate: the single entry point that
// classifies an inbound request and either short-circuits to a specialized
// downstream service or hands the file to the orchestrator.
package gate

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/uomlabs/uom/internal/clients"
	"github.com/uomlabs/uom/internal/config"
	"github.com/uomlabs/uom/internal/decision"
	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/internal/models"
	"github.com/uomlabs/uom/internal/observability"
	"github.com/uomlabs/uom/internal/orchestrator"
	"github.com/uomlabs/uom/internal/pattern"
)

// Processing methods reported on gate outcomes.
const (
	MethodOrchestrated  = "orchestrated"
	MethodYouTube       = "videoagent_youtube"
	MethodGitHubRepo    = "github_repo_ingestion"
	MethodCachedPattern = "cached_pattern_execution"
	MethodArchiveFanout = "archive_fanout"
	MethodBlocked       = "blocked"
)

// BlockedCode is the error code carried by 403-shaped gate blocks.
const BlockedCode = "MALICIOUS_FILE_BLOCKED"

// repoSyncTimeout bounds the GitHub repository ingestion wait.
const repoSyncTimeout = 10 * time.Minute

// Processor admits jobs into the pipeline. Implemented by the orchestrator.
type Processor interface {
	Process(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
}

// YouTubeSubmitter enqueues YouTube URLs. Implemented by the VideoAgent
// client.
type YouTubeSubmitter interface {
	SubmitYouTube(ctx context.Context, url, correlationID string) (*clients.SubmitResponse, string, error)
}

// RepoIngester connects and syncs repositories. Implemented by the
// GitHubManager client.
type RepoIngester interface {
	ProcessRepo(ctx context.Context, repoURL string, forceResync bool, correlationID string, timeout time.Duration) (*clients.RepoResult, error)
}

// QuickAnalyzer gives a fast malware verdict on suspicious uploads.
// Implemented by the CyberAgent client.
type QuickAnalyzer interface {
	QuickAnalyze(ctx context.Context, req clients.SandboxRequest) (*domain.SandboxAnalysisResult, error)
}

// PatternExecutor runs cached patterns. Implemented by pattern.Executor.
type PatternExecutor interface {
	Execute(ctx context.Context, p *models.ProcessingPattern, file domain.FileContext, correlationID string) (*pattern.ExecutionResult, error)
}

// MimeDetector derives the authoritative MIME type from magic bytes.
type MimeDetector func(data []byte) string

// DetectMime is the default magic-byte detector.
func DetectMime(data []byte) string {
	mt := mimetype.Detect(data)
	mime := mt.String()
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}

// FileSubmission is one uploaded file entering the gate.
type FileSubmission struct {
	Filename         string
	DeclaredMimeType string
	Content          []byte
	StoragePath      string
	User             domain.UserContext
	OrgPolicies      domain.OrgSecurityPolicy
	Async            bool
}

// URLSubmission is one URL entering the gate.
type URLSubmission struct {
	URL         string
	User        domain.UserContext
	OrgPolicies domain.OrgSecurityPolicy
	Async       bool
}

// BlockedInfo describes a pre-pipeline malware block.
type BlockedInfo struct {
	Code        string             `json:"code"`
	Reason      string             `json:"reason"`
	ThreatLevel domain.ThreatLevel `json:"threatLevel"`
	YaraRules   []string           `json:"yaraRules,omitempty"`
}

// ChildJob is one archive member's processing outcome.
type ChildJob struct {
	JobID    string `json:"jobId"`
	Filename string `json:"filename"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// ArchiveResult aggregates an archive fan-out.
type ArchiveResult struct {
	TotalFiles     int        `json:"totalFiles"`
	ProcessedFiles []ChildJob `json:"processedFiles"`
}

// Outcome is the gate's terminal answer for one submission.
type Outcome struct {
	ProcessingMethod string                   `json:"processingMethod"`
	StatusCode       int                      `json:"-"`
	JobID            string                   `json:"jobId,omitempty"`
	PollURL          string                   `json:"pollUrl,omitempty"`
	Job              *orchestrator.Response   `json:"job,omitempty"`
	Blocked          *BlockedInfo             `json:"blocked,omitempty"`
	Archive          *ArchiveResult           `json:"archive,omitempty"`
	Pattern          *pattern.ExecutionResult `json:"patternExecution,omitempty"`
}

// Gate classifies submissions and dispatches them.
type Gate struct {
	orch     Processor
	video    YouTubeSubmitter
	github   RepoIngester
	cyber    QuickAnalyzer
	patterns *pattern.Service
	executor PatternExecutor
	detect   MimeDetector
	cfg      config.GateConfig
	logger   *slog.Logger
}

// New creates the dispatch gate. video, github, cyber, patterns, and executor
// may be nil; the corresponding short-circuits then fall through to the
// orchestrator.
func New(
	orch Processor,
	video YouTubeSubmitter,
	github RepoIngester,
	cyber QuickAnalyzer,
	patterns *pattern.Service,
	executor PatternExecutor,
	cfg config.GateConfig,
	logger *slog.Logger,
) *Gate {
	if cfg.MaxArchiveEntries <= 0 {
		cfg.MaxArchiveEntries = 100
	}
	return &Gate{
		orch:     orch,
		video:    video,
		github:   github,
		cyber:    cyber,
		patterns: patterns,
		executor: executor,
		detect:   DetectMime,
		cfg:      cfg,
		logger:   observability.WithComponent(logger, "gate"),
	}
}

// SubmitFile routes an uploaded file: archives fan out, suspicious binaries
// get a fast malware verdict, novel MIME types with a cached pattern execute
// it, and everything else enters the orchestrator.
func (g *Gate) SubmitFile(ctx context.Context, sub FileSubmission) (*Outcome, error) {
	if err := g.validate(sub); err != nil {
		return nil, err
	}

	mimeType := g.detect(sub.Content)
	if mimeType == "" {
		mimeType = sub.DeclaredMimeType
	}
	correlationID := models.NewULID().String()

	file := domain.FileContext{
		Filename:    sub.Filename,
		MimeType:    mimeType,
		FileSize:    int64(len(sub.Content)),
		StoragePath: sub.StoragePath,
		Buffer:      sub.Content,
	}

	g.logger.Info("file submission",
		slog.String("filename", sub.Filename),
		slog.String("mime_type", mimeType),
		slog.Int64("file_size", file.FileSize),
		slog.String("correlation_id", correlationID),
	)

	if decision.IsArchive(mimeType) && archiveKind(sub.Filename) != "" {
		return g.fanOutArchive(ctx, sub, correlationID)
	}

	if decision.IsKnownBinary(file) && g.cyber != nil {
		outcome, blocked, err := g.quickScanBinary(ctx, file, correlationID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return outcome, nil
		}
		// Weakly suspicious: full pipeline.
	}

	if g.isNovelMime(mimeType) {
		if outcome := g.tryCachedPattern(ctx, file, correlationID); outcome != nil {
			return outcome, nil
		}
	}

	return g.orchestrate(ctx, orchestrator.Request{
		File:        file,
		User:        sub.User,
		OrgPolicies: sub.OrgPolicies,
		Async:       sub.Async,
	})
}

// SubmitURL routes a URL: YouTube and GitHub repositories short-circuit to
// their services, Google Drive links are rewritten to direct downloads, and
// the rest enter the orchestrator by reference.
func (g *Gate) SubmitURL(ctx context.Context, sub URLSubmission) (*Outcome, error) {
	raw := strings.TrimSpace(sub.URL)
	if raw == "" {
		return nil, models.ErrValidation{Field: "url", Message: "url is required"}
	}
	correlationID := models.NewULID().String()

	kind := domain.ClassifyURL(raw)
	g.logger.Info("url submission",
		slog.String("url_kind", string(kind)),
		slog.String("correlation_id", correlationID),
	)

	switch kind {
	case domain.URLYouTube:
		if g.video != nil {
			resp, pollURL, err := g.video.SubmitYouTube(ctx, raw, correlationID)
			if err != nil {
				return nil, err
			}
			return &Outcome{
				ProcessingMethod: MethodYouTube,
				StatusCode:       202,
				JobID:            resp.JobID,
				PollURL:          pollURL,
			}, nil
		}
	case domain.URLGitHubRepo:
		if g.github != nil {
			result, err := g.github.ProcessRepo(ctx, raw, false, correlationID, repoSyncTimeout)
			if err != nil {
				return nil, err
			}
			return &Outcome{
				ProcessingMethod: MethodGitHubRepo,
				StatusCode:       200,
				Job: &orchestrator.Response{
					Status:   orchestrator.StatusCompleted,
					Progress: 100,
					Result: &domain.ProcessingResult{
						Success: true,
						Metadata: map[string]any{
							"connectionId":    result.ConnectionID,
							"isNewConnection": result.IsNewConnection,
							"filesIngested":   result.FilesIngested,
						},
					},
				},
			}, nil
		}
	case domain.URLGoogleDrive:
		raw = driveDirectURL(raw)
	case domain.URLLocalFile:
		u, err := url.Parse(raw)
		if err != nil || u.Path == "" {
			return nil, models.ErrValidation{Field: "url", Message: "invalid file url"}
		}
		return g.orchestrate(ctx, orchestrator.Request{
			File: domain.FileContext{
				Filename:    filenameFromURL(raw),
				StoragePath: u.Path,
			},
			User:        sub.User,
			OrgPolicies: sub.OrgPolicies,
			Async:       sub.Async,
		})
	case domain.URLUnknown:
		return nil, models.ErrValidation{Field: "url", Message: "unrecognized url"}
	}

	file := domain.FileContext{
		Filename:    filenameFromURL(raw),
		OriginalURL: raw,
	}
	return g.orchestrate(ctx, orchestrator.Request{
		File:        file,
		User:        sub.User,
		OrgPolicies: sub.OrgPolicies,
		Async:       sub.Async,
	})
}

func (g *Gate) orchestrate(ctx context.Context, req orchestrator.Request) (*Outcome, error) {
	resp, err := g.orch.Process(ctx, req)
	if err != nil {
		return nil, err
	}
	status := 200
	if req.Async {
		status = 202
	}
	return &Outcome{
		ProcessingMethod: MethodOrchestrated,
		StatusCode:       status,
		JobID:            resp.JobID,
		PollURL:          "/v1/jobs/" + resp.JobID,
		Job:              resp,
	}, nil
}

// quickScanBinary runs the fast malware verdict on a suspicious binary. A
// malicious verdict blocks the file before any job is created.
func (g *Gate) quickScanBinary(ctx context.Context, file domain.FileContext, correlationID string) (*Outcome, bool, error) {
	req := clients.NewSandboxRequest(file, domain.TriageDecision{
		SandboxTier: domain.Tier3,
		Tools:       []string{"magic_detect", "yara_full"},
	}, correlationID)
	req.Decompile = true

	verdict, err := g.cyber.QuickAnalyze(ctx, req)
	if err != nil {
		// The full pipeline sandboxes the file anyway.
		g.logger.Warn("quick analyze failed, deferring to pipeline",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return nil, false, nil
	}

	if verdict.Security.ShouldBlock {
		g.logger.Warn("malicious file blocked at gate",
			slog.String("filename", file.Filename),
			slog.String("threat_level", string(verdict.Security.ThreatLevel)),
			slog.String("correlation_id", correlationID),
		)
		return &Outcome{
			ProcessingMethod: MethodBlocked,
			StatusCode:       403,
			Blocked: &BlockedInfo{
				Code:        BlockedCode,
				Reason:      "file identified as malicious during pre-scan",
				ThreatLevel: verdict.Security.ThreatLevel,
				YaraRules:   verdict.Security.YaraRules,
			},
		}, true, nil
	}
	return nil, false, nil
}

// tryCachedPattern executes a cached executable pattern for a novel MIME
// type. Returns nil when there is no usable pattern or execution failed; the
// caller falls through to full processing.
func (g *Gate) tryCachedPattern(ctx context.Context, file domain.FileContext, correlationID string) *Outcome {
	if g.patterns == nil || g.executor == nil {
		return nil
	}

	fp := pattern.FingerprintFor(file, domain.PointProcessingRoute)
	match, err := g.patterns.FindPattern(ctx, fp, 0)
	if err != nil {
		g.logger.Warn("pattern lookup failed", slog.String("error", err.Error()))
		return nil
	}
	if match == nil || match.Pattern.ProcessingCode == "" {
		return nil
	}

	result, err := g.executor.Execute(ctx, match.Pattern, file, correlationID)
	if err != nil || !result.Success {
		// Failure is already recorded against the pattern.
		return nil
	}

	return &Outcome{
		ProcessingMethod: MethodCachedPattern,
		StatusCode:       200,
		Pattern:          result,
	}
}

// fanOutArchive extracts the archive one level deep and runs each member as
// its own job. No job is created for the archive itself.
func (g *Gate) fanOutArchive(ctx context.Context, sub FileSubmission, correlationID string) (*Outcome, error) {
	entries, err := extractArchive(sub.Filename, sub.Content, g.cfg.MaxArchiveEntries)
	if err != nil {
		return nil, err
	}

	g.logger.Info("archive fan-out",
		slog.String("filename", sub.Filename),
		slog.Int("entries", len(entries)),
		slog.String("correlation_id", correlationID),
	)

	result := &ArchiveResult{TotalFiles: len(entries)}
	for _, entry := range entries {
		resp, err := g.orch.Process(ctx, orchestrator.Request{
			File: domain.FileContext{
				Filename: entry.Name,
				MimeType: g.detect(entry.Data),
				FileSize: int64(len(entry.Data)),
				Buffer:   entry.Data,
			},
			User:        sub.User,
			OrgPolicies: sub.OrgPolicies,
		})
		if err != nil {
			result.ProcessedFiles = append(result.ProcessedFiles, ChildJob{
				Filename: entry.Name,
				Error:    err.Error(),
			})
			continue
		}
		result.ProcessedFiles = append(result.ProcessedFiles, ChildJob{
			JobID:    resp.JobID,
			Filename: entry.Name,
			Success:  resp.Status == orchestrator.StatusCompleted,
		})
	}

	return &Outcome{
		ProcessingMethod: MethodArchiveFanout,
		StatusCode:       200,
		Archive:          result,
	}, nil
}

func (g *Gate) validate(sub FileSubmission) error {
	if sub.Filename == "" {
		return models.ErrValidation{Field: "filename", Message: "filename is required"}
	}
	if strings.ContainsAny(sub.Filename, "/\\") || strings.Contains(sub.Filename, "..") {
		return models.ErrValidation{Field: "filename", Message: "filename must not contain path components"}
	}
	if len(sub.Content) == 0 {
		return models.ErrValidation{Field: "content", Message: "file is empty"}
	}
	if g.cfg.MaxFileSizeBytes > 0 && int64(len(sub.Content)) > g.cfg.MaxFileSizeBytes {
		return models.ErrValidation{Field: "content", Message: "file exceeds maximum size"}
	}
	return nil
}

// knownMimePrefixes are content families with dedicated processors; anything
// outside them is a candidate for cached-pattern execution.
var knownMimePrefixes = []string{
	"text/", "image/", "audio/", "video/",
}

var knownMimeTypes = map[string]bool{
	"application/pdf":    true,
	"application/json":   true,
	"application/xml":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
}

func (g *Gate) isNovelMime(mimeType string) bool {
	if knownMimeTypes[mimeType] {
		return false
	}
	for _, prefix := range knownMimePrefixes {
		if strings.HasPrefix(mimeType, prefix) {
			return false
		}
	}
	return !decision.IsArchive(mimeType)
}

// driveDirectURL rewrites a Google Drive share link into the direct download
// form, with the confirm token that bypasses the virus-scan interstitial.
func driveDirectURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	id := u.Query().Get("id")
	if id == "" {
		// Share links look like /file/d/<id>/view.
		segments := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
		for i, seg := range segments {
			if seg == "d" && i+1 < len(segments) {
				id = segments[i+1]
				break
			}
		}
	}
	if id == "" {
		return raw
	}
	return "https://drive.google.com/uc?export=download&id=" + id + "&confirm=t"
}

// filenameFromURL names a URL-referenced file from its path.
func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "download"
	}
	base := strings.Trim(u.EscapedPath(), "/")
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if base == "" {
		return "download"
	}
	return base
}
