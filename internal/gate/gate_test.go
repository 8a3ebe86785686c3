package gate

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/uomlabs/uom/internal/clients"
	"github.com/uomlabs/uom/internal/config"
	"github.com/uomlabs/uom/internal/decision"
	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/internal/models"
	"github.com/uomlabs/uom/internal/orchestrator"
	"github.com/uomlabs/uom/internal/pattern"
	"github.com/uomlabs/uom/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGateConfig() config.GateConfig {
	return config.GateConfig{MaxArchiveEntries: 100, MaxFileSizeBytes: 64 * 1024 * 1024}
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls []orchestrator.Request
}

func (f *fakeProcessor) Process(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	status := orchestrator.StatusCompleted
	if req.Async {
		status = orchestrator.StatusPending
	}
	return &orchestrator.Response{
		JobID:  models.NewULID().String(),
		Status: status,
		Result: &domain.ProcessingResult{Success: true},
	}, nil
}

func (f *fakeProcessor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeVideo struct{ calls int }

func (f *fakeVideo) SubmitYouTube(ctx context.Context, url, correlationID string) (*clients.SubmitResponse, string, error) {
	f.calls++
	return &clients.SubmitResponse{JobID: "vid-1", Status: clients.ScanQueued}, "http://videoagent/v1/jobs/vid-1", nil
}

type fakeGitHub struct{ lastURL string }

func (f *fakeGitHub) ProcessRepo(ctx context.Context, repoURL string, forceResync bool, correlationID string, timeout time.Duration) (*clients.RepoResult, error) {
	f.lastURL = repoURL
	return &clients.RepoResult{ConnectionID: "conn-1", IsNewConnection: true, FilesIngested: 42}, nil
}

type fakeCyber struct {
	verdict *domain.SandboxAnalysisResult
	calls   int
}

func (f *fakeCyber) QuickAnalyze(ctx context.Context, req clients.SandboxRequest) (*domain.SandboxAnalysisResult, error) {
	f.calls++
	v := *f.verdict
	v.Normalize()
	return &v, nil
}

type fakeExecutor struct {
	result *pattern.ExecutionResult
	err    error
	calls  int
}

func (f *fakeExecutor) Execute(ctx context.Context, p *models.ProcessingPattern, file domain.FileContext, correlationID string) (*pattern.ExecutionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newGatePatterns(t *testing.T) *pattern.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ProcessingPattern{}))
	return pattern.NewService(repository.NewPatternRepository(db), pattern.DefaultConfig(), discardLogger())
}

func TestGate_PlainFileGoesToOrchestrator(t *testing.T) {
	orch := &fakeProcessor{}
	g := New(orch, nil, nil, nil, nil, nil, testGateConfig(), discardLogger())

	outcome, err := g.SubmitFile(context.Background(), FileSubmission{
		Filename: "report.pdf",
		Content:  []byte("%PDF-1.4 hello"),
	})
	require.NoError(t, err)

	assert.Equal(t, MethodOrchestrated, outcome.ProcessingMethod)
	assert.Equal(t, 200, outcome.StatusCode)
	require.Equal(t, 1, orch.callCount())
	assert.Equal(t, "application/pdf", orch.calls[0].File.MimeType)
}

func TestGate_ValidationFailures(t *testing.T) {
	g := New(&fakeProcessor{}, nil, nil, nil, nil, nil, testGateConfig(), discardLogger())

	tests := []struct {
		name string
		sub  FileSubmission
	}{
		{"empty filename", FileSubmission{Content: []byte("x")}},
		{"path traversal", FileSubmission{Filename: "../etc/passwd", Content: []byte("x")}},
		{"empty content", FileSubmission{Filename: "a.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.SubmitFile(context.Background(), tt.sub)
			var verr models.ErrValidation
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestGate_MaliciousBinaryBlocked(t *testing.T) {
	orch := &fakeProcessor{}
	cyber := &fakeCyber{verdict: &domain.SandboxAnalysisResult{
		Security: domain.SecurityResult{
			ThreatLevel: domain.ThreatCritical,
			IsMalicious: true,
			YaraRules:   []string{"win_trojan_generic"},
		},
	}}
	g := New(orch, nil, nil, cyber, nil, nil, testGateConfig(), discardLogger())

	// MZ header: detected as a Windows executable.
	content := append([]byte("MZ"), make([]byte, 128)...)
	outcome, err := g.SubmitFile(context.Background(), FileSubmission{
		Filename: "installer.exe",
		Content:  content,
	})
	require.NoError(t, err)

	assert.Equal(t, MethodBlocked, outcome.ProcessingMethod)
	assert.Equal(t, 403, outcome.StatusCode)
	require.NotNil(t, outcome.Blocked)
	assert.Equal(t, BlockedCode, outcome.Blocked.Code)
	assert.Equal(t, 1, cyber.calls)
	assert.Zero(t, orch.callCount(), "blocked files must not reach the orchestrator")
}

func TestGate_WeaklySuspiciousBinaryProceeds(t *testing.T) {
	orch := &fakeProcessor{}
	cyber := &fakeCyber{verdict: &domain.SandboxAnalysisResult{
		Security: domain.SecurityResult{ThreatLevel: domain.ThreatLow},
	}}
	g := New(orch, nil, nil, cyber, nil, nil, testGateConfig(), discardLogger())

	content := append([]byte("MZ"), make([]byte, 128)...)
	outcome, err := g.SubmitFile(context.Background(), FileSubmission{
		Filename: "tool.exe",
		Content:  content,
	})
	require.NoError(t, err)

	assert.Equal(t, MethodOrchestrated, outcome.ProcessingMethod)
	assert.Equal(t, 1, orch.callCount())
}

func TestGate_ArchiveFanOut(t *testing.T) {
	orch := &fakeProcessor{}
	g := New(orch, nil, nil, nil, nil, nil, testGateConfig(), discardLogger())

	data := buildZip(t, map[string]string{
		"one.pdf":   "%PDF-1.4 one",
		"two.pdf":   "%PDF-1.4 two",
		"three.pdf": "%PDF-1.4 three",
	})

	outcome, err := g.SubmitFile(context.Background(), FileSubmission{
		Filename: "bundle.zip",
		Content:  data,
	})
	require.NoError(t, err)

	assert.Equal(t, MethodArchiveFanout, outcome.ProcessingMethod)
	require.NotNil(t, outcome.Archive)
	assert.Equal(t, 3, outcome.Archive.TotalFiles)
	require.Len(t, outcome.Archive.ProcessedFiles, 3)
	for _, child := range outcome.Archive.ProcessedFiles {
		assert.True(t, child.Success)
		assert.NotEmpty(t, child.JobID)
	}
	// One job per member, none for the archive itself.
	assert.Equal(t, 3, orch.callCount())
}

func TestGate_YouTubeShortCircuit(t *testing.T) {
	orch := &fakeProcessor{}
	video := &fakeVideo{}
	g := New(orch, video, nil, nil, nil, nil, testGateConfig(), discardLogger())

	outcome, err := g.SubmitURL(context.Background(), URLSubmission{
		URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	})
	require.NoError(t, err)

	assert.Equal(t, MethodYouTube, outcome.ProcessingMethod)
	assert.Equal(t, 202, outcome.StatusCode)
	assert.Equal(t, "vid-1", outcome.JobID)
	assert.NotEmpty(t, outcome.PollURL)
	assert.Equal(t, 1, video.calls)
	assert.Zero(t, orch.callCount())
}

func TestGate_GitHubRepoShortCircuit(t *testing.T) {
	orch := &fakeProcessor{}
	github := &fakeGitHub{}
	g := New(orch, nil, github, nil, nil, nil, testGateConfig(), discardLogger())

	outcome, err := g.SubmitURL(context.Background(), URLSubmission{
		URL: "https://github.com/acme/widgets",
	})
	require.NoError(t, err)

	assert.Equal(t, MethodGitHubRepo, outcome.ProcessingMethod)
	require.NotNil(t, outcome.Job)
	assert.Equal(t, orchestrator.StatusCompleted, outcome.Job.Status)
	assert.Equal(t, "https://github.com/acme/widgets", github.lastURL)
	assert.Zero(t, orch.callCount())
}

func TestGate_GoogleDriveRewrittenToDirectDownload(t *testing.T) {
	orch := &fakeProcessor{}
	g := New(orch, nil, nil, nil, nil, nil, testGateConfig(), discardLogger())

	outcome, err := g.SubmitURL(context.Background(), URLSubmission{
		URL: "https://drive.google.com/file/d/1AbCdEf/view",
	})
	require.NoError(t, err)

	assert.Equal(t, MethodOrchestrated, outcome.ProcessingMethod)
	require.Equal(t, 1, orch.callCount())
	assert.Equal(t, "https://drive.google.com/uc?export=download&id=1AbCdEf&confirm=t", orch.calls[0].File.OriginalURL)
}

func TestGate_CachedPatternExecution(t *testing.T) {
	patterns := newGatePatterns(t)
	orch := &fakeProcessor{}

	// A prior successful MageAgent run stored an executable pattern for this
	// fingerprint.
	file := domain.FileContext{
		Filename: "floorplan.dwg",
		MimeType: "application/octet-stream",
		FileSize: 1024,
	}
	fp := pattern.FingerprintFor(file, domain.PointProcessingRoute)
	_, err := patterns.StorePattern(context.Background(), fp, pattern.Body{
		ProcessingCode: "import ezdxf",
		Language:       models.LanguagePython,
	})
	require.NoError(t, err)

	executor := &fakeExecutor{result: &pattern.ExecutionResult{
		Success:          true,
		ExtractedContent: "cad entities",
		ProcessingMethod: "cached_pattern_execution",
		ExecutionTimeMs:  900,
		SpeedupFactor:    2.2,
	}}
	g := New(orch, nil, nil, nil, patterns, executor, testGateConfig(), discardLogger())
	g.detect = func([]byte) string { return "application/octet-stream" }

	outcome, err := g.SubmitFile(context.Background(), FileSubmission{
		Filename: "floorplan.dwg",
		Content:  []byte("AC1027 dwg bytes"),
	})
	require.NoError(t, err)

	assert.Equal(t, MethodCachedPattern, outcome.ProcessingMethod)
	require.NotNil(t, outcome.Pattern)
	assert.True(t, outcome.Pattern.Success)
	assert.InDelta(t, 2.2, outcome.Pattern.SpeedupFactor, 1e-9)
	assert.Equal(t, 1, executor.calls)
	assert.Zero(t, orch.callCount(), "cache hit short-circuits the pipeline")
}

type recipeDispatcher struct {
	mu     sync.Mutex
	calls  int
	result *domain.ProcessingResult
}

func (f *recipeDispatcher) Dispatch(ctx context.Context, route domain.RouteDecision, file domain.FileContext, correlationID string) (*domain.ProcessingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	result := *f.result
	return &result, nil
}

func (f *recipeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestGate_SecondUploadExecutesLearnedPattern(t *testing.T) {
	patterns := newGatePatterns(t)
	engine := decision.NewEngine(patterns, nil, nil, decision.Config{}, discardLogger())
	dispatcher := &recipeDispatcher{result: &domain.ProcessingResult{
		Success:          true,
		ExtractedContent: "cad entities",
		Pattern: &domain.GeneratedPattern{
			Code:     "import ezdxf\nprint(ezdxf.readfile(path))",
			Language: "python",
			Packages: []string{"ezdxf"},
		},
	}}
	orch := orchestrator.New(engine, nil, dispatcher, nil, config.OrchestratorConfig{
		MaxConcurrentJobs: 10,
		JobTimeout:        5 * time.Second,
		SandboxTimeout:    time.Second,
		JanitorInterval:   time.Hour,
	}, discardLogger())

	executor := &fakeExecutor{result: &pattern.ExecutionResult{
		Success:          true,
		ExtractedContent: "cad entities",
		ProcessingMethod: "cached_pattern_execution",
	}}
	g := New(orch, nil, nil, nil, patterns, executor, testGateConfig(), discardLogger())
	g.detect = func([]byte) string { return "application/octet-stream" }

	content := []byte("AC1027 dwg bytes")

	// First upload of a novel type: no cached pattern yet, so the file runs
	// the full pipeline, and the processor's generated recipe is cached
	// under its fingerprint.
	first, err := g.SubmitFile(context.Background(), FileSubmission{
		Filename: "floorplan.dwg",
		Content:  content,
	})
	require.NoError(t, err)
	assert.Equal(t, MethodOrchestrated, first.ProcessingMethod)
	require.Equal(t, 1, dispatcher.callCount())

	// Second upload of the same shape executes the cached pattern directly.
	second, err := g.SubmitFile(context.Background(), FileSubmission{
		Filename: "site-survey.dwg",
		Content:  content,
	})
	require.NoError(t, err)
	assert.Equal(t, MethodCachedPattern, second.ProcessingMethod)
	assert.Equal(t, 1, executor.calls)
	assert.Equal(t, 1, dispatcher.callCount(), "cache hit must not re-enter the pipeline")
}

func TestGate_FailedPatternFallsThrough(t *testing.T) {
	patterns := newGatePatterns(t)
	orch := &fakeProcessor{}

	file := domain.FileContext{
		Filename: "scan.xyz",
		MimeType: "application/octet-stream",
		FileSize: 1024,
	}
	fp := pattern.FingerprintFor(file, domain.PointProcessingRoute)
	_, err := patterns.StorePattern(context.Background(), fp, pattern.Body{
		ProcessingCode: "parse_xyz()",
		Language:       models.LanguagePython,
	})
	require.NoError(t, err)

	executor := &fakeExecutor{result: &pattern.ExecutionResult{Success: false, Error: "parser crashed"}}
	g := New(orch, nil, nil, nil, patterns, executor, testGateConfig(), discardLogger())
	g.detect = func([]byte) string { return "application/octet-stream" }

	outcome, err := g.SubmitFile(context.Background(), FileSubmission{
		Filename: "scan.xyz",
		Content:  []byte("0.1 0.2 0.3"),
	})
	require.NoError(t, err)

	assert.Equal(t, MethodOrchestrated, outcome.ProcessingMethod)
	assert.Equal(t, 1, executor.calls)
	assert.Equal(t, 1, orch.callCount(), "failed pattern execution falls through to full processing")
}

func TestGate_UnknownURLRejected(t *testing.T) {
	g := New(&fakeProcessor{}, nil, nil, nil, nil, nil, testGateConfig(), discardLogger())

	_, err := g.SubmitURL(context.Background(), URLSubmission{URL: "ftp://example.com/thing"})
	var verr models.ErrValidation
	assert.ErrorAs(t, err, &verr)
}
