package clients

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uomlabs/uom/internal/config"
	"github.com/uomlabs/uom/pkg/httpclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServiceConfig(url string) config.ServiceConfig {
	return config.ServiceConfig{
		URL:              url,
		Timeout:          5 * time.Second,
		PollInterval:     10 * time.Millisecond,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

func newTestScanService(t *testing.T, url string) *scanService {
	t.Helper()
	sc := newServiceClient("testsvc", testServiceConfig(url), "test-key", httpclient.NewCircuitBreakerManager(), testLogger())
	return newScanService(sc, "/v1/analyze")
}

func TestPollScan_CompletesAfterPolls(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/analyze":
			assert.Equal(t, "test-key", r.Header.Get(HeaderAPIKey))
			assert.Equal(t, "uom", r.Header.Get(HeaderInternalService))
			_ = json.NewEncoder(w).Encode(SubmitResponse{JobID: "rj-1", Status: ScanQueued})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/jobs/rj-1":
			resp := StatusResponse{Status: ScanRunning, Progress: 0.5}
			if polls.Add(1) >= 3 {
				resp = StatusResponse{Status: ScanCompleted, Result: json.RawMessage(`{"ok":true}`)}
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc := newTestScanService(t, srv.URL)
	result, err := PollScan(context.Background(), svc, map[string]string{"file": "a.bin"}, 10*time.Millisecond, 5*time.Second, testLogger())
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestPollScan_RemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_ = json.NewEncoder(w).Encode(SubmitResponse{JobID: "rj-2", Status: ScanQueued})
			return
		}
		_ = json.NewEncoder(w).Encode(StatusResponse{Status: ScanFailed, Error: "yara engine crashed"})
	}))
	defer srv.Close()

	svc := newTestScanService(t, srv.URL)
	_, err := PollScan(context.Background(), svc, nil, 10*time.Millisecond, 5*time.Second, testLogger())
	require.ErrorIs(t, err, ErrRemoteJobFailed)
	assert.Contains(t, err.Error(), "yara engine crashed")
}

func TestPollScan_TimeoutCancelsRemoteJob(t *testing.T) {
	var cancelled atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/analyze":
			_ = json.NewEncoder(w).Encode(SubmitResponse{JobID: "rj-3", Status: ScanQueued})
		case r.URL.Path == "/v1/jobs/rj-3/cancel":
			cancelled.Store(true)
			_ = json.NewEncoder(w).Encode(map[string]bool{"cancelled": true})
		default:
			_ = json.NewEncoder(w).Encode(StatusResponse{Status: ScanRunning})
		}
	}))
	defer srv.Close()

	svc := newTestScanService(t, srv.URL)
	_, err := PollScan(context.Background(), svc, nil, 10*time.Millisecond, 30*time.Millisecond, testLogger())
	require.ErrorIs(t, err, ErrPollTimeout)
	assert.True(t, cancelled.Load())
}

func TestPollAnalyze_SyncResult(t *testing.T) {
	sc := newServiceClient("testsvc", testServiceConfig("http://unused"), "", httpclient.NewCircuitBreakerManager(), testLogger())

	resp := &AnalyzeResponse{Result: json.RawMessage(`{"answer":42}`)}
	result, err := PollAnalyze(context.Background(), sc, resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":42}`, string(result))
}

func TestPollAnalyze_PollURL(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tasks/t-1", r.URL.Path)
		if polls.Add(1) < 2 {
			_ = json.NewEncoder(w).Encode(AnalyzeResponse{Status: "running"})
			return
		}
		_ = json.NewEncoder(w).Encode(AnalyzeResponse{Status: "completed", Result: json.RawMessage(`{"done":true}`)})
	}))
	defer srv.Close()

	sc := newServiceClient("testsvc", testServiceConfig(srv.URL), "", httpclient.NewCircuitBreakerManager(), testLogger())

	resp := &AnalyzeResponse{PollURL: srv.URL + "/v1/tasks/t-1", TaskID: "t-1"}
	result, err := PollAnalyze(context.Background(), sc, resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"done":true}`, string(result))
}
