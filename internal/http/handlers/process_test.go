package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uomlabs/uom/internal/gate"
	"github.com/uomlabs/uom/internal/orchestrator"
)

func newProcessRouter(t *testing.T) (*orchestrator.Orchestrator, http.Handler) {
	t.Helper()

	orch := newTestOrchestrator(t)
	router, _ := newTestAPI(t)
	NewProcessHandler(newTestGate(t, orch), discardLogger()).RegisterRoutes(router)
	return orch, router
}

func TestProcessHandler_FileUploadCompletes(t *testing.T) {
	_, router := newProcessRouter(t)

	body, contentType := multipartUpload(t, "report.pdf", []byte("%PDF-1.4 test"), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/process/sandbox-first", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var outcome gate.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, gate.MethodOrchestrated, outcome.ProcessingMethod)
	require.NotNil(t, outcome.Job)
	assert.Equal(t, orchestrator.StatusCompleted, outcome.Job.Status)
	assert.Equal(t, 100, outcome.Job.Progress)
}

func TestProcessHandler_MissingFilePart(t *testing.T) {
	_, router := newProcessRouter(t)

	body, contentType := multipartUpload(t, "", nil, map[string]string{"async": "true"})
	req := httptest.NewRequest(http.MethodPost, "/v1/process/sandbox-first", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "VALIDATION_FAILED", errResp.Error.Code)
	assert.Equal(t, "file", errResp.Error.Field)
}

func TestProcessHandler_UnknownURLRejected(t *testing.T) {
	_, router := newProcessRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/process/sandbox-first",
		strings.NewReader(`{"url":"ftp://host/file.bin"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "VALIDATION_FAILED", errResp.Error.Code)
}

func TestProcessHandler_AsyncURLReturns202(t *testing.T) {
	_, router := newProcessRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/process/sandbox-first",
		strings.NewReader(`{"url":"https://example.com/report.pdf","async":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var outcome gate.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.NotEmpty(t, outcome.JobID)
	assert.Equal(t, "/v1/jobs/"+outcome.JobID, outcome.PollURL)
}
