package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uomlabs/uom/pkg/httpclient"
)

func TestHealthHandler_Healthy(t *testing.T) {
	router, api := newTestAPI(t)
	NewHealthHandler(nil, nil, discardLogger()).Register(api)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Version)
	assert.NotEmpty(t, resp.Uptime)
}

func TestHealthHandler_DegradedOnOpenBreaker(t *testing.T) {
	manager := httpclient.NewCircuitBreakerManager()
	cb := manager.GetOrCreate("mageagent", httpclient.BreakerConfig{FailureThreshold: 1})
	cb.RecordFailure()
	require.Equal(t, httpclient.CircuitOpen, cb.State())

	router, api := newTestAPI(t)
	NewHealthHandler(nil, manager, discardLogger()).Register(api)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
}
