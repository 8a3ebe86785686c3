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

func TestBreakersHandler_ListAndReset(t *testing.T) {
	manager := httpclient.NewCircuitBreakerManager()
	cb := manager.GetOrCreate("cyberagent", httpclient.BreakerConfig{FailureThreshold: 3})
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, httpclient.CircuitOpen, cb.State())

	router, api := newTestAPI(t)
	NewBreakersHandler(manager).Register(api)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/breakers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Breakers map[string]httpclient.BreakerStats `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Contains(t, list.Breakers, "cyberagent")
	assert.Equal(t, httpclient.CircuitOpen, list.Breakers["cyberagent"].State)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/breakers/cyberagent/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, httpclient.CircuitClosed, cb.State())
}

func TestBreakersHandler_ResetUnknownService(t *testing.T) {
	router, api := newTestAPI(t)
	NewBreakersHandler(httpclient.NewCircuitBreakerManager()).Register(api)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/breakers/ghost/reset", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
