package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/uomlabs/uom/pkg/httpclient"
)

// BreakersHandler serves the circuit breaker admin surface.
type BreakersHandler struct {
	manager *httpclient.CircuitBreakerManager
}

// NewBreakersHandler creates a breakers handler.
func NewBreakersHandler(m *httpclient.CircuitBreakerManager) *BreakersHandler {
	return &BreakersHandler{manager: m}
}

// ListBreakersOutput is the response for listing breaker states.
type ListBreakersOutput struct {
	Body struct {
		Breakers map[string]httpclient.BreakerStats `json:"breakers"`
	}
}

// ResetBreakerInput identifies one breaker by service name.
type ResetBreakerInput struct {
	Service string `path:"service" doc:"Downstream service name"`
}

// ResetBreakerOutput is the response after a manual reset.
type ResetBreakerOutput struct {
	Body struct {
		Service string `json:"service"`
		State   string `json:"state"`
	}
}

// Register registers the breaker routes with the API.
func (h *BreakersHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-breakers",
		Method:      http.MethodGet,
		Path:        "/v1/breakers",
		Summary:     "List circuit breaker states",
		Tags:        []string{"Breakers"},
	}, h.ListBreakers)

	huma.Register(api, huma.Operation{
		OperationID: "reset-breaker",
		Method:      http.MethodPost,
		Path:        "/v1/breakers/{service}/reset",
		Summary:     "Reset a circuit breaker",
		Description: "Forces the breaker closed and clears its counters.",
		Tags:        []string{"Breakers"},
	}, h.ResetBreaker)
}

// ListBreakers returns the stats of every known breaker.
func (h *BreakersHandler) ListBreakers(ctx context.Context, _ *struct{}) (*ListBreakersOutput, error) {
	out := &ListBreakersOutput{}
	out.Body.Breakers = h.manager.AllStats()
	return out, nil
}

// ResetBreaker forces one breaker closed.
func (h *BreakersHandler) ResetBreaker(ctx context.Context, input *ResetBreakerInput) (*ResetBreakerOutput, error) {
	if !h.manager.Reset(input.Service) {
		return nil, huma.Error404NotFound("no breaker for service")
	}
	out := &ResetBreakerOutput{}
	out.Body.Service = input.Service
	out.Body.State = httpclient.CircuitClosed.String()
	return out, nil
}
