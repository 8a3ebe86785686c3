package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/uomlabs/uom/internal/orchestrator"
)

// StatsHandler serves orchestrator statistics.
type StatsHandler struct {
	orch *orchestrator.Orchestrator
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(o *orchestrator.Orchestrator) *StatsHandler {
	return &StatsHandler{orch: o}
}

// StatsOutput is the response for orchestrator statistics.
type StatsOutput struct {
	Body orchestrator.Stats
}

// Register registers the stats route with the API.
func (h *StatsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-orchestrator-stats",
		Method:      http.MethodGet,
		Path:        "/v1/orchestrator/stats",
		Summary:     "Get orchestrator statistics",
		Tags:        []string{"Orchestrator"},
	}, h.GetStats)
}

// GetStats returns job counts by status.
func (h *StatsHandler) GetStats(ctx context.Context, _ *struct{}) (*StatsOutput, error) {
	return &StatsOutput{Body: h.orch.Stats()}, nil
}
