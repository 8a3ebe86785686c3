package decision

import (
	"context"
	"encoding/json"

	"github.com/uomlabs/uom/internal/clients"
	"github.com/uomlabs/uom/internal/domain"
)

// MageBackend answers decision points through the MageAgent orchestrate
// endpoint. The agent receives the full decision request as task context and
// must answer with the backend envelope shape.
type MageBackend struct {
	agent *clients.MageAgent
}

// NewMageBackend wraps a MageAgent client as a decision backend.
func NewMageBackend(agent *clients.MageAgent) *MageBackend {
	return &MageBackend{agent: agent}
}

// Decide implements Backend.
func (b *MageBackend) Decide(ctx context.Context, point domain.DecisionPoint, req domain.DecisionRequest) (json.RawMessage, error) {
	taskCtx := map[string]any{
		"decisionPoint": string(point),
		"file":          req.File,
		"user":          req.User,
	}
	if req.OrgPolicies != nil {
		taskCtx["orgPolicies"] = req.OrgPolicies
	}
	if req.SandboxResult != nil {
		taskCtx["sandboxResult"] = req.SandboxResult
	}
	if point == domain.PointPostProcessing {
		taskCtx["processingOk"] = req.ProcessingOK
	}

	return b.agent.Orchestrate(ctx, clients.OrchestrateRequest{
		Task:          "decide_" + string(point),
		Context:       taskCtx,
		CorrelationID: req.CorrelationID,
	})
}
