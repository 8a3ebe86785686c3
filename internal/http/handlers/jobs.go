package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/uomlabs/uom/internal/orchestrator"
)

// JobsHandler serves job status lookups.
type JobsHandler struct {
	orch *orchestrator.Orchestrator
}

// NewJobsHandler creates a jobs handler.
func NewJobsHandler(o *orchestrator.Orchestrator) *JobsHandler {
	return &JobsHandler{orch: o}
}

// GetJobInput is the input for retrieving a job.
type GetJobInput struct {
	JobID string `path:"jobId" doc:"Job identifier"`
}

// GetJobOutput is the response for retrieving a job.
type GetJobOutput struct {
	Body orchestrator.Response
}

// Register registers the job routes with the API.
func (h *JobsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/v1/jobs/{jobId}",
		Summary:     "Get job status",
		Description: "Returns the current snapshot of a processing job, including progress and stage log.",
		Tags:        []string{"Jobs"},
	}, h.GetJob)
}

// GetJob returns a job snapshot by ID.
func (h *JobsHandler) GetJob(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	resp, err := h.orch.GetJob(input.JobID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrJobNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		return nil, huma.Error500InternalServerError("failed to load job", err)
	}
	return &GetJobOutput{Body: *resp}, nil
}
