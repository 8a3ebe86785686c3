package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/uomlabs/uom/internal/models"
	"github.com/uomlabs/uom/internal/pattern"
)

// PatternsHandler serves the learned-pattern admin surface.
type PatternsHandler struct {
	patterns *pattern.Service
}

// NewPatternsHandler creates a patterns handler.
func NewPatternsHandler(ps *pattern.Service) *PatternsHandler {
	return &PatternsHandler{patterns: ps}
}

// ListPatternsOutput is the response for listing patterns.
type ListPatternsOutput struct {
	Body struct {
		Patterns []*models.ProcessingPattern `json:"patterns"`
		Count    int                         `json:"count"`
	}
}

// GetPatternInput identifies one pattern.
type GetPatternInput struct {
	ID string `path:"id" doc:"Pattern ULID"`
}

// GetPatternOutput is the response for retrieving a pattern.
type GetPatternOutput struct {
	Body models.ProcessingPattern
}

// Register registers the pattern routes with the API.
func (h *PatternsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-patterns",
		Method:      http.MethodGet,
		Path:        "/v1/patterns",
		Summary:     "List learned processing patterns",
		Tags:        []string{"Patterns"},
	}, h.ListPatterns)

	huma.Register(api, huma.Operation{
		OperationID: "get-pattern",
		Method:      http.MethodGet,
		Path:        "/v1/patterns/{id}",
		Summary:     "Get a learned pattern",
		Tags:        []string{"Patterns"},
	}, h.GetPattern)

	huma.Register(api, huma.Operation{
		OperationID:   "retire-pattern",
		Method:        http.MethodDelete,
		Path:          "/v1/patterns/{id}",
		Summary:       "Retire a learned pattern",
		Description:   "Removes the pattern from the cache. Future decisions for its fingerprint fall back to the engine.",
		Tags:          []string{"Patterns"},
		DefaultStatus: http.StatusNoContent,
	}, h.RetirePattern)
}

// ListPatterns returns every stored pattern.
func (h *PatternsHandler) ListPatterns(ctx context.Context, _ *struct{}) (*ListPatternsOutput, error) {
	patterns, err := h.patterns.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list patterns", err)
	}
	out := &ListPatternsOutput{}
	out.Body.Patterns = patterns
	out.Body.Count = len(patterns)
	return out, nil
}

// GetPattern returns one pattern by ID.
func (h *PatternsHandler) GetPattern(ctx context.Context, input *GetPatternInput) (*GetPatternOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid pattern id")
	}
	p, err := h.patterns.Get(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load pattern", err)
	}
	if p == nil {
		return nil, huma.Error404NotFound("pattern not found")
	}
	return &GetPatternOutput{Body: *p}, nil
}

// RetirePattern deletes one pattern by ID.
func (h *PatternsHandler) RetirePattern(ctx context.Context, input *GetPatternInput) (*struct{}, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid pattern id")
	}
	if err := h.patterns.Retire(ctx, id); err != nil {
		return nil, huma.Error500InternalServerError("failed to retire pattern", err)
	}
	return &struct{}{}, nil
}
