// Package handlers contains the HTTP API handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/uomlabs/uom/internal/domain"
	"github.com/uomlabs/uom/internal/gate"
	"github.com/uomlabs/uom/internal/models"
	"github.com/uomlabs/uom/internal/orchestrator"
)

// maxMultipartMemory bounds the in-memory portion of multipart parsing.
// Larger uploads spill to temp files.
const maxMultipartMemory = 32 << 20

// ProcessHandler serves the sandbox-first submission endpoint. It accepts
// either a multipart file upload or a JSON body referencing a URL, and speaks
// raw chi because file uploads and gate status codes do not map cleanly onto
// a generated schema.
type ProcessHandler struct {
	gate   *gate.Gate
	logger *slog.Logger
}

// NewProcessHandler creates a process submission handler.
func NewProcessHandler(g *gate.Gate, logger *slog.Logger) *ProcessHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessHandler{gate: g, logger: logger}
}

// RegisterRoutes registers the process routes on the router.
func (h *ProcessHandler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/process/sandbox-first", h.handleProcess)
}

// urlRequest is the JSON body for URL submissions.
type urlRequest struct {
	URL         string                   `json:"url"`
	Async       bool                     `json:"async"`
	User        domain.UserContext       `json:"user"`
	OrgPolicies domain.OrgSecurityPolicy `json:"orgPolicies"`
}

func (h *ProcessHandler) handleProcess(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")

	var (
		outcome *gate.Outcome
		err     error
	)
	if strings.HasPrefix(contentType, "multipart/form-data") {
		outcome, err = h.submitFile(r)
	} else {
		outcome, err = h.submitURL(r)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := outcome.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, outcome)
}

func (h *ProcessHandler) submitFile(r *http.Request) (*gate.Outcome, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, models.ErrValidation{Field: "file", Message: "invalid multipart body"}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, models.ErrValidation{Field: "file", Message: "file part is required"}
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, models.ErrValidation{Field: "file", Message: "reading upload failed"}
	}

	sub := gate.FileSubmission{
		Filename:         header.Filename,
		DeclaredMimeType: header.Header.Get("Content-Type"),
		Content:          content,
		Async:            r.FormValue("async") == "true",
		User: domain.UserContext{
			UserID: r.FormValue("userId"),
			OrgID:  r.FormValue("orgId"),
		},
	}
	if raw := r.FormValue("orgPolicies"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sub.OrgPolicies); err != nil {
			return nil, models.ErrValidation{Field: "orgPolicies", Message: "orgPolicies must be a JSON object"}
		}
	}

	return h.gate.SubmitFile(r.Context(), sub)
}

func (h *ProcessHandler) submitURL(r *http.Request) (*gate.Outcome, error) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, models.ErrValidation{Field: "body", Message: "invalid JSON body"}
	}

	return h.gate.SubmitURL(r.Context(), gate.URLSubmission{
		URL:         req.URL,
		User:        req.User,
		OrgPolicies: req.OrgPolicies,
		Async:       req.Async,
	})
}

// errorBody is the JSON error envelope for the raw chi endpoints.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (h *ProcessHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validation models.ErrValidation
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    "VALIDATION_FAILED",
			Message: validation.Message,
			Field:   validation.Field,
		}})
	case errors.Is(err, orchestrator.ErrTooManyJobs):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
			Code:    "TOO_MANY_JOBS",
			Message: "orchestrator at capacity, retry later",
		}})
	case errors.Is(err, gate.ErrTooManyEntries):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    "ARCHIVE_TOO_LARGE",
			Message: err.Error(),
		}})
	default:
		h.logger.ErrorContext(r.Context(), "process submission failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Code:    "INTERNAL_ERROR",
			Message: "processing failed",
		}})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
