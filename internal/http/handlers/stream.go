package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/uomlabs/uom/internal/orchestrator"
)

// defaultHeartbeat keeps idle SSE connections alive through proxies.
const defaultHeartbeat = 30 * time.Second

// StreamHandler serves live job events over Server-Sent Events. It speaks raw
// chi because SSE needs direct flusher access.
type StreamHandler struct {
	orch      *orchestrator.Orchestrator
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewStreamHandler creates an SSE stream handler.
func NewStreamHandler(o *orchestrator.Orchestrator, heartbeat time.Duration, logger *slog.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{orch: o, heartbeat: heartbeat, logger: logger}
}

// RegisterRoutes registers the stream route on the router.
func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/jobs/{jobId}/stream", h.handleStream)
}

// terminalEvents end the stream after delivery.
var terminalEvents = map[string]bool{
	orchestrator.EventComplete:     true,
	orchestrator.EventBlocked:      true,
	orchestrator.EventReviewQueued: true,
	orchestrator.EventError:        true,
}

func (h *StreamHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Code:    "STREAMING_UNSUPPORTED",
			Message: "response writer does not support streaming",
		}})
		return
	}

	events, cancel, err := h.orch.Subscribe(jobID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{
				Code:    "JOB_NOT_FOUND",
				Message: "job not found",
			}})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Code:    "INTERNAL_ERROR",
			Message: "failed to subscribe",
		}})
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			h.writeEvent(w, ev)
			flusher.Flush()
			if terminalEvents[ev.Name] {
				return
			}
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *StreamHandler) writeEvent(w http.ResponseWriter, ev orchestrator.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshaling sse event", slog.String("event", ev.Name), slog.String("error", err.Error()))
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
}
