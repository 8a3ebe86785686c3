package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/uomlabs/uom/internal/observability"
)

// RequestIDHeader is the HTTP header for request ID.
const RequestIDHeader = "X-Request-ID"

// CorrelationIDHeader is the HTTP header for cross-service correlation.
const CorrelationIDHeader = "X-Correlation-ID"

// RequestID injects request and correlation IDs into the context. Incoming
// header values are trusted; absent ones are generated. The correlation ID
// propagates onto every downstream service call.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		correlationID := r.Header.Get(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = requestID
		}

		w.Header().Set(RequestIDHeader, requestID)
		w.Header().Set(CorrelationIDHeader, correlationID)

		ctx := observability.ContextWithRequestID(r.Context(), requestID)
		ctx = observability.ContextWithCorrelationID(ctx, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
