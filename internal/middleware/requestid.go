// Package middleware provides HTTP middleware for PhaseGate.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/phasegate/internal/logger"
)

const (
	headerRequestID    = "X-Request-ID"
	maxRequestIDLength = 128
)

// RequestID takes X-Request-ID from the request or mints a UUID, stores it in
// the context for logging and audit entries, and echoes it on the response.
// Oversized inbound ids are replaced.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
