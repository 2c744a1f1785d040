package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/logger"
)

// Reviewer credentials are presented in these headers.
const (
	HeaderReviewer    = "X-Reviewer"
	HeaderReviewerKey = "X-Reviewer-Key"
)

// Authenticator verifies a reviewer's key.
type Authenticator interface {
	Authenticate(name, key string) error
}

// WithReviewer returns a context carrying the authenticated reviewer name.
// Log records written with the context carry it too.
func WithReviewer(ctx context.Context, name string) context.Context {
	return logger.WithReviewer(ctx, name)
}

// ReviewerFromContext returns the authenticated reviewer, or "".
func ReviewerFromContext(ctx context.Context) string {
	return logger.Reviewer(ctx)
}

// RequireReviewer rejects requests without valid reviewer credentials.
func RequireReviewer(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := r.Header.Get(HeaderReviewer)
			key := r.Header.Get(HeaderReviewerKey)
			if name == "" || key == "" {
				unauthorized(w, "reviewer credentials required")
				return
			}
			if err := auth.Authenticate(name, key); err != nil {
				if !errors.Is(err, domain.ErrUnauthorized) {
					slog.ErrorContext(r.Context(), "reviewer authentication failed", "error", err)
				}
				unauthorized(w, "invalid reviewer credentials")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithReviewer(r.Context(), name)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Reviewer realm="phasegate"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// OptionalReviewer attaches the reviewer to the context when valid
// credentials are present and passes every request through.
func OptionalReviewer(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := r.Header.Get(HeaderReviewer)
			key := r.Header.Get(HeaderReviewerKey)
			if name != "" && key != "" && auth.Authenticate(name, key) == nil {
				r = r.WithContext(WithReviewer(r.Context(), name))
			}
			next.ServeHTTP(w, r)
		})
	}
}
