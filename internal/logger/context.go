package logger

import "context"

// scope holds the request-scoped values copied onto every log record.
type scope struct {
	requestID string
	reviewer  string
}

type scopeKey struct{}

func scopeFrom(ctx context.Context) scope {
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

// WithRequestID returns a context whose log records carry request_id.
func WithRequestID(ctx context.Context, id string) context.Context {
	s := scopeFrom(ctx)
	s.requestID = id
	return context.WithValue(ctx, scopeKey{}, s)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	return scopeFrom(ctx).requestID
}

// WithReviewer returns a context whose log records carry the authenticated
// reviewer's name.
func WithReviewer(ctx context.Context, name string) context.Context {
	s := scopeFrom(ctx)
	s.reviewer = name
	return context.WithValue(ctx, scopeKey{}, s)
}

// Reviewer returns the reviewer stored in ctx, or "".
func Reviewer(ctx context.Context) string {
	return scopeFrom(ctx).reviewer
}
