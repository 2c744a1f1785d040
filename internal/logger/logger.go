// Package logger provides structured logging setup for PhaseGate.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/Strob0t/phasegate/internal/config"
)

// Async buffer sizing.
const (
	asyncBufferSize = 4096
	asyncWriters    = 2
)

// New creates a *slog.Logger from the given Logging config.
// Output is JSON to stdout with a "service" attribute on every record and a
// "request_id" and "reviewer" attribute when the context carries them. When
// cfg.Async is set records are written by background writers; call Close on
// the returned Output at shutdown.
func New(cfg config.Logging) (*slog.Logger, *Output) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	out := &Output{}
	if cfg.Async {
		out.buf = newBuffer(asyncBufferSize, asyncWriters)
		handler = &bufferedHandler{inner: handler, buf: out.buf}
	}

	return slog.New(&contextHandler{inner: handler}).With("service", cfg.Service), out
}

// contextHandler copies request-scoped values from the context onto records.
type contextHandler struct {
	inner slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	s := scopeFrom(ctx)
	if s.requestID != "" {
		rec.AddAttrs(slog.String("request_id", s.requestID))
	}
	if s.reviewer != "" {
		rec.AddAttrs(slog.String("reviewer", s.reviewer))
	}
	return h.inner.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{inner: h.inner.WithGroup(name)}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
