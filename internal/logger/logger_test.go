package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/Strob0t/phasegate/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, out := New(cfg)
	defer out.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc", Async: true}
	l, out := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	out.Close()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	// Empty context returns empty string
	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	// Set and retrieve
	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
}

func TestContextHandlerAddsRequestID(t *testing.T) {
	inner := &recordingHandler{}
	l := slog.New(&contextHandler{inner: inner})

	ctx := WithRequestID(context.Background(), "req-42")
	l.InfoContext(ctx, "policy evaluated")

	if inner.count() != 1 {
		t.Fatalf("expected 1 record, got %d", inner.count())
	}
	var found bool
	inner.records[0].Attrs(func(a slog.Attr) bool {
		if a.Key == "request_id" && a.Value.String() == "req-42" {
			found = true
			return false
		}
		return true
	})
	if !found {
		t.Error("expected request_id attribute on record")
	}
}

func TestContextHandlerAddsReviewer(t *testing.T) {
	inner := &recordingHandler{}
	l := slog.New(&contextHandler{inner: inner})

	ctx := WithReviewer(WithRequestID(context.Background(), "req-9"), "alice")
	if RequestID(ctx) != "req-9" || Reviewer(ctx) != "alice" {
		t.Fatalf("scope lost a value: %q %q", RequestID(ctx), Reviewer(ctx))
	}
	l.InfoContext(ctx, "gate waived")

	attrs := map[string]string{}
	inner.records[0].Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	if attrs["request_id"] != "req-9" || attrs["reviewer"] != "alice" {
		t.Errorf("expected request_id and reviewer attributes, got %v", attrs)
	}
}
