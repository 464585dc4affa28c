package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/Strob0t/ForgeBot/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc", Async: true}
	l, closer := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
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
	if got := BuildID(ctx); got != "" {
		t.Errorf("request ID leaked into build ID: %q", got)
	}
}

func TestContextHandler_AddsCorrelationIDs(t *testing.T) {
	inner := &recordingHandler{}
	l := slog.New(&contextHandler{inner: inner})

	ctx := WithBuildID(WithRequestID(context.Background(), "req-1"), "build-7")
	l.InfoContext(ctx, "stage")

	if inner.count() != 1 {
		t.Fatalf("expected 1 record, got %d", inner.count())
	}
	got := map[string]string{}
	inner.records[0].Attrs(func(a slog.Attr) bool {
		got[a.Key] = a.Value.String()
		return true
	})
	if got["request_id"] != "req-1" || got["build_id"] != "build-7" {
		t.Fatalf("unexpected attrs %v", got)
	}
}
