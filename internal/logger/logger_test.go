package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/planvault/planvault/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, ctl := New(cfg)
	defer ctl.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc", Async: true}
	l, ctl := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	ctl.Close()
}

func TestControlSetLevel(t *testing.T) {
	cfg := config.Logging{Level: "info", Service: "test-svc"}
	l, ctl := New(cfg)
	defer ctl.Close()

	ctx := context.Background()
	if l.Enabled(ctx, slog.LevelDebug) {
		t.Fatal("debug should be disabled at info level")
	}
	ctl.SetLevel("debug")
	if !l.Enabled(ctx, slog.LevelDebug) {
		t.Fatal("debug should be enabled after SetLevel")
	}
	ctl.SetLevel("error")
	if l.Enabled(ctx, slog.LevelWarn) {
		t.Fatal("warn should be disabled at error level")
	}
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
