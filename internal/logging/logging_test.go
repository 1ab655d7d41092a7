package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentAttribute(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(newHandler(&buf, slog.LevelInfo, true, false))

	Component("ingest").Info("started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["component"] != "ingest" {
		t.Errorf("expected component=ingest, got %v", entry["component"])
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(newHandler(&buf, slog.LevelInfo, false, false))

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithSubscriber(ctx, "sub-1")
	WithContext(ctx).Info("hello")

	out := buf.String()
	if !strings.Contains(out, "request_id=req-1") {
		t.Errorf("missing request_id in %q", out)
	}
	if !strings.Contains(out, "subscriber=sub-1") {
		t.Errorf("missing subscriber in %q", out)
	}
}

func TestTintHandlerForTerminal(t *testing.T) {
	var buf bytes.Buffer
	h := newHandler(&buf, slog.LevelInfo, false, true)
	slog.New(h).Info("colored", "k", "v")

	if !strings.Contains(buf.String(), "colored") {
		t.Errorf("expected message in output, got %q", buf.String())
	}
}
