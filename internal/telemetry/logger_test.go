package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/certen/biscuit/internal/errs"
)

func TestNewLoggerDefaultsOnNilConfig(t *testing.T) {
	l, err := NewLogger(nil)
	if err != nil {
		t.Fatalf("NewLogger(nil): %v", err)
	}
	if l == nil {
		t.Fatal("NewLogger(nil) returned a nil logger")
	}
}

func TestLoggerWritesJSONWithComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := &Logger{Logger: slog.New(handler), config: &Config{Level: slog.LevelDebug, Format: "json"}}

	l.WithComponent("token").Info("something happened", Field{Key: "block_index", Value: 2})

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal log line: %v (line: %s)", err, buf.String())
	}
	if decoded["component"] != "token" {
		t.Fatalf("component = %v, want token", decoded["component"])
	}
	if decoded["block_index"] != float64(2) {
		t.Fatalf("block_index = %v, want 2", decoded["block_index"])
	}
}

func TestWithErrorAttachesStructuredCode(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := &Logger{Logger: slog.New(handler), config: &Config{Level: slog.LevelDebug, Format: "json"}}

	structured := errs.Validation(errs.CodeMissingField, "missing root_key")
	l.WithError(structured).Error("operation failed")

	out := buf.String()
	if !strings.Contains(out, "missing_field") {
		t.Fatalf("expected the structured error code in the log line, got %q", out)
	}
}

func TestWithErrorNilIsNoOp(t *testing.T) {
	l, err := NewLogger(DefaultConfig())
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if got := l.WithError(nil); got != l {
		t.Fatal("WithError(nil) must return the same logger unchanged")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", name, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseLevel("nonsense"); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

func TestLogAuthorizationLevelReflectsOutcome(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := &Logger{Logger: slog.New(handler), config: &Config{Level: slog.LevelDebug, Format: "json"}}

	l.LogAuthorization(false, "failed_check", 0)
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if decoded["level"] != "WARN" {
		t.Fatalf("level = %v, want WARN for a denied authorization", decoded["level"])
	}
}

func TestGetGlobalLoggerLazyInitializes(t *testing.T) {
	prev := globalLogger
	defer func() { globalLogger = prev }()
	globalLogger = nil

	l := GetGlobalLogger()
	if l == nil {
		t.Fatal("GetGlobalLogger() must never return nil")
	}
}
