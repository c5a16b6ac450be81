package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newBufferLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{
		Level:  level,
		Format: "json",
		Writer: &buf,
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerFields(t *testing.T) {
	logger, buf := newBufferLogger(t, "debug")

	logger.NewComponentLogger("evaluator").
		WithBuildID("b-1").
		WithFork(":api", "test").
		WithError(errors.New("boom")).
		Warn("fork misconfigured")

	entries := decodeLines(t, buf)
	if len(entries) != 1 {
		t.Fatalf("got %d log lines, want 1", len(entries))
	}

	want := map[string]string{
		"level":     "warn",
		"component": "evaluator",
		"build_id":  "b-1",
		"project":   ":api",
		"fork":      "test",
		"error":     "boom",
		"message":   "fork misconfigured",
	}
	for k, v := range want {
		if got := entries[0][k]; got != v {
			t.Errorf("field %s = %v, want %q", k, got, v)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, "warn")

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("shown")

	if got := len(decodeLines(t, buf)); got != 2 {
		t.Errorf("got %d log lines, want 2", got)
	}
}

func TestLoggerContext(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	ctx := logger.WithContext(context.Background())
	FromContext(ctx).Infof("evaluated %d projects", 3)

	entries := decodeLines(t, buf)
	if len(entries) != 1 || entries[0]["message"] != "evaluated 3 projects" {
		t.Errorf("entries = %v", entries)
	}

	// No logger in the context must not panic
	FromContext(context.Background()).Info("dropped")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
