package logging

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewConsoleLoggerWritesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "tower.log")

	logger, err := New(Options{
		Level:            "debug",
		Format:           "console",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("render started",
		String(FieldComponent, "render"),
		Int64(FieldJobID, 42),
		String("phase", "still"),
	)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(data))

	if !strings.Contains(line, "INFO") {
		t.Errorf("expected level label in output, got %q", line)
	}
	if !strings.Contains(line, "render: render started") {
		t.Errorf("expected component-prefixed message, got %q", line)
	}
	if !strings.Contains(line, "job_id=42") {
		t.Errorf("expected job_id attribute, got %q", line)
	}
	if !strings.Contains(line, "phase=still") {
		t.Errorf("expected phase attribute, got %q", line)
	}
}

func TestNewJSONLoggerFieldNames(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "tower.log")

	logger, err := New(Options{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Warn("gate blocked", String("project_id", "kai"), Float64("pass_rate", 0.6))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}

	if entry["msg"] != "gate blocked" {
		t.Errorf("expected msg field, got %v", entry["msg"])
	}
	if entry["level"] != "warn" {
		t.Errorf("expected lowercase level, got %v", entry["level"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("expected ts field in JSON output")
	}
	if entry["project_id"] != "kai" {
		t.Errorf("expected project_id attribute, got %v", entry["project_id"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleHandlerQuotesValues(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "tower.log")

	logger, err := New(Options{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Error("score failed",
		Error(errors.New("extractor unavailable: connection refused")),
		String("metric", "face_similarity"),
	)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(data))

	if !strings.Contains(line, `error="extractor unavailable: connection refused"`) {
		t.Errorf("expected quoted error value, got %q", line)
	}
	if !strings.Contains(line, "metric=face_similarity") {
		t.Errorf("expected bare metric value, got %q", line)
	}
}

func TestConsoleHandlerFlattensGroups(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "tower.log")

	logger, err := New(Options{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("submitted",
		slog.Group("renderer", String("handle", "run-9"), Int("slot", 2)),
	)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(data))

	if !strings.Contains(line, "renderer.handle=run-9") {
		t.Errorf("expected flattened group key, got %q", line)
	}
	if !strings.Contains(line, "renderer.slot=2") {
		t.Errorf("expected flattened group key, got %q", line)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{" WARN ", slog.LevelWarn},
	}

	for _, tc := range cases {
		if got := parseLevel(tc.input); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestNewNopDiscards(t *testing.T) {
	logger := NewNop()
	logger.Info("should not panic", String("key", "value"))
	logger.Error("also fine")
}

func TestComponentLoggerCarriesField(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "tower.log")

	base, err := New(Options{Level: "info", Format: "console", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	NewComponentLogger(base, "gate").Info("window evaluated")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "gate: window evaluated") {
		t.Errorf("expected component prefix, got %q", string(data))
	}
}
