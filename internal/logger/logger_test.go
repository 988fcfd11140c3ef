package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_Defaults(t *testing.T) {
	l := New(nil)
	if l == nil || l.Logger == nil {
		t.Fatal("expected a usable logger with nil config")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openbt.log")
	l := New(&Config{Level: slog.LevelInfo, Format: "json", OutputPath: path})

	l.Info("hello", "job_id", "abc")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log file missing message, got %q", string(data))
	}
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := &Logger{Logger: slog.New(handler)}

	l.Component("scheduler").Job("job-1").WithField("progress", 50).Info("progress update")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshaling log record: %v", err)
	}
	if record["component"] != "scheduler" {
		t.Errorf("component = %v, want scheduler", record["component"])
	}
	if record["job_id"] != "job-1" {
		t.Errorf("job_id = %v, want job-1", record["job_id"])
	}
	if record["progress"] != float64(50) {
		t.Errorf("progress = %v, want 50", record["progress"])
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	l := &Logger{Logger: slog.New(handler)}

	l.WithError(nil).Info("no error attached")
	if strings.Contains(buf.String(), "\"error\"") {
		t.Errorf("nil error should not add an error field: %s", buf.String())
	}

	buf.Reset()
	l.WithError(os.ErrNotExist).Error("fetch failed")
	if !strings.Contains(buf.String(), "file does not exist") {
		t.Errorf("error field missing: %s", buf.String())
	}
}

func TestSetDefault(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	custom := New(&Config{Level: slog.LevelDebug, Format: "text"})
	SetDefault(custom)
	if Default() != custom {
		t.Error("SetDefault did not replace the default logger")
	}

	SetDefault(nil)
	if Default() != custom {
		t.Error("SetDefault(nil) should be a no-op")
	}
}
