package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"info", "info", slog.LevelInfo},
		{"debug", "debug", slog.LevelDebug},
		{"trace", "trace", LevelTrace},
		{"uppercase DEBUG", "DEBUG", slog.LevelDebug},
		{"mixed case Trace", "Trace", LevelTrace},
		{"unknown defaults to info", "verbose", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		logAtDebug bool
		logAtTrace bool
	}{
		{"info filters debug", "info", false, false},
		{"debug passes debug", "debug", true, false},
		{"trace passes everything", "trace", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)

			logger.Debug("debug message")
			if got := strings.Contains(buf.String(), "debug message"); got != tt.logAtDebug {
				t.Errorf("debug visible = %v, want %v", got, tt.logAtDebug)
			}

			buf.Reset()
			logger.Log(t.Context(), LevelTrace, "trace message")
			if got := strings.Contains(buf.String(), "trace message"); got != tt.logAtTrace {
				t.Errorf("trace visible = %v, want %v", got, tt.logAtTrace)
			}
			if tt.logAtTrace && !strings.Contains(buf.String(), "level=TRACE") {
				t.Errorf("trace level label missing: %q", buf.String())
			}
		})
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger.Enabled(t.Context(), slog.LevelError) {
		t.Error("Discard() logger should not be enabled at error level")
	}
}

func TestNewEventLogger_InfoLevel(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "info")
	if el != nil {
		t.Fatal("expected nil EventLogger at info level")
	}

	el.Log("generation", map[string]any{"generation": 1})
	if el.Tracing() {
		t.Error("nil logger should not report tracing")
	}

	if _, err := os.Stat(filepath.Join(dir, EventsFile)); err == nil {
		t.Error("events.jsonl should not exist at info level")
	}
}

func TestNewEventLogger_DebugLevel(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir, "debug")
	if el == nil {
		t.Fatal("expected EventLogger at debug level")
	}
	defer el.Close()

	if el.Tracing() {
		t.Error("debug level should not trace individual divisions")
	}

	el.Log("generation", map[string]any{"generation": 3, "daughters": 4})

	data, err := os.ReadFile(filepath.Join(dir, EventsFile))
	if err != nil {
		t.Fatalf("failed to read events.jsonl: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("failed to parse JSONL entry: %v", err)
	}
	if entry["kind"] != "generation" {
		t.Errorf("kind = %v, want generation", entry["kind"])
	}
	if entry["daughters"] != float64(4) {
		t.Errorf("daughters = %v, want 4", entry["daughters"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in event entry")
	}
}

func TestNewEventLogger_TraceLevel(t *testing.T) {
	el := NewEventLogger(t.TempDir(), "trace")
	defer el.Close()
	if !el.Tracing() {
		t.Error("trace level should enable division tracing")
	}
}

func TestEventLogger_MultipleWrites(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventWriter(&buf, false)

	el.Log("fit", map[string]any{"model": "LD"})
	el.Log("fit", map[string]any{"model": "MK"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	if second["model"] != "MK" {
		t.Errorf("second model = %v, want MK", second["model"])
	}
}

func TestEventLogger_DoesNotMutateCallerMap(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventWriter(&buf, false)

	fields := map[string]any{"generation": 1}
	el.Log("generation", fields)

	if len(fields) != 1 {
		t.Errorf("Log() mutated caller map: %v", fields)
	}
}

func TestEventLogger_NilSafetyAndClose(t *testing.T) {
	var el *EventLogger
	el.Log("x", nil)
	el.Close()

	dir := t.TempDir()
	el = NewEventLogger(dir, "debug")
	el.Log("before_close", nil)
	el.Close()
	el.Log("after_close", nil)

	data, err := os.ReadFile(filepath.Join(dir, EventsFile))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "after_close") {
		t.Error("Log() after Close() should be a no-op")
	}
}

func TestNewEventLogger_FilePermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	el := NewEventLogger(dir, "debug")
	if el == nil {
		t.Fatal("expected non-nil EventLogger when dir needs creation")
	}
	defer el.Close()

	el.Log("perm_test", nil)

	info, err := os.Stat(filepath.Join(dir, EventsFile))
	if err != nil {
		t.Fatalf("failed to stat events.jsonl: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}
