// Package logging provides leveled logging and run tracing for monosim.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - An EventLogger for structured JSONL run traces (~/.monosim/events.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug. At this level every
// division event is logged, not just per-generation totals.
const LevelTrace = slog.LevelDebug - 4

// EventsFile is the name of the JSONL trace file inside the trace directory.
const EventsFile = "events.jsonl"

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything. Packages use it when the
// caller passes no logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// EventLogger appends run trace records (generation totals, fit outcomes)
// to a JSONL file. It is safe for concurrent use. A nil EventLogger is safe
// to use; all methods are no-ops on nil receiver.
type EventLogger struct {
	mu    sync.Mutex
	w     io.Writer
	file  *os.File
	now   func() time.Time
	trace bool
}

// NewEventLogger creates an event logger writing to dir/events.jsonl.
// At "info" level (the default), returns nil and no file is created.
// At "debug" or "trace" level, the file is opened for append.
// Returns nil if the file cannot be opened. All methods are nil-safe.
func NewEventLogger(dir string, level string) *EventLogger {
	lvl := ParseLevel(level)
	if lvl == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	path := filepath.Join(dir, EventsFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &EventLogger{w: f, file: f, now: time.Now, trace: lvl <= LevelTrace}
}

// NewEventWriter creates an event logger over an arbitrary writer. The
// caller owns w; Close does not close it.
func NewEventWriter(w io.Writer, trace bool) *EventLogger {
	return &EventLogger{w: w, now: time.Now, trace: trace}
}

// Tracing reports whether per-division records should be emitted.
// Safe to call on nil receiver.
func (el *EventLogger) Tracing() bool {
	return el != nil && el.trace
}

// Log writes an event as a single JSONL line under the given kind.
// "kind" and "time" fields are added automatically. The caller's map is
// not mutated. Safe to call on nil receiver.
func (el *EventLogger) Log(kind string, fields map[string]any) {
	if el == nil || el.w == nil {
		return
	}

	entry := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		entry[k] = v
	}
	entry["kind"] = kind
	entry["time"] = el.now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	el.mu.Lock()
	defer el.mu.Unlock()
	_, _ = el.w.Write(data)
}

// Close closes the underlying file if the logger opened one.
// Safe to call on nil receiver.
func (el *EventLogger) Close() {
	if el == nil {
		return
	}

	el.mu.Lock()
	defer el.mu.Unlock()

	if el.file != nil {
		el.file.Close()
		el.file = nil
	}
	el.w = nil
}
