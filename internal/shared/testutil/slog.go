// Package testutil provides shared test helpers, most notably a capturing
// slog handler for asserting on structured log output.
package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// LogRecord is a captured log record.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// CaptureHandler is a slog.Handler that records everything it handles.
type CaptureHandler struct {
	mu      sync.Mutex
	records []LogRecord
}

// NewTestLogger creates a logger backed by a capturing handler.
func NewTestLogger(t *testing.T) (*slog.Logger, *CaptureHandler) {
	t.Helper()
	h := &CaptureHandler{}
	return slog.New(h), h
}

// Handle implements slog.Handler.
func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, LogRecord{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	return nil
}

// Enabled implements slog.Handler. All levels are captured.
func (h *CaptureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

// WithAttrs implements slog.Handler.
func (h *CaptureHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

// WithGroup implements slog.Handler.
func (h *CaptureHandler) WithGroup(_ string) slog.Handler { return h }

// Records returns a copy of all captured records.
func (h *CaptureHandler) Records() []LogRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]LogRecord, len(h.records))
	copy(out, h.records)
	return out
}

// ContainsMessage reports whether any record at the given level contains
// the message substring.
func (h *CaptureHandler) ContainsMessage(level slog.Level, message string) bool {
	for _, r := range h.Records() {
		if r.Level == level && strings.Contains(r.Message, message) {
			return true
		}
	}
	return false
}

// Attr returns the value of the named attribute from the first record that
// carries it.
func (h *CaptureHandler) Attr(key string) (any, bool) {
	for _, r := range h.Records() {
		if v, ok := r.Attrs[key]; ok {
			return v, true
		}
	}
	return nil, false
}
