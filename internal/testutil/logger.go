// Package testutil provides test logging and FHIR resource fixtures.
package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// NewTestLogger returns a debug-level logger writing to t.Log, so compiler
// traces show up for failing tests or under -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	logger, _ := NewRecordingLogger(t)
	return logger
}

// NewRecordingLogger is NewTestLogger that also keeps every record for
// assertions on what the compiler reported.
func NewRecordingLogger(t testing.TB) (*slog.Logger, *Records) {
	t.Helper()
	rec := &Records{}
	text := slog.NewTextHandler(tbWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(&recordingHandler{Handler: text, records: rec}), rec
}

// Records holds log records in arrival order.
type Records struct {
	mu   sync.Mutex
	msgs []string
}

// Messages returns the logged messages.
func (r *Records) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

type recordingHandler struct {
	slog.Handler
	records *Records
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.records.mu.Lock()
	h.records.msgs = append(h.records.msgs, r.Message)
	h.records.mu.Unlock()
	return h.Handler.Handle(ctx, r)
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{Handler: h.Handler.WithAttrs(attrs), records: h.records}
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	return &recordingHandler{Handler: h.Handler.WithGroup(name), records: h.records}
}

type tbWriter struct {
	t testing.TB
}

func (w tbWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
