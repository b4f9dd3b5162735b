// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shaderflow

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/shaderflow/graph"
	"github.com/gogpu/shaderflow/resource"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for shaderflow and all its
// sub-packages. By default, shaderflow produces no log output.
//
// SetLogger is safe for concurrent use: it stores the new logger
// atomically. Pass nil to disable logging (restore default silent
// behavior).
//
// Log levels used by shaderflow:
//   - [slog.LevelDebug]: per-tick detail (evaluation order, cache hits)
//   - [slog.LevelInfo]: lifecycle events (device opened, engine closed)
//   - [slog.LevelWarn]: non-fatal issues (compile failures, release errors)
//
// Example:
//
//	shaderflow.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	graph.SetLogger(l)
	resource.SetLogger(l)
}

// Logger returns the current logger used by shaderflow.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
