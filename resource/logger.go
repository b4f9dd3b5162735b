// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package resource

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler discards all log records. Enabled returns false so callers
// skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger configures the package logger. By default the package produces
// no output. Pass nil to restore the silent default. The root shaderflow
// package propagates its logger here; call this directly only when using
// the resource package standalone.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// logger returns the current package logger.
func logger() *slog.Logger {
	return loggerPtr.Load()
}
