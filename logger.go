package sdm

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// LevelTrace is more verbose than slog.LevelDebug. The optimizer logs the
// per stage window sizes on this level.
const LevelTrace = slog.LevelDebug - 4

// nopHandler discards every record. Enabled reports false so no message is ever formatted.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogger configures the logger used by the package.
// By default nothing is logged. Passing nil restores the silent default.
//
// Log levels used:
//   - [LevelTrace]: per stage window sizes and face size estimates
//   - [slog.LevelDebug]: alignment parameters, stage progress
//   - [slog.LevelInfo]: per image lifecycle in the batch executor
//   - [slog.LevelWarn]: skipped images
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger. It is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
