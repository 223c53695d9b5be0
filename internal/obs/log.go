// Package obs centralizes observability for the service: the shared
// structured logger and the Prometheus HTTP metrics.
package obs

import (
	"context"
	"log/slog"
	"os"
)

type loggerContextKey struct{}

// NewLogger builds the process-wide JSON logger. level accepts the
// slog names (debug, info, warn, error); anything else means info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// WithLogger stores a request-scoped logger (typically carrying the
// request id) in ctx.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, log)
}

// FromContext returns the request-scoped logger, or the default logger
// when none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
