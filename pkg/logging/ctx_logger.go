package logging

import (
	"context"
)

type contextKey string

const loggerKey contextKey = "logger"

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from the context.
// Returns a no-op logger if not found.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

// FromContextOr returns the logger attached to ctx, or fallback when there is none.
func FromContextOr(ctx context.Context, fallback Logger) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return fallback
}

// noOpLogger is a logger that does nothing (useful for tests or when logger is not available).
type noOpLogger struct{}

func (n *noOpLogger) Debug(msg string, fields ...Field)                                        {}
func (n *noOpLogger) Info(msg string, fields ...Field)                                         {}
func (n *noOpLogger) Warn(msg string, fields ...Field)                                         {}
func (n *noOpLogger) Error(msg string, fields ...Field)                                        {}
func (n *noOpLogger) Fatal(msg string, fields ...Field)                                        {}
func (n *noOpLogger) DebugWithContext(ctx context.Context, msg string, fields ...Field)        {}
func (n *noOpLogger) InfoWithContext(ctx context.Context, msg string, fields ...Field)         {}
func (n *noOpLogger) WarnWithContext(ctx context.Context, msg string, fields ...Field)         {}
func (n *noOpLogger) ErrorWithContext(ctx context.Context, msg string, fields ...Field)        {}
func (n *noOpLogger) InfofWithContext(ctx context.Context, format string, args ...interface{})  {}
func (n *noOpLogger) ErrorfWithContext(ctx context.Context, format string, args ...interface{}) {}
func (n *noOpLogger) With(fields ...Field) Logger                                               { return n }
func (n *noOpLogger) WithError(err error) Logger                                                { return n }
