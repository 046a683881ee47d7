package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger defines the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	// Context-aware variants attach the request id found on ctx.
	DebugWithContext(ctx context.Context, msg string, fields ...Field)
	InfoWithContext(ctx context.Context, msg string, fields ...Field)
	WarnWithContext(ctx context.Context, msg string, fields ...Field)
	ErrorWithContext(ctx context.Context, msg string, fields ...Field)
	InfofWithContext(ctx context.Context, format string, args ...interface{})
	ErrorfWithContext(ctx context.Context, format string, args ...interface{})

	With(fields ...Field) Logger
	WithError(err error) Logger
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// NewField creates a new log field.
func NewField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Context keys the request-id middlewares store ids under.
const (
	requestIDKey  = "request_id"
	xRequestIDKey = "x-request-id"
)

// zapLogger is the zap-based implementation of Logger.
type zapLogger struct {
	logger *zap.Logger
}

// NewLogger creates a new logger with the specified level and format.
// level: debug, info, warn, error
// format: json, console
func NewLogger(level, format string) (Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	if format == "text" {
		format = "console"
	}
	if format != "console" {
		format = "json"
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.Encoding = format
	config.EncoderConfig = encoderConfig

	// Disable caller and stacktrace (too verbose)
	config.DisableCaller = true
	config.DisableStacktrace = true

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &zapLogger{logger: logger}, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return &zapLogger{logger: zap.NewNop()}
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(logger *zap.Logger) Logger {
	return &zapLogger{logger: logger}
}

// Debug logs a debug message.
func (z *zapLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug(msg, z.fieldsToZap(fields)...)
}

// Info logs an info message.
func (z *zapLogger) Info(msg string, fields ...Field) {
	z.logger.Info(msg, z.fieldsToZap(fields)...)
}

// Warn logs a warning message.
func (z *zapLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn(msg, z.fieldsToZap(fields)...)
}

// Error logs an error message.
func (z *zapLogger) Error(msg string, fields ...Field) {
	z.logger.Error(msg, z.fieldsToZap(fields)...)
}

// Fatal logs a fatal message and exits.
func (z *zapLogger) Fatal(msg string, fields ...Field) {
	z.logger.Fatal(msg, z.fieldsToZap(fields)...)
}

func (z *zapLogger) DebugWithContext(ctx context.Context, msg string, fields ...Field) {
	z.logger.Debug(msg, z.fieldsToZap(z.enrichFields(ctx, fields))...)
}

func (z *zapLogger) InfoWithContext(ctx context.Context, msg string, fields ...Field) {
	z.logger.Info(msg, z.fieldsToZap(z.enrichFields(ctx, fields))...)
}

func (z *zapLogger) WarnWithContext(ctx context.Context, msg string, fields ...Field) {
	z.logger.Warn(msg, z.fieldsToZap(z.enrichFields(ctx, fields))...)
}

func (z *zapLogger) ErrorWithContext(ctx context.Context, msg string, fields ...Field) {
	z.logger.Error(msg, z.fieldsToZap(z.enrichFields(ctx, fields))...)
}

func (z *zapLogger) InfofWithContext(ctx context.Context, format string, args ...interface{}) {
	z.InfoWithContext(ctx, fmt.Sprintf(format, args...))
}

func (z *zapLogger) ErrorfWithContext(ctx context.Context, format string, args ...interface{}) {
	z.ErrorWithContext(ctx, fmt.Sprintf(format, args...))
}

// With creates a new logger with additional fields.
func (z *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{logger: z.logger.With(z.fieldsToZap(fields)...)}
}

// WithError creates a new logger with an error field.
func (z *zapLogger) WithError(err error) Logger {
	return &zapLogger{logger: z.logger.With(zap.Error(err))}
}

// enrichFields appends the request id carried by ctx. request_id wins over x-request-id.
func (z *zapLogger) enrichFields(ctx context.Context, fields []Field) []Field {
	if ctx == nil {
		return fields
	}
	//nolint:staticcheck // keys are plain strings so gin and stdlib handlers can share them
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return append(fields, NewField(requestIDKey, id))
	}
	//nolint:staticcheck
	if id, ok := ctx.Value(xRequestIDKey).(string); ok && id != "" {
		return append(fields, NewField(xRequestIDKey, id))
	}
	return fields
}

// fieldsToZap converts Field slice to zap fields.
func (z *zapLogger) fieldsToZap(fields []Field) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			zapFields = append(zapFields, zap.String(f.Key, v))
		case int:
			zapFields = append(zapFields, zap.Int(f.Key, v))
		case int64:
			zapFields = append(zapFields, zap.Int64(f.Key, v))
		case float64:
			zapFields = append(zapFields, zap.Float64(f.Key, v))
		case bool:
			zapFields = append(zapFields, zap.Bool(f.Key, v))
		case error:
			zapFields = append(zapFields, zap.NamedError(f.Key, v))
		default:
			zapFields = append(zapFields, zap.Any(f.Key, v))
		}
	}
	return zapFields
}

// Sync flushes any buffered log entries. Should be called before application exit.
func Sync(logger Logger) {
	if zl, ok := logger.(*zapLogger); ok {
		_ = zl.logger.Sync()
	}
}
