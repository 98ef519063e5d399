package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	TraceIDKey       contextKey = "trace_id"
	RequestIDKey     contextKey = "request_id"
	ParticipantIDKey contextKey = "participant_id"
	RoomIDKey        contextKey = "room_id"
)

// ContextLogger enriches log entries with identifiers carried in the
// request context.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns a logger annotated with any known identifiers
// present in ctx.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	for _, key := range []contextKey{TraceIDKey, RequestIDKey, ParticipantIDKey, RoomIDKey} {
		if v := ctx.Value(key); v != nil {
			if s, ok := v.(string); ok {
				fields = append(fields, zap.String(string(key), s))
			}
		}
	}

	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// WithError adds an error field to the logger.
func (cl *ContextLogger) WithError(err error) *zap.Logger {
	return cl.logger.With(zap.Error(err))
}

// LogError logs an error together with the context identifiers.
func (cl *ContextLogger) LogError(ctx context.Context, err error, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).With(zap.Error(err)).Error(message, fields...)
}

// LogInfo logs an info message together with the context identifiers.
func (cl *ContextLogger) LogInfo(ctx context.Context, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).Info(message, fields...)
}

// LogWarn logs a warning together with the context identifiers.
func (cl *ContextLogger) LogWarn(ctx context.Context, message string, fields ...zapcore.Field) {
	cl.WithContext(ctx).Warn(message, fields...)
}
