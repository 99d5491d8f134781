package logger

import (
	"context"
)

type contextKey struct{}

// WithLogger returns a new context with the given logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// WithValues returns a context whose logger carries the given attributes,
// either slog.Attr values or alternating keys and values.
func WithValues(ctx context.Context, keyvals ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(keyvals...))
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return defaultLogger
	}
	if value, ok := ctx.Value(contextKey{}).(Logger); ok {
		return value
	}
	return defaultLogger
}

func Debug(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Debug(msg, tags...)
}

func Info(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Info(msg, tags...)
}

func Warn(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Warn(msg, tags...)
}

func Error(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Error(msg, tags...)
}

func Debugf(ctx context.Context, format string, v ...any) {
	FromContext(ctx).Debugf(format, v...)
}

func Infof(ctx context.Context, format string, v ...any) {
	FromContext(ctx).Infof(format, v...)
}

func Warnf(ctx context.Context, format string, v ...any) {
	FromContext(ctx).Warnf(format, v...)
}

func Errorf(ctx context.Context, format string, v ...any) {
	FromContext(ctx).Errorf(format, v...)
}
