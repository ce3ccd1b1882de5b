package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog with the level helpers used across the worker.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to stderr at the given level. Unknown level
// names fall back to INFO.
func New(level string) *Logger {
	handler := NewHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return &Logger{Logger: slog.New(handler)}
}

// ParseLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// withError enhances log attributes with error details if present
func withError(err error, attrs []any) []any {
	if err == nil {
		return attrs
	}
	return append(attrs, slog.String("error", err.Error()))
}

// Info logs a message at INFO level
func (l *Logger) Info(msg string, attrs ...any) {
	l.Logger.Info(msg, attrs...)
}

// InfoContext logs a message at INFO level with context
func (l *Logger) InfoContext(ctx context.Context, msg string, attrs ...any) {
	l.Logger.InfoContext(ctx, msg, attrs...)
}

// Warn logs a message at WARN level
func (l *Logger) Warn(msg string, attrs ...any) {
	l.Logger.Warn(msg, attrs...)
}

// Error logs a message at ERROR level with error details
func (l *Logger) Error(msg string, err error, attrs ...any) {
	l.Logger.Error(msg, withError(err, attrs)...)
}

// Fatal logs a message at ERROR level and exits the process
func (l *Logger) Fatal(msg string, err error, attrs ...any) {
	l.Logger.Error(msg, withError(err, attrs)...)
	os.Exit(1)
}

// Debug logs a message at DEBUG level
func (l *Logger) Debug(msg string, attrs ...any) {
	l.Logger.Debug(msg, attrs...)
}

// With creates a new Logger with attributes included in all log messages
func (l *Logger) With(attrs ...any) *Logger {
	return &Logger{Logger: l.Logger.With(attrs...)}
}
