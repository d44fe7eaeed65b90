// Package slogger provides structured logging for wireflow components.
// The Logger interface is a thin facade over log/slog so components can
// be handed a logger without depending on a concrete handler.
package slogger

import (
	"context"
	"strings"
)

// DefaultLogger is used when no logger is configured.
var DefaultLogger = NewDevNullLogger()

// Logger is the logging interface passed to long-lived components.
type Logger interface {
	// Debug logs a message at debug level with optional key-value pairs
	Debug(msg string, keysAndValues ...any)

	// Info logs a message at info level with optional key-value pairs
	Info(msg string, keysAndValues ...any)

	// Warn logs a message at warn level with optional key-value pairs
	Warn(msg string, keysAndValues ...any)

	// Error logs a message at error level with optional key-value pairs
	Error(msg string, keysAndValues ...any)

	// With returns a new Logger with the given key-value pairs bound
	With(keysAndValues ...any) Logger
}

type contextKey string

const loggerKey contextKey = "wireflow.logger"

// WithLogger returns a new context carrying the given logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Ctx returns the logger from the given context, or a default logger.
func Ctx(ctx context.Context) Logger {
	if ctx == nil {
		return New(DefaultLogLevel)
	}
	logger, ok := ctx.Value(loggerKey).(Logger)
	if !ok {
		return New(DefaultLogLevel)
	}
	return logger
}

// LevelFromString converts a string to a LogLevel.
func LevelFromString(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return DefaultLogLevel
	}
}
