package slogger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

var DefaultLogLevel = LevelInfo

// LogLevel represents the minimum log level.
type LogLevel slog.Level

// Available log levels
const (
	LevelDebug LogLevel = LogLevel(slog.LevelDebug)
	LevelInfo  LogLevel = LogLevel(slog.LevelInfo)
	LevelWarn  LogLevel = LogLevel(slog.LevelWarn)
	LevelError LogLevel = LogLevel(slog.LevelError)
)

// Slogger implements the Logger interface using slog with a tint handler.
// The level can be adjusted at runtime via SetLevel.
type Slogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// New returns a Slogger writing colorized output to stdout.
func New(level LogLevel) *Slogger {
	return NewWithWriter(os.Stdout, level, !isatty.IsTerminal(os.Stdout.Fd()))
}

// NewWithWriter returns a Slogger writing to w.
func NewWithWriter(w io.Writer, level LogLevel, noColor bool) *Slogger {
	levelVar := &slog.LevelVar{}
	levelVar.Set(slog.Level(level))
	handler := tint.NewHandler(w, &tint.Options{
		NoColor:    noColor,
		TimeFormat: time.Kitchen,
		Level:      levelVar,
	})
	return &Slogger{
		logger: slog.New(handler),
		level:  levelVar,
	}
}

// SetLevel changes the minimum level of this logger and all loggers derived
// from it with With.
func (l *Slogger) SetLevel(level LogLevel) {
	if l.level != nil {
		l.level.Set(slog.Level(level))
	}
}

func (l *Slogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *Slogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *Slogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn(msg, keysAndValues...)
}

func (l *Slogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
}

func (l *Slogger) With(keysAndValues ...any) Logger {
	return &Slogger{
		logger: l.logger.With(keysAndValues...),
		level:  l.level,
	}
}
