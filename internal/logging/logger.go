// Package logging provides the structured logger shared by every mesh
// component. It wraps logrus rather than reinventing field/level plumbing,
// matching the way the rest of the example stack injects a *logrus.Logger
// into its collaborators.
package logging

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"meshnet/internal/config"
)

type contextKey string

var loggerContextKey = contextKey("mesh-logger")

var (
	globalMu     sync.RWMutex
	globalLogger = newNopLogger()
)

// Field represents a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// String returns a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int returns an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Uint8 returns a uint8 field, handy for SubID/Addr-flavoured values.
func Uint8(key string, value uint8) Field { return Field{Key: key, Value: value} }

// Bool returns a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Error returns an error field.
func Error(err error) Field { return Field{Key: "error", Value: err} }

// Logger wraps a logrus entry with the node's structured-field conventions.
type Logger struct {
	entry *logrus.Entry
}

// New constructs a logger from the node's logging configuration.
func New(cfg config.LoggingConfig) (*Logger, error) {
	level, err := logrus.ParseLevel(normalizeLevel(cfg.Level))
	if err != nil {
		return nil, err
	}
	base := logrus.New()
	base.SetLevel(level)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger := &Logger{entry: logrus.NewEntry(base).WithField("component", "meshnet")}
	ReplaceGlobals(logger)
	return logger, nil
}

func normalizeLevel(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return "info"
	}
	return trimmed
}

// NewTestLogger returns a logger that discards output, suitable for tests.
func NewTestLogger() *Logger {
	return newNopLogger()
}

func newNopLogger() *Logger {
	base := logrus.New()
	base.SetOutput(discardWriter{})
	return &Logger{entry: logrus.NewEntry(base)}
}

// ReplaceGlobals swaps the fallback logger used when no context logger is present.
func ReplaceGlobals(logger *Logger) {
	if logger == nil {
		return
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the current global logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// With augments the logger with additional structured fields.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	logrusFields := make(logrus.Fields, len(fields))
	for _, f := range fields {
		logrusFields[f.Key] = f.Value
	}
	return &Logger{entry: l.entry.WithFields(logrusFields)}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields ...Field) { l.With(fields...).entry.Debug(message) }

// Info logs an informational message.
func (l *Logger) Info(message string, fields ...Field) { l.With(fields...).entry.Info(message) }

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields ...Field) { l.With(fields...).entry.Warn(message) }

// Error logs an error message.
func (l *Logger) Error(message string, fields ...Field) { l.With(fields...).entry.Error(message) }

// ContextWithLogger stores a logger in the provided context.
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// LoggerFromContext retrieves a logger from context or falls back to the global logger.
func LoggerFromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return L()
	}
	if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok && logger != nil {
		return logger
	}
	return L()
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
