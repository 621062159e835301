// Package logging provides the structured, leveled logging surface shared by
// every client-core component. It wraps logrus so call sites stay small and
// the formatting/level-filtering policy lives in one well-tested place.
package logging

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus's verbosity ordering under a package-local name so
// callers never import logrus directly.
type Level = logrus.Level

const (
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

// Field is a single structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// String returns a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Int returns an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 returns an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Bool returns a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Error returns an error field.
func Error(err error) Field { return Field{Key: "error", Value: err} }

// Logger emits structured logs with optional contextual fields attached via With.
type Logger struct {
	entry *logrus.Entry
}

var (
	globalMu     sync.RWMutex
	globalLogger = Nop()
)

// New constructs a Logger writing JSON lines to w at the given level.
func New(w io.Writer, level Level) *Logger {
	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(level)
	base.SetFormatter(&logrus.JSONFormatter{})
	return &Logger{entry: logrus.NewEntry(base)}
}

// Nop returns a Logger that discards everything, used as the client's
// zero-value default so the core never writes to an uncontrolled sink.
func Nop() *Logger {
	return New(io.Discard, ErrorLevel)
}

// ReplaceGlobals swaps the fallback logger returned by L.
func ReplaceGlobals(logger *Logger) {
	if logger == nil {
		return
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the current global fallback logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// With augments the logger with additional structured fields, returning a
// new Logger that shares the underlying writer.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	data := make(logrus.Fields, len(fields))
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	return &Logger{entry: l.entry.WithFields(data)}
}

func (l *Logger) Debug(message string, fields ...Field) { l.With(fields...).entry.Debug(message) }
func (l *Logger) Info(message string, fields ...Field)  { l.With(fields...).entry.Info(message) }
func (l *Logger) Warn(message string, fields ...Field)  { l.With(fields...).entry.Warn(message) }
func (l *Logger) Error(message string, fields ...Field) { l.With(fields...).entry.Error(message) }
