// Package logging wraps logrus with the small, four-level interface the
// teacher's util package exposed (Infof/Debugf/Warnf/Fatalf), scoped to a
// component instead of process-global.
package logging

import (
  "os"

  "github.com/sirupsen/logrus"
)

// Logger is a component-scoped logger. The zero value is not usable; call
// New.
type Logger struct {
  entry *logrus.Entry
}

// New returns a Logger tagged with component, logging at level (one of
// logrus's level names, e.g. "info", "debug") to stderr in text format.
func New(component string, level string) *Logger {
  base := logrus.New()
  base.SetOutput(os.Stderr)
  if lvl, err := logrus.ParseLevel(level); err == nil {
    base.SetLevel(lvl)
  } else {
    base.SetLevel(logrus.InfoLevel)
  }
  return &Logger{entry: base.WithField("component", component)}
}

// With returns a Logger with an additional structured field attached to
// every subsequent message.
func (l *Logger) With(key string, value interface{}) *Logger {
  return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *Logger) Debugf(format string, v ...interface{}) { l.entry.Debugf(format, v...) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }

// Fatalf logs at error level and terminates the process with exit status
// 4 (internal inconsistency), mirroring the teacher's util.Fatalf (which
// also logged a stack trace before exiting).
func (l *Logger) Fatalf(format string, v ...interface{}) {
  l.entry.Errorf(format, v...)
  os.Exit(4)
}
