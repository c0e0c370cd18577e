// Package routerlog is the router's operational logging facade: a thin
// wrapper over a single logrus logger exposing only the leveled printf
// surface the rest of the codebase needs, plus per-connection child
// loggers carrying a correlation id so one connection's lifecycle can
// be grepped out of interleaved output.
package routerlog

import (
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry. The zero value is not usable; construct
// with New and derive children with ForConnection.
type Logger struct {
	entry *logrus.Entry
}

// New builds the process-wide logger writing to out. debug lowers the
// level from Info to Debug.
func New(debug bool, out io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return &Logger{entry: logrus.NewEntry(l)}
}

// ForConnection derives a child logger for one accepted connection,
// tagged with a fresh correlation id and the peer's address.
func (l *Logger) ForConnection(remoteIP string) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields{
		"conn":   uuid.NewString(),
		"remote": remoteIP,
	})}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Fatalf logs at fatal level and exits the process. Only the CLI entry
// point should call this; everything under internal/ returns errors.
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }
