// Package rt provides the scheduling/GC logger shared by the VM and cmd/furlow.
package rt

import (
	"io"
	"log"
	"os"
)

// Logger wraps a standard library *log.Logger scoped to VM scheduling and
// garbage collection events. A nil *Logger is valid and silently discards
// every call, so callers never need a separate enabled check.
type Logger struct {
	l *log.Logger
}

// NewLogger returns a Logger writing to w with the given prefix.
func NewLogger(w io.Writer, prefix string) *Logger {
	return &Logger{l: log.New(w, prefix, log.LstdFlags)}
}

// NewStderrLogger returns a Logger writing to os.Stderr, for CLI use.
func NewStderrLogger(prefix string) *Logger {
	return NewLogger(os.Stderr, prefix)
}

// Printf logs a formatted line. Safe to call on a nil *Logger.
func (lg *Logger) Printf(format string, args ...interface{}) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Printf(format, args...)
}
