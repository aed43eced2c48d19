// Package log is a thin wrapper around the standard library logger. It
// exists so that every component takes an explicit *Logger at construction
// time instead of reaching for a process-wide global, matching the
// dependency-injected Environment described in spec.md §9.
package log

import (
	"io"
	"log"
	"os"
)

// Logger wraps *log.Logger with the small surface the engine needs.
type Logger struct {
	*log.Logger
}

// New returns a Logger writing to w with no prefix and microsecond
// timestamps, in the style rsync's daemon log lines use.
func New(w io.Writer) *Logger {
	return &Logger{Logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
}

// Discard returns a Logger that throws all output away, useful for tests
// that don't care about log output.
func Discard() *Logger {
	return New(io.Discard)
}

// Default is a convenience Logger writing to os.Stderr, used by callers
// that have not been handed a Logger explicitly (e.g. package-level helper
// functions exercised directly from tests).
var Default = New(os.Stderr)

func Printf(format string, v ...any) { Default.Printf(format, v...) }
