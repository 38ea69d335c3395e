// Package rtlog provides the runtime's diagnostic logger.
// It mirrors the teacher's use of the standard log package (see
// driver.Register's log.Printf calls): a thin wrapper, no third-party
// logging framework, since none appears anywhere in the example corpus.
package rtlog

import (
	"io"
	"log"
	"os"
)

// Logger is the runtime's verbose per-call diagnostic logger.
// A nil *Logger is not valid; use New or Discard.
type Logger struct {
	l *log.Logger
}

// New creates a Logger that writes to w.
func New(w io.Writer) *Logger {
	return &Logger{l: log.New(w, "[mekong] ", 0)}
}

// Discard returns a Logger that drops everything written to it.
func Discard() *Logger {
	return New(io.Discard)
}

// Open builds a Logger per spec §6's LOG_ON/LOG_FILE configuration
// options: logging disabled yields a discarding logger; an empty file
// path logs to stdout; otherwise the file is opened for appending and
// every log line is written to it for the remainder of the process.
func Open(on bool, file string) (*Logger, error) {
	if !on {
		return Discard(), nil
	}
	if file == "" {
		return New(os.Stdout), nil
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return New(f), nil
}

// Printf logs a formatted diagnostic line.
func (g *Logger) Printf(format string, args ...any) {
	g.l.Printf(format, args...)
}

// Print logs a diagnostic line.
func (g *Logger) Print(args ...any) {
	g.l.Print(args...)
}
