// Package tracelog provides a single level-gated logger shared by the
// CPU, PPU, and bus packages, replacing the ad hoc debugEnabled bools and
// fmt.Printf calls that used to be duplicated in each of them.
package tracelog

import (
	"log"
	"os"
)

// Level controls how much a component logs.
type Level int

const (
	// Off disables all tracing.
	Off Level = iota
	// Info logs coarse per-frame/per-reset events.
	Info
	// Debug logs per-instruction or per-scanline detail.
	Debug
)

// Logger is a minimal level-gated wrapper around the standard logger.
type Logger struct {
	level  Level
	prefix string
	out    *log.Logger
}

// New creates a Logger that writes to stderr with the given prefix.
func New(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		out:    log.New(os.Stderr, prefix+" ", 0),
	}
}

// SetLevel changes the minimum level that will be emitted.
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

// Level returns the current minimum level.
func (l *Logger) Level() Level {
	return l.level
}

// Infof logs at Info level.
func (l *Logger) Infof(format string, args ...interface{}) {
	if l.level >= Info {
		l.out.Printf(format, args...)
	}
}

// Debugf logs at Debug level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.level >= Debug {
		l.out.Printf(format, args...)
	}
}
