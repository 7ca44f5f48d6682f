// Package monitoring holds process-wide logging setup: a replaceable
// diagnostic logger and the stream writers handed to each package.
package monitoring

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger used by code without its own
// log streams. It defaults to log.Printf and may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Level selects how many log streams are enabled.
type Level int

const (
	// LevelOps enables actionable warnings and errors only.
	LevelOps Level = iota
	// LevelDiag adds day-to-day diagnostics.
	LevelDiag
	// LevelTrace adds per-record telemetry.
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelOps:
		return "ops"
	case LevelDiag:
		return "diag"
	case LevelTrace:
		return "trace"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel parses "ops", "diag" or "trace".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ops", "":
		return LevelOps, nil
	case "diag":
		return LevelDiag, nil
	case "trace":
		return LevelTrace, nil
	}
	return LevelOps, fmt.Errorf("unknown log level %q (want ops, diag or trace)", s)
}

// LogWriters holds the writer of each logging stream. A nil writer
// disables its stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// WritersFor sends every stream enabled at level to w.
func WritersFor(level Level, w io.Writer) LogWriters {
	lw := LogWriters{Ops: w}
	if level >= LevelDiag {
		lw.Diag = w
	}
	if level >= LevelTrace {
		lw.Trace = w
	}
	return lw
}
