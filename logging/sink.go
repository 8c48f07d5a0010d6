// Package logging provides the ambient logging backend: the minimal
// Sink interface core components depend on, and AsyncLogger, the
// concrete sink cmd/ wires up. A payload/transport component never
// imports logging directly in its decision logic — it only ever holds
// a Sink, per spec.md §1.
package logging

import "strings"

// Sink is the minimal logging interface core components accept at
// construction time, per spec.md §1 ("the core emits log events via a
// minimal sink interface").
type Sink interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// Level is a log severity, ordered Debug < Info < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

// String renders the canonical upper-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level, defaulting to LevelDebug
// on anything unrecognized — matching spec.md §6's stated
// default-on-unknown behavior for log_level, preserved exactly by
// SPEC_FULL.md §4.11 (validation warns rather than rejects on this
// field).
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo
	case "ERROR":
		return LevelError
	default:
		return LevelDebug
	}
}

// noopSink discards everything; used where a Sink is required but the
// caller wants no output (e.g. in tests).
type noopSink struct{}

// Noop returns a Sink that discards every log event.
func Noop() Sink { return noopSink{} }

func (noopSink) Debugf(string, ...any) {}
func (noopSink) Infof(string, ...any)  {}
func (noopSink) Errorf(string, ...any) {}
