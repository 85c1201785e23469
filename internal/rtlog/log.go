// Package rtlog implements leveled, tee-able logging on top of Go's
// standard log package, in the style Reflow uses for its own runtime
// logging. It exists so that the scheduler, propagator and GC can emit
// diagnostics without pulling in a full structured-logging dependency:
// this is a systems runtime, and its log lines are for the person
// running the program, not a log pipeline.
package rtlog

import (
	"fmt"
	"log"
	"os"
)

// Level defines the level of logging. Higher levels are more verbose.
type Level int

const (
	// OffLevel turns logging off.
	OffLevel Level = iota
	// ErrorLevel outputs only error messages.
	ErrorLevel
	// InfoLevel is the standard level.
	InfoLevel
	// DebugLevel adds runtime diagnostics: scheduler resizes and
	// queue-depth reports, GC sweeps.
	DebugLevel
)

// An Outputter receives published log messages. Go's *log.Logger
// implements Outputter.
type Outputter interface {
	Output(calldepth int, s string) error
}

type multiOutputter []Outputter

func (m multiOutputter) Output(calldepth int, s string) error {
	var err error
	for _, out := range m {
		if err1 := out.Output(calldepth, s); err1 != nil {
			err = err1
		}
	}
	return err
}

// MultiOutputter returns an Outputter that outputs each message to all
// of the provided outputters.
func MultiOutputter(outputters ...Outputter) Outputter {
	return multiOutputter(outputters)
}

// A Logger receives log messages at multiple levels and publishes
// those at or below its current level to its Outputter. A nil *Logger
// ignores all messages, so callers may pass around a possibly-nil
// *Logger without guarding every call site.
type Logger struct {
	Outputter
	Level Level

	parent *Logger
	prefix string
}

// New creates a Logger that publishes messages at or below level to
// out. New returns nil for OffLevel, so that "logging off" and "no
// logger configured" are the same zero-cost case.
func New(out Outputter, level Level) *Logger {
	if level == OffLevel {
		return nil
	}
	return &Logger{Outputter: out, Level: level}
}

// Print formats a message like fmt.Print and publishes it at InfoLevel.
func (l *Logger) Print(v ...interface{}) { l.print(2, InfoLevel, "", v...) }

// Printf formats a message like fmt.Printf and publishes it at InfoLevel.
func (l *Logger) Printf(format string, args ...interface{}) { l.printf(2, InfoLevel, "", format, args...) }

// Error formats a message like fmt.Print and publishes it at ErrorLevel.
func (l *Logger) Error(v ...interface{}) { l.print(2, ErrorLevel, "", v...) }

// Errorf formats a message like fmt.Printf and publishes it at ErrorLevel.
func (l *Logger) Errorf(format string, args ...interface{}) { l.printf(2, ErrorLevel, "", format, args...) }

// Debug formats a message like fmt.Print and publishes it at DebugLevel.
func (l *Logger) Debug(v ...interface{}) { l.print(2, DebugLevel, "", v...) }

// Debugf formats a message like fmt.Printf and publishes it at DebugLevel.
func (l *Logger) Debugf(format string, args ...interface{}) { l.printf(2, DebugLevel, "", format, args...) }

// At tells whether the logger publishes messages at level.
func (l *Logger) At(level Level) bool {
	return l != nil && level <= l.Level
}

func (l *Logger) print(calldepth int, level Level, prefix string, v ...interface{}) {
	if l == nil {
		return
	}
	if l.Outputter != nil && level <= l.Level {
		l.Output(calldepth+1, prefix+fmt.Sprint(v...))
	}
	if l.parent != nil {
		l.parent.print(calldepth+1, level, prefix+l.prefix, v...)
	}
}

func (l *Logger) printf(calldepth int, level Level, prefix, format string, args ...interface{}) {
	if l == nil {
		return
	}
	if l.Outputter != nil && level <= l.Level {
		l.Output(calldepth+1, prefix+fmt.Sprintf(format, args...))
	}
	if l.parent != nil {
		l.parent.printf(calldepth+1, level, prefix+l.prefix, format, args...)
	}
}

// Tee constructs a new Logger that publishes to out as well as to l,
// prefixing everything forwarded to l with prefix. out may be nil, in
// which case messages reach only l.
func (l *Logger) Tee(out Outputter, prefix string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{Outputter: out, Level: l.Level, parent: l, prefix: prefix}
}

// Std is the runtime's standard logger, used when callers don't
// configure one explicitly (e.g. the default Scheduler).
var Std = New(log.New(os.Stderr, "", log.LstdFlags), InfoLevel)
