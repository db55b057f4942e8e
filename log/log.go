// Copyright 2019 The CohoFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package log exports logging primitives that log to stderr and optionally
// to an external logging service such as Google Cloud Logging.
package log

// We call this log instead of logging for two reasons:
// 1) It's shorter to type;
// 2) it mimics Go's log package and can be used as a drop-in replacement for it.

import (
	"fmt"
	"io"
	goLog "log"
	"os"
)

// Logger is the interface for logging messages.
type Logger interface {
	// Printf writes a formated message to the log.
	Printf(format string, v ...interface{})

	// Print writes a message to the log.
	Print(v ...interface{})

	// Println writes a line to the log.
	Println(v ...interface{})

	// Fatal writes a message to the log and aborts.
	Fatal(v ...interface{})

	// Fatalf writes a formated message to the log and aborts.
	Fatalf(format string, v ...interface{})
}

// Level represents the level of logging.
type Level int

// Different levels of logging.
const (
	DebugLevel Level = iota
	InfoLevel
	ErrorLevel
	DisabledLevel
)

// ExternalLogger describes a service that processes logs.
type ExternalLogger interface {
	Log(Level, string)
	Flush()
}

// loggerState carries the mutable configuration of the package. Tests
// reach into it through globals() to substitute pieces.
type loggerState struct {
	currentLevel  Level
	defaultLogger Logger
	external      ExternalLogger
}

var state = &loggerState{
	currentLevel:  InfoLevel,
	defaultLogger: newDefaultLogger(os.Stderr),
}

func globals() *loggerState {
	return state
}

func newDefaultLogger(w io.Writer) Logger {
	return goLog.New(w, "", goLog.Ldate|goLog.Ltime|goLog.LUTC|goLog.Lmicroseconds)
}

// Pre-allocated Loggers at each logging level.
var (
	Debug = logger{DebugLevel}
	Info  = logger{InfoLevel}
	Error = logger{ErrorLevel}
)

type logger struct {
	level Level
}

var _ Logger = logger{}

// Printf writes a formated message to the log.
func (l logger) Printf(format string, v ...interface{}) {
	if l.level < globals().currentLevel {
		return // Don't log at lower levels.
	}
	if e := globals().external; e != nil {
		e.Log(l.level, fmt.Sprintf(format, v...))
	}
	if d := globals().defaultLogger; d != nil {
		d.Printf(format, v...)
	}
}

// Print writes a message to the log.
func (l logger) Print(v ...interface{}) {
	if l.level < globals().currentLevel {
		return // Don't log at lower levels.
	}
	if e := globals().external; e != nil {
		e.Log(l.level, fmt.Sprint(v...))
	}
	if d := globals().defaultLogger; d != nil {
		d.Print(v...)
	}
}

// Println writes a line to the log.
func (l logger) Println(v ...interface{}) {
	if l.level < globals().currentLevel {
		return // Don't log at lower levels.
	}
	if e := globals().external; e != nil {
		e.Log(l.level, fmt.Sprintln(v...))
	}
	if d := globals().defaultLogger; d != nil {
		d.Println(v...)
	}
}

// Fatal writes a message to the log and aborts, regardless of the current log level.
func (l logger) Fatal(v ...interface{}) {
	if e := globals().external; e != nil {
		e.Log(l.level, fmt.Sprint(v...))
		e.Flush()
	}
	if d := globals().defaultLogger; d != nil {
		d.Fatal(v...)
	} else {
		os.Exit(1)
	}
}

// Fatalf writes a formated message to the log and aborts, regardless of the current log level.
func (l logger) Fatalf(format string, v ...interface{}) {
	if e := globals().external; e != nil {
		e.Log(l.level, fmt.Sprintf(format, v...))
		e.Flush()
	}
	if d := globals().defaultLogger; d != nil {
		d.Fatalf(format, v...)
	} else {
		os.Exit(1)
	}
}

// String returns the name of the logger's level.
func (l logger) String() string {
	return toString(l.level)
}

func toString(level Level) string {
	switch level {
	case InfoLevel:
		return "info"
	case DebugLevel:
		return "debug"
	case ErrorLevel:
		return "error"
	case DisabledLevel:
		return "disabled"
	}
	return "unknown"
}

func toLevel(level string) (Level, error) {
	switch level {
	case "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	case "error":
		return ErrorLevel, nil
	case "disabled":
		return DisabledLevel, nil
	}
	return DisabledLevel, fmt.Errorf("invalid log level %q", level)
}

// GetLevel returns the current logging level.
func GetLevel() string {
	return toString(globals().currentLevel)
}

// SetLevel sets the current level of logging.
func SetLevel(level string) error {
	l, err := toLevel(level)
	if err != nil {
		return err
	}
	globals().currentLevel = l
	return nil
}

// At returns whether the level will be logged currently.
func At(level string) bool {
	l, err := toLevel(level)
	if err != nil {
		return false
	}
	return globals().currentLevel <= l
}

// SetOutput sets the default loggers to write to w.
// If w is nil, the default loggers are disabled.
func SetOutput(w io.Writer) {
	if w == nil {
		globals().defaultLogger = nil
	} else {
		globals().defaultLogger = newDefaultLogger(w)
	}
}

// Register connects an ExternalLogger to the default loggers. All non-fatal
// messages at or above the current level are sent to it as well as to the
// local output. This may only be done once.
func Register(e ExternalLogger) {
	g := globals()
	if g.external != nil {
		panic("cannot register a second external logger")
	}
	g.external = e
}

// Flush sends any buffered entries to the registered external logger,
// if any. It should be called before the process exits.
func Flush() {
	if e := globals().external; e != nil {
		e.Flush()
	}
}

// Printf writes a formated message to the log.
func Printf(format string, v ...interface{}) {
	Info.Printf(format, v...)
}

// Print writes a message to the log.
func Print(v ...interface{}) {
	Info.Print(v...)
}

// Println writes a line to the log.
func Println(v ...interface{}) {
	Info.Println(v...)
}

// Fatal writes a message to the log and aborts.
func Fatal(v ...interface{}) {
	Info.Fatal(v...)
}

// Fatalf writes a formated message to the log and aborts.
func Fatalf(format string, v ...interface{}) {
	Info.Fatalf(format, v...)
}
