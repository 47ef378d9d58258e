// Package logger provides structured logging for the game server.
// Every phase transition and agent call of a table should be traceable through this.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Logger provides structured logging with context.
type Logger struct {
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	scope       string
}

// NewLogger creates a new logger instance writing to stdout/stderr.
// Level prefixes are colored only when stdout is a terminal.
func NewLogger() *Logger {
	colored := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	return newLogger(os.Stdout, os.Stderr, colored)
}

// NewWriterLogger sends every level to w without color. Used by tests and the simulator.
func NewWriterLogger(w io.Writer) *Logger {
	return newLogger(w, w, false)
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return NewWriterLogger(io.Discard)
}

func newLogger(out, errOut io.Writer, colored bool) *Logger {
	info, warn, errp := "[MAFIA-INFO] ", "[MAFIA-WARN] ", "[MAFIA-ERROR] "
	if colored {
		info = color.New(color.FgCyan).Sprint(info)
		warn = color.New(color.FgYellow).Sprint(warn)
		errp = color.New(color.FgRed, color.Bold).Sprint(errp)
	}
	flags := log.Ldate | log.Ltime | log.Lshortfile
	return &Logger{
		infoLogger:  log.New(out, info, flags),
		warnLogger:  log.New(out, warn, flags),
		errorLogger: log.New(errOut, errp, flags),
	}
}

// With returns a logger whose lines are tagged with scope (usually a game id).
func (l *Logger) With(scope string) *Logger {
	cp := *l
	if cp.scope != "" {
		scope = cp.scope + "/" + scope
	}
	cp.scope = scope
	return &cp
}

func (l *Logger) line(msg string) string {
	if l.scope == "" {
		return msg
	}
	return "(" + l.scope + ") " + msg
}

// Info logs informational messages.
func (l *Logger) Info(msg string) {
	_ = l.infoLogger.Output(2, l.line(msg))
}

// Infof logs a formatted informational message.
func (l *Logger) Infof(format string, args ...any) {
	_ = l.infoLogger.Output(2, l.line(fmt.Sprintf(format, args...)))
}

// Warn logs warning messages.
func (l *Logger) Warn(msg string) {
	_ = l.warnLogger.Output(2, l.line(msg))
}

// Warnf logs a formatted warning.
func (l *Logger) Warnf(format string, args ...any) {
	_ = l.warnLogger.Output(2, l.line(fmt.Sprintf(format, args...)))
}

// Error logs error messages.
func (l *Logger) Error(msg string) {
	_ = l.errorLogger.Output(2, l.line(msg))
}

// Errorf logs a formatted error.
func (l *Logger) Errorf(format string, args ...any) {
	_ = l.errorLogger.Output(2, l.line(fmt.Sprintf(format, args...)))
}

// Event logs a game event as it is appended to the log.
func (l *Logger) Event(eventType string, actorID string, details string) {
	_ = l.infoLogger.Output(2, l.line(fmt.Sprintf("[EVENT:%s] Actor:%s | %s", eventType, actorID, details)))
}
