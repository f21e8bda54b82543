// Package log is the small structured-logging sink relay's producer,
// consumer, and session code expect, matching the call shape Boulder's
// rpc package uses against its own blog package (Info/Debug/Warning/
// Audit/Crit), which was not itself part of this retrieval.
package log

import (
	"fmt"
	"log"
	"os"
)

// Logger is the sink relay components log through. The zero value of
// *Logger is not usable; use New or GetAuditLogger.
type Logger struct {
	std    *log.Logger
	prefix string
}

var defaultLogger = New(os.Stderr, "relay")

// New builds a Logger writing to w, tagging every line with prefix.
func New(w *os.File, prefix string) *Logger {
	return &Logger{
		std:    log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		prefix: prefix,
	}
}

// GetAuditLogger returns the process-wide default logger, mirroring
// blog.GetAuditLogger()'s role as the ambient logging handle the
// teacher's call sites reach for.
func GetAuditLogger() *Logger {
	return defaultLogger
}

func (l *Logger) line(level, msg string) {
	l.std.Printf("[%s] %s %s", l.prefix, level, msg)
}

// Debug logs a low-priority diagnostic message.
func (l *Logger) Debug(msg string) { l.line("DEBUG", msg) }

// Info logs a routine operational message.
func (l *Logger) Info(msg string) { l.line("INFO", msg) }

// Warning logs a recoverable but noteworthy condition, such as a late
// RPC reply arriving after its caller has already timed out.
func (l *Logger) Warning(msg string) { l.line("WARNING", msg) }

// Audit logs a message that should always be retained, such as a
// misrouted or dropped message — the teacher's rpc package uses this
// level for exactly that.
func (l *Logger) Audit(msg string) { l.line("AUDIT", msg) }

// Crit logs an unrecoverable condition.
func (l *Logger) Crit(msg string) { l.line("CRIT", msg) }

// Infof/Debugf/Warningf/Auditf are fmt.Sprintf-shorthand wrappers, used
// in place of the teacher's fmt.Sprintf(...) call-site pattern.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Warningf(format string, args ...interface{}) {
	l.Warning(fmt.Sprintf(format, args...))
}

func (l *Logger) Auditf(format string, args ...interface{}) {
	l.Audit(fmt.Sprintf(format, args...))
}

func (l *Logger) Critf(format string, args ...interface{}) {
	l.Crit(fmt.Sprintf(format, args...))
}
