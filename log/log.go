// Package log provides leveled loggers in the style used throughout the
// engine: a package-level object per severity (T, D, I, W, E, F), each with
// an .F(format, args...) printf form and an .Ln(args...) space-joined form.
// Output is colorized with github.com/fatih/color and gated by a runtime
// threshold set with SetLogLevel.
package log

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/fatih/color"

	"nostrengine.dev/lol"
)

var threshold atomic.Int32

func init() { threshold.Store(int32(lol.Info)) }

// SetLogLevel changes the process-wide log level threshold.
func SetLogLevel(l lol.Level) { threshold.Store(int32(l)) }

// GetLogLevel returns the current process-wide log level threshold.
func GetLogLevel() lol.Level { return lol.Level(threshold.Load()) }

// Logger is a single severity's logging surface.
type Logger struct {
	level lol.Level
	tag   string
	color *color.Color
}

var (
	T = &Logger{level: lol.Trace, tag: "TRC", color: color.New(color.FgHiBlack)}
	D = &Logger{level: lol.Debug, tag: "DBG", color: color.New(color.FgBlue)}
	I = &Logger{level: lol.Info, tag: "INF", color: color.New(color.FgGreen)}
	W = &Logger{level: lol.Warn, tag: "WRN", color: color.New(color.FgYellow)}
	E = &Logger{level: lol.Error, tag: "ERR", color: color.New(color.FgRed)}
	F = &Logger{level: lol.Fatal, tag: "FTL", color: color.New(color.FgHiRed, color.Bold)}
)

func (l *Logger) enabled() bool { return l.level <= GetLogLevel() }

func (l *Logger) emit(msg string) {
	if !l.enabled() {
		return
	}
	ts := time.Now().UTC().Format("15:04:05.000")
	_, _ = l.color.Fprintf(
		os.Stderr, "%s [%s] %s\n", ts, l.tag, msg,
	)
}

// F formats and logs a message, matching fmt.Sprintf semantics.
func (l *Logger) F(format string, args ...any) {
	if !l.enabled() {
		return
	}
	l.emit(fmt.Sprintf(format, args...))
}

// Ln logs its arguments space-joined, matching fmt.Sprintln semantics
// without the trailing newline (emit adds one).
func (l *Logger) Ln(args ...any) {
	if !l.enabled() {
		return
	}
	s := fmt.Sprintln(args...)
	l.emit(s[:len(s)-1])
}
