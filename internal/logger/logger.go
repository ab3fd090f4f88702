// Package logger implements Kapua's polymorphic logging capability: a
// four-level sink (debug/info/warn/error) plus a raw stream used for
// startup-banner output, injected into the core at construction time.
package logger

import (
	"io"
	"log"
	"os"
)

// Level is a logging threshold. Messages below the configured level are
// discarded before formatting.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelSilent discards every levelled message; Raw output is unaffected.
	LevelSilent
)

// ParseLevel maps the spec's logging.level config values onto a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "silent"
	}
}

// Logger is the capability the core consumes: four severity levels plus a
// raw stream for banner text, and a way to change the threshold at runtime.
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Raw(line string)
	SetLevel(level Level)
}

var _ Logger = (*StdLogger)(nil)

// StdLogger is the concrete sink backing Logger, built on the standard
// library's log.Logger the way wireguard-go's device.Logger wraps one
// *log.Logger per severity and discards below-threshold output by pointing
// the sink at io.Discard instead of branching at call time.
type StdLogger struct {
	level Level

	debug *log.Logger
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	raw   io.Writer
}

// New builds a StdLogger writing to output, prefixed with prepend (typically
// the node id or interface name), at the given initial level.
func New(output io.Writer, level Level, prepend string) *StdLogger {
	l := &StdLogger{level: level, raw: output}
	l.rebuild(output, prepend)
	return l
}

// NewDefault builds a StdLogger writing to stdout at LevelInfo, the
// daemon's default when no logging level is configured.
func NewDefault() *StdLogger {
	return New(os.Stdout, LevelInfo, "")
}

func (l *StdLogger) rebuild(output io.Writer, prepend string) {
	sink := func(min Level) io.Writer {
		if l.level > min {
			return io.Discard
		}
		return output
	}
	flags := log.Ldate | log.Ltime
	l.debug = log.New(sink(LevelDebug), "DEBUG: "+prepend, flags)
	l.info = log.New(sink(LevelInfo), "INFO: "+prepend, flags)
	l.warn = log.New(sink(LevelWarn), "WARN: "+prepend, flags)
	l.err = log.New(sink(LevelError), "ERROR: "+prepend, flags)
}

func (l *StdLogger) SetLevel(level Level) {
	l.level = level
	l.debug.SetOutput(levelWriter(level, LevelDebug, l.raw))
	l.info.SetOutput(levelWriter(level, LevelInfo, l.raw))
	l.warn.SetOutput(levelWriter(level, LevelWarn, l.raw))
	l.err.SetOutput(levelWriter(level, LevelError, l.raw))
}

func levelWriter(current, of Level, output io.Writer) io.Writer {
	if current > of {
		return io.Discard
	}
	return output
}

func (l *StdLogger) Debug(v ...interface{})                 { l.debug.Println(v...) }
func (l *StdLogger) Debugf(format string, v ...interface{}) { l.debug.Printf(format, v...) }
func (l *StdLogger) Info(v ...interface{})                  { l.info.Println(v...) }
func (l *StdLogger) Infof(format string, v ...interface{})  { l.info.Printf(format, v...) }
func (l *StdLogger) Warn(v ...interface{})                  { l.warn.Println(v...) }
func (l *StdLogger) Warnf(format string, v ...interface{})  { l.warn.Printf(format, v...) }
func (l *StdLogger) Error(v ...interface{})                 { l.err.Println(v...) }
func (l *StdLogger) Errorf(format string, v ...interface{}) { l.err.Printf(format, v...) }

// Raw writes line directly to the underlying stream, bypassing level
// filtering and timestamp prefixes entirely. Used for the startup banner.
func (l *StdLogger) Raw(line string) {
	io.WriteString(l.raw, line)
}
