// Package logging provides a small leveled logger on top of the standard
// log package. Durable stage telemetry goes to the JSONL event log instead;
// this logger covers operator-facing diagnostics on stderr.
package logging

import (
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

type Logger struct {
	mu       sync.Mutex
	minLevel Level
	out      *log.Logger
	name     string
}

// New creates a logger writing to w with the given minimum level.
// The name is included in every line to identify the emitting component.
func New(w io.Writer, minLevel Level, name string) *Logger {
	return &Logger{
		minLevel: minLevel,
		out:      log.New(w, "", 0),
		name:     name,
	}
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.minLevel {
		return
	}
	l.out.Printf("%s %s %s: "+format,
		append([]any{time.Now().Format(time.RFC3339), levelNames[level], l.name}, args...)...)
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }
