// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log provides a small leveled logging facade so that
// evtx does not force a specific logging backend on its callers.
package log

import (
	"fmt"
	stdlog "log"
	"os"
	"sync"
)

// Level identifies the severity of a log entry.
type Level int

// Supported levels, ordered from most to least verbose.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Logger is the minimal interface a logging backend must satisfy.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

// stdLogger writes entries to a standard library *log.Logger.
type stdLogger struct {
	mu  sync.Mutex
	log *stdlog.Logger
}

// NewStdLogger returns a Logger that writes to w via the standard
// library log package.
func NewStdLogger(w *os.File) Logger {
	return &stdLogger{log: stdlog.New(w, "", stdlog.LstdFlags)}
}

func (l *stdLogger) Log(level Level, keyvals ...interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintln(append([]interface{}{level.String()}, keyvals...)...)
	l.log.Print(msg)
	return nil
}

// filter wraps a Logger and drops entries below a minimum level.
type filter struct {
	next Logger
	min  Level
}

// FilterOption configures a filter.
type FilterOption func(*filter)

// FilterLevel sets the minimum level a filter will pass through.
func FilterLevel(lvl Level) FilterOption {
	return func(f *filter) { f.min = lvl }
}

// NewFilter returns a Logger that only forwards entries at or above
// the configured minimum level (LevelInfo by default).
func NewFilter(next Logger, opts ...FilterOption) Logger {
	f := &filter{next: next, min: LevelInfo}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.min {
		return nil
	}
	return f.next.Log(level, keyvals...)
}

// Helper adds level-named convenience methods on top of a Logger.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger in a Helper.
func NewHelper(logger Logger) *Helper {
	if logger == nil {
		return &Helper{logger: NewFilter(NewStdLogger(os.Stderr), FilterLevel(LevelError))}
	}
	return &Helper{logger: logger}
}

// Debugf logs a formatted debug-level entry.
func (h *Helper) Debugf(format string, args ...interface{}) {
	h.logger.Log(LevelDebug, "msg", fmt.Sprintf(format, args...))
}

// Infof logs a formatted info-level entry.
func (h *Helper) Infof(format string, args ...interface{}) {
	h.logger.Log(LevelInfo, "msg", fmt.Sprintf(format, args...))
}

// Warnf logs a formatted warn-level entry.
func (h *Helper) Warnf(format string, args ...interface{}) {
	h.logger.Log(LevelWarn, "msg", fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error-level entry.
func (h *Helper) Errorf(format string, args ...interface{}) {
	h.logger.Log(LevelError, "msg", fmt.Sprintf(format, args...))
}
