// Copyright 2016 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

// Package rmmlog is the monitor's leveled logger. No error is logged
// unless the tracing feature is enabled (only Crit, which precedes a
// monitor-fatal panic, always prints) — ordinary RMI/RSI failures are
// just status codes, but once
// tracing is on, every handler entry/exit and failure goes through here.
//
// The call convention (level, message, alternating key/value context) and
// the terminal-color detection stack (fatih/color + mattn/go-colorable +
// mattn/go-isatty) follow the go-ethereum "log" package's conventions.
package rmmlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is a log verbosity level, ordered least to most severe.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCrit
)

var levelNames = [...]string{"TRACE", "DEBUG", "INFO ", "WARN ", "ERROR", "CRIT "}

var levelColors = [...]*color.Color{
	color.New(color.FgHiBlack),
	color.New(color.FgBlue),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgRed),
	color.New(color.FgHiRed, color.Bold),
}

func (l Level) String() string {
	if l < LevelTrace || l > LevelCrit {
		return "?????"
	}
	return levelNames[l]
}

// Logger is the monitor-wide log sink. The zero value is not usable; use
// New. Root returns the default process-wide logger used by package-level
// Trace/Debug/.../Crit helpers.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	color   bool
	enabled int32 // atomic bool: tracing feature on/off
}

// New constructs a Logger writing to w. If w is a terminal, ANSI color
// output is enabled automatically (the same isatty probe the upstream
// go-ethereum log package performs).
func New(w io.Writer) *Logger {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		if useColor {
			w = colorable.NewColorable(f)
		}
	}
	return &Logger{out: w, color: useColor}
}

var root = New(os.Stderr)

// Root returns the process-wide default logger.
func Root() *Logger { return root }

// SetTracing enables or disables the tracing feature gate.
// While disabled, Trace/Debug/Info/Warn/Error calls are no-ops; Crit always
// prints, since it represents a monitor-fatal condition.
func (l *Logger) SetTracing(on bool) {
	v := int32(0)
	if on {
		v = 1
	}
	atomic.StoreInt32(&l.enabled, v)
}

func (l *Logger) tracingOn() bool { return atomic.LoadInt32(&l.enabled) != 0 }

func (l *Logger) log(lvl Level, msg string, ctx ...interface{}) {
	if lvl < LevelCrit && !l.tracingOn() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("15:04:05.000000")
	var line string
	if l.color {
		line = fmt.Sprintf("%s %s %s", ts, levelColors[lvl].Sprint(lvl.String()), msg)
	} else {
		line = fmt.Sprintf("%s [%s] %s", ts, lvl.String(), msg)
	}
	for i := 0; i+1 < len(ctx); i += 2 {
		line += fmt.Sprintf(" %v=%v", ctx[i], ctx[i+1])
	}
	if len(ctx)%2 == 1 {
		line += fmt.Sprintf(" %v=MISSING", ctx[len(ctx)-1])
	}
	fmt.Fprintln(l.out, line)
}

func (l *Logger) Trace(msg string, ctx ...interface{}) { l.log(LevelTrace, msg, ctx...) }
func (l *Logger) Debug(msg string, ctx ...interface{}) { l.log(LevelDebug, msg, ctx...) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.log(LevelInfo, msg, ctx...) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.log(LevelWarn, msg, ctx...) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.log(LevelError, msg, ctx...) }

// Crit logs at the highest level and then panics; boot-time allocation
// failure is the only condition that reaches it.
func (l *Logger) Crit(msg string, ctx ...interface{}) {
	l.log(LevelCrit, msg, ctx...)
	panic(msg)
}

func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.Crit(msg, ctx...) }
