// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Level is the log message severity level below which we suppress messages.
type Level int32

const (
	// LevelDebug corresponds to debug messages.
	LevelDebug Level = iota
	// LevelInfo corresponds to informational messages.
	LevelInfo
	// LevelWarn corresponds to warning messages.
	LevelWarn
	// LevelError corresponds to error messages.
	LevelError
)

// Logger is the interface for configuring and producing log messages.
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Fatal(format string, args ...interface{})
	Panic(format string, args ...interface{})

	EnableDebug(bool) bool
	DebugEnabled() bool
	Debug(format string, args ...interface{})
	Block(fn func(string, ...interface{}), prefix string, format string, args ...interface{})
	DebugBlock(prefix string, format string, args ...interface{})
	InfoBlock(prefix string, format string, args ...interface{})
	WarnBlock(prefix string, format string, args ...interface{})
	ErrorBlock(prefix string, format string, args ...interface{})

	Source() string
	Stop()
}

// Our logger instance.
type logger struct {
	source  string // logger source/module name
	enabled bool   // logger source module
	level   Level  // first non-suppressed severity level
	debug   bool   // debugging for this instance
	prefix  string // message prefix
}

// log is our runtime state.
type log struct {
	sync.RWMutex
	active   Backend            // active backend
	loggers  map[string]*logger // running loggers (log sources)
	backends map[string]Backend // registered backends (real loggers)
	srcalign int                // longest name of active source seen
}

var logging = &log{
	active:   NewFmtBackend(os.Stdout),
	loggers:  make(map[string]*logger),
	backends: make(map[string]Backend),
}

// Get an existing logger or create a new one.
func Get(source string) Logger {
	source = strings.Trim(source, "[] ")

	logging.Lock()
	defer logging.Unlock()

	if l, ok := logging.loggers[source]; ok {
		return l
	}

	l := &logger{
		source:  source,
		enabled: opt.sourceEnabled(source),
		debug:   opt.debugEnabled(source),
		level:   opt.Level,
	}
	logging.loggers[source] = l
	logging.realign()

	return l
}

// NewLogger creates a new logger, getting the existing one if possible.
func NewLogger(source string) Logger {
	return Get(source)
}

// Source returns the name of the source this logger emits messages for.
func (l *logger) Source() string {
	return l.source
}

// Stop is an optional call to stop a logger once it is not needed any more.
func (l *logger) Stop() {
	logging.Lock()
	defer logging.Unlock()
	l.enabled = false
	delete(logging.loggers, l.source)
}

func (l *logger) passthrough(level Level) bool {
	logging.RLock()
	defer logging.RUnlock()
	return (l.enabled && l.level <= level) || (level == LevelDebug && l.debug)
}

func (l *logger) emit(level Level, format string, args ...interface{}) {
	logging.RLock()
	b, prefix := logging.active, ""
	if b.PrefixPreference() {
		prefix = l.prefix
	}
	logging.RUnlock()

	msg := prefix + fmt.Sprintf(format, args...)
	switch level {
	case LevelDebug:
		b.Debug(msg)
	case LevelInfo:
		b.Info(msg)
	case LevelWarn:
		b.Warn(msg)
	default:
		b.Error(msg)
	}
}

// Info emits an info message (lowest priority).
func (l *logger) Info(format string, args ...interface{}) {
	if l.passthrough(LevelInfo) {
		l.emit(LevelInfo, format, args...)
	}
}

// Warn emits a warning message.
func (l *logger) Warn(format string, args ...interface{}) {
	if l.passthrough(LevelWarn) {
		l.emit(LevelWarn, format, args...)
	}
}

// Error emits an error message.
func (l *logger) Error(format string, args ...interface{}) {
	if l.passthrough(LevelError) {
		l.emit(LevelError, format, args...)
	}
}

// Fatal emits a fatal error message and exits.
func (l *logger) Fatal(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
	os.Exit(1)
}

// Panic emits a fatal error message and panics.
func (l *logger) Panic(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
	panic(fmt.Sprintf(format, args...))
}

// EnableDebug controls debugging for the logger and returns its previous debugging state.
func (l *logger) EnableDebug(enable bool) bool {
	logging.Lock()
	defer logging.Unlock()
	previous := l.debug
	l.debug = enable
	logging.realign()
	return previous
}

// DebugEnabled checks if debugging is enabled.
func (l *logger) DebugEnabled() bool {
	logging.RLock()
	defer logging.RUnlock()
	return l.debug
}

// Debug emits a debug message.
func (l *logger) Debug(format string, args ...interface{}) {
	if l.DebugEnabled() {
		l.emit(LevelDebug, format, args...)
	}
}

// Block emits a block of messages using the given emitting function.
func (l *logger) Block(fn func(string, ...interface{}), prefix string, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		fn("%s%s", prefix, line)
	}
}

// DebugBlock emits a block of debug messages.
func (l *logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if l.DebugEnabled() {
		l.Block(l.Debug, prefix, format, args...)
	}
}

// InfoBlock emits a block of info messages.
func (l *logger) InfoBlock(prefix string, format string, args ...interface{}) {
	l.Block(l.Info, prefix, format, args...)
}

// WarnBlock emits a block of warning messages.
func (l *logger) WarnBlock(prefix string, format string, args ...interface{}) {
	l.Block(l.Warn, prefix, format, args...)
}

// ErrorBlock emits a block of error messages.
func (l *logger) ErrorBlock(prefix string, format string, args ...interface{}) {
	l.Block(l.Error, prefix, format, args...)
}

// updateLoggers refreshes all loggers after a configuration change.
func updateLoggers() {
	logging.Lock()
	defer logging.Unlock()
	for s, l := range logging.loggers {
		l.enabled = opt.sourceEnabled(s)
		l.debug = opt.debugEnabled(s)
		l.level = opt.Level
	}
	logging.realign()
}

// realign recalculates source prefixes so that messages line up. Called with the lock held.
func (lg *log) realign() {
	lg.srcalign = 0
	for _, l := range lg.loggers {
		if (l.enabled || l.debug) && len(l.source) > lg.srcalign {
			lg.srcalign = len(l.source)
		}
	}
	for _, l := range lg.loggers {
		suf := (lg.srcalign - len(l.source)) / 2
		pre := lg.srcalign - (len(l.source) + suf)
		if pre < 0 {
			pre, suf = 0, 0
		}
		l.prefix = "[" + fmt.Sprintf("%-*s", pre, "") + l.source + fmt.Sprintf("%*s", suf, "") + "] "
	}
}

// Default logger/source.
var defLogger Logger

// Default gets the default logger.
func Default() Logger {
	return defLogger
}

// Info emits an info message with the default source.
func Info(format string, args ...interface{}) {
	defLogger.Info(format, args...)
}

// Warn emits a warning message with the default source.
func Warn(format string, args ...interface{}) {
	defLogger.Warn(format, args...)
}

// Error emits an error message with the default source.
func Error(format string, args ...interface{}) {
	defLogger.Error(format, args...)
}

// Fatal emits a fatal error message with the default source.
func Fatal(format string, args ...interface{}) {
	defLogger.Fatal(format, args...)
}

// Debug emits a debug message with the default source.
func Debug(format string, args ...interface{}) {
	defLogger.Debug(format, args...)
}

func init() {
	RegisterBackend(NewFmtBackend(os.Stdout))
	defLogger = Get(filepath.Base(filepath.Clean(os.Args[0])))
}
