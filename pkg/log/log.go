// Copyright 2018 Google LLC
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

// Package log implements a leveled logging package for the paging
// subsystem, kept deliberately small: a mutable global sink plus the
// Debugf/Infof/Warningf helpers used by the frame allocator and the
// demo command; the page-table engine itself does not log.
package log

import (
	"os"
	"sync/atomic"
	"time"
)

// Level is the severity of a log message.
type Level int32

const (
	// Debug indicates a verbose message, generally disabled in production.
	Debug Level = iota
	// Info indicates an informational message.
	Info
	// Warning indicates a message that may require operator attention.
	Warning
)

// String returns a human-readable form of the level.
func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	default:
		return "UNKNOWN"
	}
}

// Emitter is the final sink for a formatted log entry.
type Emitter interface {
	// Emit writes the message at the given level and timestamp. format
	// and args are the original, unformatted, caller-supplied values;
	// implementations that don't need glog-style headers may simply
	// fmt.Sprintf them directly.
	Emit(level Level, timestamp time.Time, format string, args ...interface{})
}

// Logger is anything that can log at the three supported levels.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	// IsLogging returns true if the given level is enabled, allowing
	// callers to skip expensive argument construction.
	IsLogging(level Level) bool
}

// Writer appends a trailing newline to every line a Sink hands it,
// so Sink itself never has to think about line termination.
type Writer struct {
	// Next receives the rendered message.
	Next *os.File
}

// Write implements io.Writer, appending a trailing newline.
func (w *Writer) Write(b []byte) (int, error) {
	n, err := w.Next.Write(b)
	if err == nil {
		w.Next.Write([]byte("\n"))
	}
	return n, err
}

// BasicLogger wraps an Emitter and the minimum level that will be
// passed through to it.
type BasicLogger struct {
	Level
	Emitter
}

// Debugf implements Logger.Debugf.
func (b *BasicLogger) Debugf(format string, args ...interface{}) {
	if !b.IsLogging(Debug) {
		return
	}
	b.Emit(Debug, time.Now(), format, args...)
}

// Infof implements Logger.Infof.
func (b *BasicLogger) Infof(format string, args ...interface{}) {
	if !b.IsLogging(Info) {
		return
	}
	b.Emit(Info, time.Now(), format, args...)
}

// Warningf implements Logger.Warningf.
func (b *BasicLogger) Warningf(format string, args ...interface{}) {
	if !b.IsLogging(Warning) {
		return
	}
	b.Emit(Warning, time.Now(), format, args...)
}

// IsLogging implements Logger.IsLogging.
func (b *BasicLogger) IsLogging(level Level) bool {
	return atomic.LoadInt32((*int32)(&b.Level)) <= int32(level)
}

// SetLevel adjusts the minimum level that will reach the emitter.
func (b *BasicLogger) SetLevel(level Level) {
	atomic.StoreInt32((*int32)(&b.Level), int32(level))
}

// log is the default, package-level logger. It starts at Info so that
// Debugf calls are free unless explicitly enabled, writing plain text
// to stderr until a caller asks for something else via SetTarget.
var log Logger = &BasicLogger{Level: Info, Emitter: &Sink{Format: TextFormat, Out: &Writer{Next: os.Stderr}}}

// SetTarget sets the global logger implementation. It is not safe to
// call concurrently with logging calls.
func SetTarget(target Logger) {
	log = target
}

// Debugf logs a debug message to the global logger.
func Debugf(format string, v ...interface{}) {
	log.Debugf(format, v...)
}

// Infof logs an informational message to the global logger.
func Infof(format string, v ...interface{}) {
	log.Infof(format, v...)
}

// Warningf logs a warning message to the global logger.
func Warningf(format string, v ...interface{}) {
	log.Warningf(format, v...)
}

// IsLogging returns whether the given level is currently enabled.
func IsLogging(level Level) bool {
	return log.IsLogging(level)
}

// Log returns the current global logger.
func Log() Logger {
	return log
}
