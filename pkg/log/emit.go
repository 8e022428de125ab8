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

package log

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Format selects how a Sink renders a log line. The engine only ever
// logs rare degradation events (allocator exhaustion, a policy
// rejection), never from the page-walk hot path, so a single Emitter
// type with a format switch is enough; there is no need for one
// wrapper type per output shape.
type Format int

const (
	// TextFormat renders a glog-style single-line header.
	TextFormat Format = iota
	// JSONFormat renders {"msg", "level", "time"} lines.
	JSONFormat
	// K8sJSONFormat renders {"log", "level", "time"} lines, matching
	// what a Kubernetes fluent pipeline expects of the log key.
	K8sJSONFormat
)

// Sink is the default Emitter: it formats a line as directed by
// Format and hands it to Out.
type Sink struct {
	Format Format
	Out    *Writer
}

// Emit implements Emitter.Emit.
func (s *Sink) Emit(level Level, timestamp time.Time, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if file, line, ok := callerLocation(); ok {
		msg = fmt.Sprintf("%s:%d] %s", file, line, msg)
	}

	switch s.Format {
	case JSONFormat:
		s.Out.Write(mustMarshal(struct {
			Msg   string `json:"msg"`
			Level Level  `json:"level"`
			Time  time.Time `json:"time"`
		}{msg, level, timestamp}))
	case K8sJSONFormat:
		s.Out.Write(mustMarshal(struct {
			Log   string `json:"log"`
			Level Level  `json:"level"`
			Time  time.Time `json:"time"`
		}{msg, level, timestamp}))
	default:
		month, day := timestamp.Month(), timestamp.Day()
		hour, minute, second := timestamp.Clock()
		micros := timestamp.Nanosecond() / 1000
		s.Out.Write([]byte(fmt.Sprintf("%c%02d%02d %02d:%02d:%02d.%06d %s",
			level.letter(), month, day, hour, minute, second, micros, msg)))
	}
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// callerLocation finds the engine/allocator call site that asked to
// log, trimming the frames inside this package.
func callerLocation() (file string, line int, ok bool) {
	_, file, line, ok = runtime.Caller(4)
	if !ok {
		return "", 0, false
	}
	if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
		file = file[slash+1:]
	}
	return file, line, true
}

func (l Level) letter() byte {
	switch l {
	case Debug:
		return 'D'
	case Info:
		return 'I'
	case Warning:
		return 'W'
	default:
		return '?'
	}
}

// MarshalJSON implements json.Marshaler.
func (l Level) MarshalJSON() ([]byte, error) {
	switch l {
	case Warning:
		return []byte(`"warning"`), nil
	case Info:
		return []byte(`"info"`), nil
	case Debug:
		return []byte(`"debug"`), nil
	default:
		return nil, fmt.Errorf("unknown level %v", l)
	}
}

// UnmarshalJSON implements json.Unmarshaler. It accepts both string
// names and integers.
func (l *Level) UnmarshalJSON(b []byte) error {
	switch s := string(b); s {
	case "0", `"warning"`:
		*l = Warning
	case "1", `"info"`:
		*l = Info
	case "2", `"debug"`:
		*l = Debug
	default:
		return fmt.Errorf("unknown level %q", s)
	}
	return nil
}

// CreateLogFile opens path for appending, creating it and any missing
// parent directories if necessary.
func CreateLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("creating dir %q: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0664)
	if err != nil {
		return nil, fmt.Errorf("opening log file %q: %w", path, err)
	}
	return f, nil
}
