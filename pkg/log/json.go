// Copyright 2026 The gVisor Authors.
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
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// jsonRecord is one line of JSON output.
//
// Messages logged on behalf of a task carry a "[ pid:name] " prefix. The
// prefix is lifted into PID and Process so that records can be filtered by
// process without parsing Msg.
type jsonRecord struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Source  string    `json:"source,omitempty"`
	PID     int32     `json:"pid,omitempty"`
	Process string    `json:"process,omitempty"`
	Msg     string    `json:"msg"`
}

var levelNames = map[Level]string{
	Warning: "warning",
	Info:    "info",
	Debug:   "debug",
}

// MarshalJSON implements json.Marshaler.MarshalJSON.
func (l Level) MarshalJSON() ([]byte, error) {
	name, ok := levelNames[l]
	if !ok {
		return nil, fmt.Errorf("unknown level %v", l)
	}
	return strconv.AppendQuote(nil, name), nil
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. It accepts the
// level's name or its number.
func (l *Level) UnmarshalJSON(b []byte) error {
	s := string(b)
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		if _, ok := levelNames[Level(n)]; ok {
			*l = Level(n)
			return nil
		}
		return fmt.Errorf("unknown level %s", s)
	}
	if name, err := strconv.Unquote(s); err == nil {
		for lv, n := range levelNames {
			if n == name {
				*l = lv
				return nil
			}
		}
	}
	return fmt.Errorf("unknown level %s", s)
}

// splitTaskPrefix splits a "[ pid:name] " prefix off msg. ok is false if msg
// has no such prefix.
func splitTaskPrefix(msg string) (pid int32, name, rest string, ok bool) {
	if !strings.HasPrefix(msg, "[") {
		return 0, "", msg, false
	}
	tag, rest, found := strings.Cut(msg[1:], "] ")
	if !found {
		return 0, "", msg, false
	}
	id, name, found := strings.Cut(tag, ":")
	if !found {
		return 0, "", msg, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 32)
	if err != nil {
		return 0, "", msg, false
	}
	return int32(n), name, rest, true
}

// JSONEmitter logs one JSON object per message.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	r := jsonRecord{
		Time:  timestamp,
		Level: level,
		Msg:   fmt.Sprintf(format, v...),
	}
	if pid, name, rest, ok := splitTaskPrefix(r.Msg); ok {
		r.PID, r.Process, r.Msg = pid, name, rest
	}
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		r.Source = filepath.Base(file) + ":" + strconv.Itoa(line)
	}
	b, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	e.Writer.Write(b)
}
