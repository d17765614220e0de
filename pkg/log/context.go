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
	"context"
)

type contextID int

// CtxLogger is a Context.Value key for a Logger.
const CtxLogger contextID = iota

// WithLogger returns a copy of ctx that logs through l.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, l)
}

// FromContext returns the Logger carried by ctx, or the global logger if
// there is none.
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(CtxLogger).(Logger); ok {
			return l
		}
	}
	return Log()
}
