// Copyright 2025 The flowsteer Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serrors

import (
	"fmt"
	"runtime"

	"go.uber.org/zap/zapcore"
)

const maxStackDepth = 32

// stack holds the program counters of the frames that created an error,
// innermost first.
type stack []uintptr

func callers() *stack {
	var pcs [maxStackDepth]uintptr
	// Skip runtime.Callers, callers, newDetails and the exported constructor.
	n := runtime.Callers(4, pcs[:])
	s := stack(pcs[:n])
	return &s
}

func (s *stack) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, pc := range *s {
		enc.AppendString(frame(pc))
	}
	return nil
}

// frame formats the frame as "function file:line".
func frame(pc uintptr) string {
	// pc is the return address, the call is one instruction earlier.
	fn := runtime.FuncForPC(pc - 1)
	if fn == nil {
		return "unknown"
	}
	file, line := fn.FileLine(pc - 1)
	return fmt.Sprintf("%s %s:%d", fn.Name(), file, line)
}
