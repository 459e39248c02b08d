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

// Package testlog provides a logger that writes to the test log.
package testlog

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/flowsteer/flowsteer/pkg/log"
)

// NewLogger returns a logger that writes all messages to t. The output is
// only shown for failed tests or with -v.
func NewLogger(t testing.TB, opts ...zaptest.LoggerOption) log.Logger {
	return testLogger{z: zaptest.NewLogger(t, opts...)}
}

type testLogger struct {
	z *zap.Logger
}

func (l testLogger) New(ctx ...any) log.Logger {
	return testLogger{z: l.z.With(fields(ctx)...)}
}

func (l testLogger) Debug(msg string, ctx ...any) { l.z.Debug(msg, fields(ctx)...) }
func (l testLogger) Info(msg string, ctx ...any)  { l.z.Info(msg, fields(ctx)...) }
func (l testLogger) Error(msg string, ctx ...any) { l.z.Error(msg, fields(ctx)...) }

func (l testLogger) Enabled(lvl log.Level) bool {
	return l.z.Core().Enabled(zapcore.Level(lvl))
}

func fields(ctx []any) []zap.Field {
	f := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		f = append(f, zap.Any(ctx[i].(string), ctx[i+1]))
	}
	return f
}
