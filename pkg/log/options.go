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

package log

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zapcore"
)

// Option is a function that sets an option.
type Option func(o *options)

type options struct {
	writer         io.Writer
	callerSkip     int
	entriesCounter *entriesCounter
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithWriter redirects the console output to w.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// AddCallerSkip increases the number of callers skipped by caller annotation.
func AddCallerSkip(skip int) Option {
	return func(o *options) {
		o.callerSkip = skip
	}
}

// WithEntriesCounter registers a hook that counts the emitted entries per
// level.
func WithEntriesCounter(c EntriesCounter) Option {
	return func(o *options) {
		o.entriesCounter = &entriesCounter{EntriesCounter: c}
	}
}

// EntriesCounter holds the counters that are increased for every emitted log
// entry.
type EntriesCounter struct {
	Debug prometheus.Counter
	Info  prometheus.Counter
	Error prometheus.Counter
}

type entriesCounter struct {
	EntriesCounter
}

func (c *entriesCounter) hook(e zapcore.Entry) error {
	var counter prometheus.Counter
	switch e.Level {
	case zapcore.DebugLevel:
		counter = c.Debug
	case zapcore.InfoLevel:
		counter = c.Info
	case zapcore.ErrorLevel:
		counter = c.Error
	}
	if counter != nil {
		counter.Inc()
	}
	return nil
}
