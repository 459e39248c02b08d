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

// Package log is the logging facade used throughout flowsteer. It wraps a zap
// logger and exposes a key/value based API:
//
//	log.Info("Rule created", "domain", d, "rule", id)
//
// The context pairs must alternate between string keys and arbitrary values.
// Setup configures the process-wide root logger; until it is called all
// entries are discarded.
package log

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
)

// Level is the log level.
type Level zapcore.Level

// The different log levels.
const (
	DebugLevel = Level(zapcore.DebugLevel)
	InfoLevel  = Level(zapcore.InfoLevel)
	ErrorLevel = Level(zapcore.ErrorLevel)
)

// Logger describes the logger interface.
type Logger interface {
	New(ctx ...any) Logger
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Enabled(lvl Level) bool
}

var (
	zapLogger    = zap.NewNop()
	consoleLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Setup configures the logging library with the given config.
func Setup(cfg Config, opts ...Option) error {
	o := applyOptions(opts)
	if err := cfg.Validate(); err != nil {
		return err
	}
	lvl, err := parseLevel(cfg.Console.Level)
	if err != nil {
		return serrors.Wrap("parsing console level", err)
	}
	consoleLevel.SetLevel(lvl)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "ts"
	var enc zapcore.Encoder
	switch cfg.Console.Format {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	var out zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if o.writer != nil {
		out = zapcore.AddSync(o.writer)
	}
	zapOpts := []zap.Option{zap.AddCallerSkip(1 + o.callerSkip)}
	if !cfg.Console.DisableCaller {
		zapOpts = append(zapOpts, zap.AddCaller())
	}
	if cfg.Console.StacktraceLevel != "" && cfg.Console.StacktraceLevel != "none" {
		stLvl, err := parseLevel(cfg.Console.StacktraceLevel)
		if err != nil {
			return serrors.Wrap("parsing stacktrace level", err)
		}
		zapOpts = append(zapOpts, zap.AddStacktrace(stLvl))
	}
	if o.entriesCounter != nil {
		zapOpts = append(zapOpts, zap.Hooks(o.entriesCounter.hook))
	}
	zapLogger = zap.New(zapcore.NewCore(enc, out, consoleLevel), zapOpts...)
	zap.ReplaceGlobals(zapLogger)
	return nil
}

// ConsoleLevel returns the dynamic console level. It can be served over HTTP
// to inspect and change the level at runtime.
func ConsoleLevel() zap.AtomicLevel {
	return consoleLevel
}

// HandlePanic catches panics and logs them. It is meant to be deferred at the
// start of every goroutine.
func HandlePanic() {
	if msg := recover(); msg != nil {
		zapLogger.Error("Panic", zap.Any("msg", msg), zap.String("stack", string(debug.Stack())))
		zapLogger.Error("=====================> Service panicked!")
		Flush()
		os.Exit(255)
	}
}

// Flush writes the logs to the underlying buffer.
func Flush() {
	_ = zapLogger.Sync()
}

func parseLevel(lvl string) (zapcore.Level, error) {
	var l zapcore.Level
	switch strings.ToLower(lvl) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug", "dbug":
		return zapcore.DebugLevel, nil
	case "error", "eror", "crit":
		return zapcore.ErrorLevel, nil
	}
	if err := l.UnmarshalText([]byte(lvl)); err != nil {
		return l, fmt.Errorf("unknown level %q", lvl)
	}
	return l, nil
}

type logger struct {
	logger *zap.Logger
}

// New creates a logger with the given context.
func New(ctx ...any) Logger {
	return &logger{logger: zapLogger.With(convertCtx(ctx)...)}
}

// Root returns the root logger. It's a logger without any context.
func Root() Logger {
	return &logger{logger: zapLogger}
}

func (l *logger) New(ctx ...any) Logger {
	return &logger{logger: l.logger.With(convertCtx(ctx)...)}
}

func (l *logger) Debug(msg string, ctx ...any) {
	l.logger.Debug(msg, convertCtx(ctx)...)
}

func (l *logger) Info(msg string, ctx ...any) {
	l.logger.Info(msg, convertCtx(ctx)...)
}

func (l *logger) Error(msg string, ctx ...any) {
	l.logger.Error(msg, convertCtx(ctx)...)
}

func (l *logger) Enabled(lvl Level) bool {
	return l.logger.Core().Enabled(zapcore.Level(lvl))
}

// WithOptions returns a copy of the logger with the zap options applied.
func (l *logger) WithOptions(opts ...zap.Option) Logger {
	return &logger{logger: l.logger.WithOptions(opts...)}
}

// Debug logs at debug level.
func Debug(msg string, ctx ...any) {
	zapLogger.Debug(msg, convertCtx(ctx)...)
}

// Info logs at info level.
func Info(msg string, ctx ...any) {
	zapLogger.Info(msg, convertCtx(ctx)...)
}

// Error logs at error level.
func Error(msg string, ctx ...any) {
	zapLogger.Error(msg, convertCtx(ctx)...)
}

// SafeDebug logs to l only if l is not nil.
func SafeDebug(l Logger, msg string, ctx ...any) {
	if l == nil {
		return
	}
	l.Debug(msg, ctx...)
}

// SafeInfo logs to l only if l is not nil.
func SafeInfo(l Logger, msg string, ctx ...any) {
	if l == nil {
		return
	}
	l.Info(msg, ctx...)
}

// SafeError logs to l only if l is not nil.
func SafeError(l Logger, msg string, ctx ...any) {
	if l == nil {
		return
	}
	l.Error(msg, ctx...)
}

func convertCtx(ctx []any) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		key, ok := ctx[i].(string)
		if !ok {
			key = fmt.Sprint(ctx[i])
		}
		fields = append(fields, zap.Any(key, ctx[i+1]))
	}
	return fields
}
