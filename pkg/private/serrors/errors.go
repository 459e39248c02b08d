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

// Package serrors provides errors that carry context as key value pairs.
// The context is part of the error message and is logged as structured
// fields when the error is passed to a zap logger.
//
// All errors support errors.Is and errors.As. An error wrapped with Wrap
// stays in the chain, JoinNoStack keeps both the joined error and its cause.
// Errors compare by identity: two errors created with the same message are
// not equal.
package serrors

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type field struct {
	key   string
	value any
}

// details holds what all errors of this package carry besides their
// message.
type details struct {
	fields []field
	cause  error
	// stack is only recorded by the innermost error of this package in a
	// chain.
	stack *stack
}

func newDetails(cause error, withStack bool, errCtx []any) details {
	d := details{cause: cause, fields: make([]field, 0, len(errCtx)/2)}
	for i := 0; i+1 < len(errCtx); i += 2 {
		d.fields = append(d.fields, field{key: fmt.Sprint(errCtx[i]), value: errCtx[i+1]})
	}
	slices.SortStableFunc(d.fields, func(a, b field) int {
		return strings.Compare(a.key, b.key)
	})
	if withStack && !fromPackage(cause) {
		d.stack = callers()
	}
	return d
}

func fromPackage(err error) bool {
	if err == nil {
		return false
	}
	var m *msgError
	var j *joinError
	return errors.As(err, &m) || errors.As(err, &j)
}

// format appends the context and the cause to the message in b.
func (d *details) format(b *strings.Builder) string {
	if len(d.fields) > 0 {
		b.WriteString(" {")
		for i, f := range d.fields {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(b, "%s=%v", f.key, f.value)
		}
		b.WriteByte('}')
	}
	if d.cause != nil {
		b.WriteString(": ")
		b.WriteString(d.cause.Error())
	}
	return b.String()
}

func (d *details) marshal(enc zapcore.ObjectEncoder) error {
	if d.cause != nil {
		if m, ok := d.cause.(zapcore.ObjectMarshaler); ok {
			if err := enc.AddObject("cause", m); err != nil {
				return err
			}
		} else {
			enc.AddString("cause", d.cause.Error())
		}
	}
	if d.stack != nil {
		if err := enc.AddArray("stacktrace", d.stack); err != nil {
			return err
		}
	}
	for _, f := range d.fields {
		zap.Any(f.key, f.value).AddTo(enc)
	}
	return nil
}

type msgError struct {
	msg string
	details
}

func (e *msgError) Error() string {
	var b strings.Builder
	b.WriteString(e.msg)
	return e.format(&b)
}

func (e *msgError) Unwrap() error {
	return e.cause
}

func (e *msgError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("msg", e.msg)
	return e.marshal(enc)
}

// New creates an error with the given message and context and records the
// stack. Sentinel errors should use errors.New instead, the stack and the
// context of a sentinel carry no information.
func New(msg string, errCtx ...any) error {
	return &msgError{msg: msg, details: newDetails(nil, true, errCtx)}
}

// Wrap creates an error with the given message and context around cause.
// The stack is recorded unless cause already contains an error of this
// package.
func Wrap(msg string, cause error, errCtx ...any) error {
	return &msgError{msg: msg, details: newDetails(cause, true, errCtx)}
}

type joinError struct {
	err error
	details
}

func (e *joinError) Error() string {
	var b strings.Builder
	b.WriteString(e.err.Error())
	return e.format(&b)
}

func (e *joinError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.err}
	}
	return []error{e.err, e.cause}
}

func (e *joinError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("msg", e.err.Error())
	return e.marshal(enc)
}

// JoinNoStack attaches context and an optional cause to err, typically a
// sentinel error. Both err and cause match with errors.Is. No stack is
// recorded. It returns nil if err and cause are nil.
func JoinNoStack(err, cause error, errCtx ...any) error {
	if err == nil {
		if cause == nil {
			return nil
		}
		err, cause = cause, nil
	}
	return &joinError{err: err, details: newDetails(cause, false, errCtx)}
}

// List collects errors, e.g. of cleanup steps that all have to run.
type List []error

func (e List) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "[ " + strings.Join(msgs, "; ") + " ]"
}

// ToError returns nil for an empty list and the list otherwise.
func (e List) ToError() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func (e List) MarshalLogArray(ae zapcore.ArrayEncoder) error {
	for _, err := range e {
		m, ok := err.(zapcore.ObjectMarshaler)
		if !ok {
			ae.AppendString(err.Error())
			continue
		}
		if err := ae.AppendObject(m); err != nil {
			return err
		}
	}
	return nil
}
