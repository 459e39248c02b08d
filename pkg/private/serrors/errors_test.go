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

package serrors_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
)

var errTableFull = errors.New("table full")

type capacityError struct {
	capacity int
}

func (e *capacityError) Error() string {
	return fmt.Sprintf("capacity %d exhausted", e.capacity)
}

func newLogger(w io.Writer) *zap.Logger {
	return zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			MessageKey:  "msg",
			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,
		}),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	))
}

func TestChain(t *testing.T) {
	typed := &capacityError{capacity: 16}
	testCases := map[string]struct {
		err     error
		targets []error
	}{
		"new": {
			err: serrors.New("no rule"),
		},
		"wrap": {
			err:     serrors.Wrap("adding rule", errTableFull, "table", 1),
			targets: []error{errTableFull},
		},
		"wrap typed": {
			err:     serrors.Wrap("adding rule", typed),
			targets: []error{typed},
		},
		"join": {
			err:     serrors.JoinNoStack(errTableFull, typed, "table", 1),
			targets: []error{errTableFull, typed},
		},
		"join without cause": {
			err:     serrors.JoinNoStack(errTableFull, nil),
			targets: []error{errTableFull},
		},
		"nested": {
			err: serrors.Wrap("committing",
				serrors.JoinNoStack(errTableFull, serrors.Wrap("allocating", typed))),
			targets: []error{errTableFull, typed},
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, tc.err, tc.err)
			for _, target := range tc.targets {
				assert.ErrorIs(t, tc.err, target)
			}
			var capErr *capacityError
			assert.Equal(t, slices.Contains(tc.targets, error(typed)), errors.As(tc.err, &capErr))
		})
	}
}

func TestIdentity(t *testing.T) {
	a, b := serrors.New("no rule"), serrors.New("no rule")
	assert.NotErrorIs(t, a, b)
	assert.NotErrorIs(t, serrors.Wrap("x", a), b)
	// Errors carrying uncomparable context values must not panic in
	// errors.Is.
	c := serrors.JoinNoStack(errTableFull, nil, "ids", []int{1, 2})
	assert.NotErrorIs(t, c, serrors.JoinNoStack(errTableFull, nil, "ids", []int{1, 2}))
	assert.ErrorIs(t, c, c)
}

func TestEncoding(t *testing.T) {
	testCases := map[string]struct {
		err     error
		errText string
		keys    []string
	}{
		"new with context": {
			err:     serrors.New("rule rejected", "rule", 7, "matcher", 3),
			errText: "rule rejected {matcher=3; rule=7}",
			keys:    []string{"msg", "matcher", "rule", "stacktrace"},
		},
		"wrapped cause": {
			err: serrors.Wrap("creating rule",
				serrors.New("mask too large", "size", 0x184),
				"domain", "rx",
			),
			errText: "creating rule {domain=rx}: mask too large {size=388}",
			keys:    []string{"msg", "cause", "domain"},
		},
		"joined error no stack": {
			err: serrors.JoinNoStack(
				errors.New("duplicate rule"),
				errors.New("already exists"),
				"matcher", 1,
			),
			errText: "duplicate rule {matcher=1}: already exists",
			keys:    []string{"msg", "cause", "matcher"},
		},
		"odd context drops the dangling key": {
			err:     serrors.JoinNoStack(errTableFull, nil, "table", 2, "rule"),
			errText: "table full {table=2}",
			keys:    []string{"msg", "table"},
		},
		"error list": {
			err: serrors.List{
				serrors.New("table in use", "table", 1),
				errors.New("counter in use"),
			},
			errText: "[ table in use {table=1}; counter in use ]",
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			var b bytes.Buffer
			newLogger(&b).Sugar().Infow("Failed to do thing", "err", tc.err)

			var parsed map[string]any
			require.NoError(t, json.Unmarshal(b.Bytes(), &parsed), b.String())
			assert.Equal(t, tc.errText, tc.err.Error())
			if len(tc.keys) == 0 {
				return
			}
			errObj, ok := parsed["err"].(map[string]any)
			require.True(t, ok, b.String())
			for _, k := range tc.keys {
				assert.Contains(t, errObj, k)
			}
			if _, ok := errObj["stacktrace"]; ok {
				assert.NotEmpty(t, errObj["stacktrace"])
			}
		})
	}
}

func TestList(t *testing.T) {
	var errs serrors.List
	assert.NoError(t, errs.ToError())
	errs = append(errs, serrors.New("err1"), serrors.New("err2"))
	assert.EqualError(t, errs.ToError(), "[ err1; err2 ]")
}

func TestJoinNoStackNil(t *testing.T) {
	assert.NoError(t, serrors.JoinNoStack(nil, nil))
	err := serrors.JoinNoStack(nil, errTableFull, "table", 1)
	assert.ErrorIs(t, err, errTableFull)
	assert.EqualError(t, err, "table full {table=1}")
}

func TestAtMostOneStacktrace(t *testing.T) {
	err := errors.New("core")
	for i := range 20 {
		err = serrors.Wrap("wrap", err, "level", i)
	}
	var b bytes.Buffer
	newLogger(&b).Sugar().Infow("Failed to do thing", "err", err)
	assert.Equal(t, 1, bytes.Count(b.Bytes(), []byte("stacktrace")))

	b.Reset()
	joined := serrors.Wrap("wrap", serrors.JoinNoStack(errTableFull, nil))
	newLogger(&b).Sugar().Infow("Failed to do thing", "err", joined)
	assert.Zero(t, bytes.Count(b.Bytes(), []byte("stacktrace")))
}

func ExampleNew() {
	err := serrors.New("no free rule slot", "table", 3)
	fmt.Println(err)
	// Output:
	// no free rule slot {table=3}
}

func ExampleWrap() {
	err := serrors.Wrap("adding rule", errTableFull, "table", 3, "priority", 10)
	fmt.Println(err)
	fmt.Println(errors.Is(err, errTableFull))
	// Output:
	// adding rule {priority=10; table=3}: table full
	// true
}

func ExampleJoinNoStack() {
	errInvalid := errors.New("invalid rule")
	err := serrors.JoinNoStack(errInvalid, errTableFull, "rule", 12)
	fmt.Println(err)
	fmt.Println(errors.Is(err, errInvalid), errors.Is(err, errTableFull))
	// Output:
	// invalid rule {rule=12}: table full
	// true true
}
