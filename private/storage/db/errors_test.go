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

package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	cause := errors.New("disk I/O error")
	testCases := map[string]struct {
		Class error
		New   func(string, error, ...any) error
	}{
		"input":  {Class: ErrInvalidInputData, New: NewInputDataError},
		"stored": {Class: ErrDataInvalid, New: NewDataError},
		"read":   {Class: ErrReadFailed, New: NewReadError},
		"write":  {Class: ErrWriteFailed, New: NewWriteError},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			err := tc.New("inserting rule", nil)
			assert.Equal(t, tc.Class.Error()+" {detailMsg=inserting rule}", err.Error())

			err = tc.New("inserting rule", cause, "id", 3)
			assert.ErrorIs(t, err, tc.Class)
			assert.ErrorIs(t, err, cause)
			assert.Equal(t, tc.Class.Error()+" {detailMsg=inserting rule; id=3}: disk I/O error",
				err.Error())
		})
	}
}
