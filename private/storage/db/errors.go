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

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
)

// Error classes of the storage backends. Backends join them with the cause,
// callers check them with errors.Is.
var (
	// ErrInvalidInputData indicates that the data to store is invalid.
	ErrInvalidInputData = errors.New("db: input data invalid")
	// ErrDataInvalid indicates that stored data could not be decoded.
	ErrDataInvalid = errors.New("db: stored data invalid")
	// ErrReadFailed indicates that reading from the DB failed.
	ErrReadFailed = errors.New("db: read failed")
	// ErrWriteFailed indicates that writing to the DB failed.
	ErrWriteFailed = errors.New("db: write failed")
)

func NewInputDataError(msg string, err error, logCtx ...any) error {
	return classify(ErrInvalidInputData, msg, err, logCtx)
}

func NewDataError(msg string, err error, logCtx ...any) error {
	return classify(ErrDataInvalid, msg, err, logCtx)
}

func NewReadError(msg string, err error, logCtx ...any) error {
	return classify(ErrReadFailed, msg, err, logCtx)
}

func NewWriteError(msg string, err error, logCtx ...any) error {
	return classify(ErrWriteFailed, msg, err, logCtx)
}

func classify(class error, msg string, err error, logCtx []any) error {
	return serrors.JoinNoStack(class, err, append([]any{"detailMsg", msg}, logCtx...)...)
}
