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

// Package rules defines the storage of rules added at runtime.
package rules

import (
	"context"
	"io"
	"time"

	"github.com/flowsteer/flowsteer/private/steering/program"
)

// Entry is a stored rule.
type Entry struct {
	ID      int64
	Device  string
	Domain  string
	Rule    program.Rule
	Created time.Time
}

// DB stores rules.
type DB interface {
	io.Closer
	// InsertRule stores the rule and returns the ID of the entry.
	InsertRule(ctx context.Context, device, domain string, r program.Rule) (int64, error)
	// DeleteRule deletes the entry. Deleting an unknown entry is not an error.
	DeleteRule(ctx context.Context, id int64) error
	// Rules returns all entries in insertion order.
	Rules(ctx context.Context) ([]Entry, error)
}
