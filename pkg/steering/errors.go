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

// Package steering implements a software flow steering engine.
//
// A Device is opened on a driver and owns domains, flow counters and
// queues. A Domain is the root of a receive (RX) or transmit (TX) pipeline.
// It owns leveled tables, tables own matchers holding a mask, and matchers
// own rules holding a value and an action chain:
//
//	Device -> Domain -> Table -> Matcher -> Rule -> Actions
//
// Tables, matchers and rules live in a per domain arena and are referenced by
// typed IDs that are validated on every use. Mutations are serialized per
// domain and publish an immutable program that packet evaluation reads
// without locking.
//
// Packets are evaluated starting at the root table, the first level 0 table
// of the domain. Matchers are tried in ascending priority, ties in creation
// order. The first matcher with a matching rule wins, and among its matching
// rules the first created one executes its actions in order. Drop and
// DestTable end the processing of a table, all other actions continue with
// the next action of the chain.
package steering

import (
	"errors"
	"syscall"

	"github.com/flowsteer/flowsteer/pkg/steering/match"
)

var (
	// ErrInvalidMask is returned for masks larger than match.MaxSize or
	// masks setting bits outside of their enabled criteria.
	ErrInvalidMask = match.ErrInvalidMask
	// ErrLengthMismatch is returned if a rule value and its matcher mask
	// differ in size.
	ErrLengthMismatch = match.ErrLengthMismatch
	// ErrDuplicateRule is returned if a domain disallows duplicate rules and
	// a rule with the same masked value exists in the matcher. It is always
	// joined with ErrAlreadyExists.
	ErrDuplicateRule = errors.New("duplicate rule")
	// ErrAlreadyExists is the errno style condition behind ErrDuplicateRule.
	ErrAlreadyExists = syscall.EEXIST
	// ErrDanglingReference is returned if an ID or resource refers to a
	// destroyed object.
	ErrDanglingReference = errors.New("dangling reference")
	// ErrSteeringLoopDetected is reported for packets exceeding the hop
	// limit of DestTable jumps.
	ErrSteeringLoopDetected = errors.New("steering loop detected")
	// ErrUnsupportedAction is returned for actions not valid in a domain,
	// e.g. queue delivery in a TX domain or resources of another domain.
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrInUse is returned when destroying an object with live dependents.
	ErrInUse = errors.New("in use")
	// ErrClosed is returned when operating on a closed device or domain.
	ErrClosed = errors.New("closed")
)
