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

// Package driver defines the interface between the steering engine and the
// hardware (or software) that materializes its tables.
//
// The engine never programs a device directly. It opens a context per device
// and submits the state of every changed table as a TableDiff. Counters and
// completions are read back through the same interface.
package driver

//go:generate mockgen -destination=mock_driver/mock.go -package=mock_driver github.com/flowsteer/flowsteer/pkg/steering/driver Driver

import (
	"context"
	"errors"

	"github.com/flowsteer/flowsteer/pkg/steering/packet"
)

// ErrNoCompletion is returned by PollCompletion if no completion is pending.
var ErrNoCompletion = errors.New("no completion pending")

// Driver materializes steering state.
type Driver interface {
	// OpenContext opens the named device.
	OpenContext(ctx context.Context, device string) (Context, error)
	// SubmitTableProgram applies the table diff to the domain. The call
	// must be atomic: either all tables of the diff are applied or none.
	SubmitTableProgram(ctx context.Context, domain DomainInfo, diff TableDiff) error
	// ReadCounter returns the hardware statistics of the counter.
	ReadCounter(ctx context.Context, dev Context, counter uint64) (CounterStats, error)
	// PollCompletion returns the next completion of the queue. It returns
	// ErrNoCompletion if none is pending.
	PollCompletion(ctx context.Context, dev Context, queue uint64) (Completion, error)
}

// Context is an opened device.
type Context struct {
	Device string
	Handle uint64
}

// DomainInfo identifies a domain of an opened device.
type DomainInfo struct {
	Context Context
	ID      uint32
	Type    string
}

// TableDiff is the set of tables that changed in a domain since the last
// submitted generation.
type TableDiff struct {
	Generation uint64
	// Root is the ID of the root table, 0 if the domain has none.
	Root uint64
	// Tables contains the full state of every added or modified table.
	Tables []TableProgram
	// Removed contains the IDs of destroyed tables.
	Removed []uint64
}

// Empty reports whether the diff changes nothing.
func (d TableDiff) Empty() bool {
	return len(d.Tables) == 0 && len(d.Removed) == 0
}

type TableProgram struct {
	ID       uint64
	Level    uint32
	Matchers []MatcherProgram
}

type MatcherProgram struct {
	ID       uint64
	Priority uint32
	Criteria uint8
	Mask     []byte
	Rules    []RuleProgram
}

type RuleProgram struct {
	ID      uint64
	Value   []byte
	Actions []ActionProgram
}

// ActionKind names an action in a program.
type ActionKind string

const (
	ActionDrop         ActionKind = "drop"
	ActionFlowCounter  ActionKind = "flow_counter"
	ActionTag          ActionKind = "tag"
	ActionDestTable    ActionKind = "dest_table"
	ActionModifyHeader ActionKind = "modify_header"
	ActionQp           ActionKind = "qp"
)

// ActionProgram is a single action. Only the fields of its kind are set.
type ActionProgram struct {
	Kind    ActionKind
	Counter uint64
	Tag     uint32
	Table   uint64
	Queue   uint64
	Flags   uint32
	Modify  []packet.SetAction
}

// CounterStats are the statistics of a flow counter.
type CounterStats struct {
	Packets uint64
	Bytes   uint64
}

// Completion is a packet received on a queue.
type Completion struct {
	Frame   []byte
	FlowTag uint32
	HasTag  bool
}
