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

package steering

import (
	"fmt"
	"slices"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering/packet"
)

// ActionKind is the kind of an action.
type ActionKind uint8

const (
	ActionDrop ActionKind = iota + 1
	ActionFlowCounter
	ActionTag
	ActionDestTable
	ActionModifyHeader
	ActionQp
)

func (k ActionKind) String() string {
	switch k {
	case ActionDrop:
		return "drop"
	case ActionFlowCounter:
		return "flow_counter"
	case ActionTag:
		return "tag"
	case ActionDestTable:
		return "dest_table"
	case ActionModifyHeader:
		return "modify_header"
	case ActionQp:
		return "qp"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Action is a single step of the action chain of a rule. Actions are created
// with the constructor of their kind.
type Action struct {
	Kind    ActionKind
	counter *Counter
	tag     uint32
	table   TableID
	modify  *ModifyHeader
	queue   *Queue
}

// Drop discards the packet.
func Drop() Action {
	return Action{Kind: ActionDrop}
}

// FlowCounter counts the packet and its length in c.
func FlowCounter(c *Counter) Action {
	return Action{Kind: ActionFlowCounter, counter: c}
}

// Tag attaches the flow tag v to the packet. Only valid in RX domains.
func Tag(v uint32) Action {
	return Action{Kind: ActionTag, tag: v}
}

// DestTable continues the evaluation in table t.
func DestTable(t TableID) Action {
	return Action{Kind: ActionDestTable, table: t}
}

// Modify rewrites the packet headers.
func Modify(m *ModifyHeader) Action {
	return Action{Kind: ActionModifyHeader, modify: m}
}

// Qp delivers the packet to queue q. Only valid in RX domains.
func Qp(q *Queue) Action {
	return Action{Kind: ActionQp, queue: q}
}

func (a Action) Counter() *Counter           { return a.counter }
func (a Action) TagValue() uint32            { return a.tag }
func (a Action) Table() TableID              { return a.table }
func (a Action) ModifyHeader() *ModifyHeader { return a.modify }
func (a Action) Queue() *Queue               { return a.queue }

func (a Action) String() string {
	switch a.Kind {
	case ActionFlowCounter:
		if a.counter == nil {
			return "flow_counter(<nil>)"
		}
		return fmt.Sprintf("flow_counter(%s)", a.counter.name)
	case ActionTag:
		return fmt.Sprintf("tag(%#x)", a.tag)
	case ActionDestTable:
		return fmt.Sprintf("dest_table(%s)", a.table)
	case ActionModifyHeader:
		if a.modify == nil {
			return "modify_header(<nil>)"
		}
		return fmt.Sprintf("modify_header(%d ops)", len(a.modify.actions))
	case ActionQp:
		if a.queue == nil {
			return "qp(<nil>)"
		}
		return fmt.Sprintf("qp(%s)", a.queue.name)
	default:
		return a.Kind.String()
	}
}

// ModifyHeaderRootLevel allows a modify header action in the root table.
const ModifyHeaderRootLevel uint32 = 0x1

// ModifyHeader is a list of header rewrites created for one domain.
type ModifyHeader struct {
	domain  uint32
	flags   uint32
	actions []packet.SetAction
}

func (m *ModifyHeader) Flags() uint32 { return m.flags }

// Actions returns a copy of the set actions.
func (m *ModifyHeader) Actions() []packet.SetAction {
	return slices.Clone(m.actions)
}

// CreateModifyHeader validates the set actions and creates a modify header
// action usable in rules of this domain.
func (d *Domain) CreateModifyHeader(
	flags uint32,
	actions []packet.SetAction,
) (*ModifyHeader, error) {

	if flags&^ModifyHeaderRootLevel != 0 {
		return nil, serrors.JoinNoStack(ErrUnsupportedAction, nil, "flags", flags)
	}
	if len(actions) == 0 {
		return nil, serrors.JoinNoStack(ErrUnsupportedAction, nil,
			"reason", "no set actions")
	}
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return nil, serrors.JoinNoStack(ErrUnsupportedAction, err, "index", i)
		}
	}
	return &ModifyHeader{
		domain:  d.id,
		flags:   flags,
		actions: slices.Clone(actions),
	}, nil
}
