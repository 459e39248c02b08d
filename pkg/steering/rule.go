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
	"bytes"
	"context"
	"slices"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering/match"
)

// CreateRule creates a rule in the matcher. The value must have the size of
// the matcher mask. Counters, queues and destination tables used by the
// actions are referenced until the rule is destroyed. On error the domain is
// left unchanged.
func (d *Domain) CreateRule(
	ctx context.Context,
	matcher MatcherID,
	value match.Params,
	actions []Action,
) (RuleID, error) {

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return RuleID{}, err
	}
	m, err := d.lookupMatcher(matcher)
	if err != nil {
		return RuleID{}, err
	}
	masked, err := value.And(m.mask)
	if err != nil {
		return RuleID{}, serrors.JoinNoStack(ErrLengthMismatch, nil,
			"value", value.Size(), "mask", m.mask.Size())
	}
	if !d.allowDup {
		for _, r := range m.rules {
			if bytes.Equal(r.masked.Raw(), masked.Raw()) {
				return RuleID{}, serrors.JoinNoStack(ErrDuplicateRule, ErrAlreadyExists,
					"matcher", matcher, "rule", r.id)
			}
		}
	}
	for i, a := range actions {
		if err := d.validateActionLocked(m.table, a); err != nil {
			return RuleID{}, serrors.Wrap("invalid action", err, "index", i, "action", a)
		}
	}

	var tx txn
	if err := d.acquireLocked(&tx, actions); err != nil {
		tx.abort()
		return RuleID{}, err
	}
	r := d.nextRef()
	rs := &ruleState{
		matcher: m,
		value:   value,
		masked:  masked,
		actions: slices.Clone(actions),
	}
	r.slot = d.rules.insert(r.seq, rs)
	rs.id = RuleID{r}
	tx.onAbort(func() { d.rules.remove(r.slot, r.seq) })
	m.rules = append(m.rules, rs)
	tx.onAbort(func() { m.rules = m.rules[:len(m.rules)-1] })
	d.markDirty(&tx, m.table)
	if err := d.commitLocked(ctx, &tx); err != nil {
		return RuleID{}, serrors.Wrap("creating rule", err, "matcher", matcher)
	}
	return rs.id, nil
}

// DestroyRule destroys the rule and releases the resources its actions
// reference.
func (d *Domain) DestroyRule(ctx context.Context, id RuleID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	r, err := d.lookupRule(id)
	if err != nil {
		return err
	}
	var tx txn
	d.destroyRuleLocked(&tx, r)
	if err := d.commitLocked(ctx, &tx); err != nil {
		return serrors.Wrap("destroying rule", err, "rule", id)
	}
	return nil
}

func (d *Domain) destroyRuleLocked(tx *txn, r *ruleState) {
	m := r.matcher
	i := slices.Index(m.rules, r)
	m.rules = slices.Delete(m.rules, i, i+1)
	tx.onAbort(func() { m.rules = slices.Insert(m.rules, i, r) })
	id := r.id
	d.rules.remove(id.slot, id.seq)
	tx.onAbort(func() { d.rules.restore(id.slot, id.seq, r) })
	d.releaseLocked(tx, r.actions)
	d.markDirty(tx, m.table)
}

// validateActionLocked checks that the action can be used in a rule of the
// table.
func (d *Domain) validateActionLocked(t *tableState, a Action) error {
	switch a.Kind {
	case ActionDrop:
		return nil
	case ActionFlowCounter:
		if a.counter == nil {
			return serrors.JoinNoStack(ErrDanglingReference, nil, "reason", "nil counter")
		}
		if a.counter.dev != d.dev {
			return serrors.JoinNoStack(ErrUnsupportedAction, nil,
				"reason", "counter of another device", "counter", a.counter.name)
		}
		return nil
	case ActionTag:
		if d.typ != NICRX {
			return serrors.JoinNoStack(ErrUnsupportedAction, nil,
				"reason", "tag outside of RX domain")
		}
		return nil
	case ActionDestTable:
		if a.table.IsZero() {
			return serrors.JoinNoStack(ErrDanglingReference, nil, "reason", "unset table")
		}
		if a.table.domain != d.id {
			return serrors.JoinNoStack(ErrUnsupportedAction, nil,
				"reason", "table of another domain", "table", a.table)
		}
		if _, ok := d.tables.get(a.table.slot, a.table.seq); !ok {
			return serrors.JoinNoStack(ErrDanglingReference, nil, "table", a.table)
		}
		return nil
	case ActionModifyHeader:
		if a.modify == nil {
			return serrors.JoinNoStack(ErrDanglingReference, nil,
				"reason", "nil modify header")
		}
		if a.modify.domain != d.id {
			return serrors.JoinNoStack(ErrUnsupportedAction, nil,
				"reason", "modify header of another domain")
		}
		if t.level == 0 && a.modify.flags&ModifyHeaderRootLevel == 0 {
			return serrors.JoinNoStack(ErrUnsupportedAction, nil,
				"reason", "modify header without root level flag in level 0 table")
		}
		return nil
	case ActionQp:
		if d.typ != NICRX {
			return serrors.JoinNoStack(ErrUnsupportedAction, nil,
				"reason", "queue outside of RX domain")
		}
		if a.queue == nil {
			return serrors.JoinNoStack(ErrDanglingReference, nil, "reason", "nil queue")
		}
		if a.queue.dev != d.dev {
			return serrors.JoinNoStack(ErrUnsupportedAction, nil,
				"reason", "queue of another device", "queue", a.queue.name)
		}
		return nil
	default:
		return serrors.JoinNoStack(ErrUnsupportedAction, nil, "kind", a.Kind)
	}
}

// acquireLocked takes the references of the actions. Device resources are
// released again if the transaction aborts.
func (d *Domain) acquireLocked(tx *txn, actions []Action) error {
	for _, a := range actions {
		var res *resource
		switch a.Kind {
		case ActionFlowCounter:
			res = &a.counter.resource
		case ActionQp:
			res = &a.queue.resource
		case ActionDestTable:
			t, _ := d.tables.get(a.table.slot, a.table.seq)
			t.refs++
			tx.onAbort(func() { t.refs-- })
			continue
		default:
			continue
		}
		if err := res.acquire(); err != nil {
			return serrors.Wrap("acquiring resource", err, "action", a)
		}
		tx.onAbort(res.release)
	}
	return nil
}

// releaseLocked drops the references of the actions. Device resources are
// only released once the transaction commits, so an abort never has to
// reacquire a resource that got destroyed in the meantime.
func (d *Domain) releaseLocked(tx *txn, actions []Action) {
	for _, a := range actions {
		switch a.Kind {
		case ActionFlowCounter:
			tx.afterCommit(a.counter.release)
		case ActionQp:
			tx.afterCommit(a.queue.release)
		case ActionDestTable:
			// The target may already be gone if it was destroyed with
			// cascade.
			if t, ok := d.tables.get(a.table.slot, a.table.seq); ok {
				t.refs--
				tx.onAbort(func() { t.refs++ })
			}
		}
	}
}
