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
	"context"
	"slices"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering/match"
)

type tableState struct {
	id       TableID
	level    uint32
	matchers []*matcherState
	// refs counts the DestTable actions of live rules targeting the table.
	refs int
}

type matcherState struct {
	id       MatcherID
	table    *tableState
	priority uint32
	criteria match.Criteria
	mask     match.Params
	rules    []*ruleState
}

// before reports whether m is evaluated before o.
func (m *matcherState) before(o *matcherState) bool {
	if m.priority != o.priority {
		return m.priority < o.priority
	}
	return m.id.seq < o.id.seq
}

type ruleState struct {
	id      RuleID
	matcher *matcherState
	value   match.Params
	masked  match.Params
	actions []Action
}

func (d *Domain) markDirty(tx *txn, t *tableState) {
	if _, ok := d.dirty[t.id]; ok {
		return
	}
	d.dirty[t.id] = struct{}{}
	tx.onAbort(func() { delete(d.dirty, t.id) })
}

func (d *Domain) lookupTable(id TableID) (*tableState, error) {
	if id.domain != d.id {
		return nil, serrors.JoinNoStack(ErrDanglingReference, nil,
			"table", id, "reason", "foreign domain")
	}
	t, ok := d.tables.get(id.slot, id.seq)
	if !ok {
		return nil, serrors.JoinNoStack(ErrDanglingReference, nil, "table", id)
	}
	return t, nil
}

func (d *Domain) lookupMatcher(id MatcherID) (*matcherState, error) {
	if id.domain != d.id {
		return nil, serrors.JoinNoStack(ErrDanglingReference, nil,
			"matcher", id, "reason", "foreign domain")
	}
	m, ok := d.matchers.get(id.slot, id.seq)
	if !ok {
		return nil, serrors.JoinNoStack(ErrDanglingReference, nil, "matcher", id)
	}
	return m, nil
}

func (d *Domain) lookupRule(id RuleID) (*ruleState, error) {
	if id.domain != d.id {
		return nil, serrors.JoinNoStack(ErrDanglingReference, nil,
			"rule", id, "reason", "foreign domain")
	}
	r, ok := d.rules.get(id.slot, id.seq)
	if !ok {
		return nil, serrors.JoinNoStack(ErrDanglingReference, nil, "rule", id)
	}
	return r, nil
}

// CreateTable creates a table at the given level. The first level 0 table of
// the domain is its root table.
func (d *Domain) CreateTable(ctx context.Context, level uint32) (TableID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return TableID{}, err
	}
	var tx txn
	r := d.nextRef()
	t := &tableState{level: level}
	r.slot = d.tables.insert(r.seq, t)
	t.id = TableID{r}
	tx.onAbort(func() { d.tables.remove(r.slot, r.seq) })
	d.markDirty(&tx, t)
	if err := d.commitLocked(ctx, &tx); err != nil {
		return TableID{}, serrors.Wrap("creating table", err, "level", level)
	}
	d.logger.Debug("Table created", "table", t.id, "level", level)
	return t.id, nil
}

// DestroyTable destroys the table. It fails with ErrInUse while the table
// has matchers or is the target of DestTable actions, unless cascade is set.
// With cascade the matchers and rules of the table are destroyed and
// DestTable actions of other tables targeting it become dangling.
func (d *Domain) DestroyTable(ctx context.Context, id TableID, cascade bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	t, err := d.lookupTable(id)
	if err != nil {
		return err
	}
	if !cascade && (len(t.matchers) > 0 || t.refs > 0) {
		return serrors.JoinNoStack(ErrInUse, nil, "table", id,
			"matchers", len(t.matchers), "refs", t.refs)
	}
	var tx txn
	d.destroyTableLocked(&tx, t)
	if err := d.commitLocked(ctx, &tx); err != nil {
		return serrors.Wrap("destroying table", err, "table", id)
	}
	d.logger.Debug("Table destroyed", "table", id, "cascade", cascade)
	return nil
}

func (d *Domain) destroyTableLocked(tx *txn, t *tableState) {
	for len(t.matchers) > 0 {
		d.destroyMatcherLocked(tx, t.matchers[len(t.matchers)-1])
	}
	id := t.id
	d.tables.remove(id.slot, id.seq)
	tx.onAbort(func() { d.tables.restore(id.slot, id.seq, t) })
	if _, ok := d.removed[id]; !ok {
		d.removed[id] = struct{}{}
		tx.onAbort(func() { delete(d.removed, id) })
	}
}

// CreateMatcher creates a matcher in the table. Matchers are evaluated in
// ascending priority, matchers of equal priority in creation order. The mask
// may only set bits in the sections enabled by criteria.
func (d *Domain) CreateMatcher(
	ctx context.Context,
	table TableID,
	priority uint32,
	criteria match.Criteria,
	mask match.Params,
) (MatcherID, error) {

	if err := match.ValidateMask(mask, criteria); err != nil {
		return MatcherID{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return MatcherID{}, err
	}
	t, err := d.lookupTable(table)
	if err != nil {
		return MatcherID{}, err
	}
	var tx txn
	r := d.nextRef()
	m := &matcherState{
		table:    t,
		priority: priority,
		criteria: criteria,
		mask:     mask,
	}
	r.slot = d.matchers.insert(r.seq, m)
	m.id = MatcherID{r}
	tx.onAbort(func() { d.matchers.remove(r.slot, r.seq) })
	// Sequence numbers only grow, so the new matcher goes after all matchers
	// of the same priority.
	i, _ := slices.BinarySearchFunc(t.matchers, m, func(e, m *matcherState) int {
		if e.before(m) {
			return -1
		}
		return 1
	})
	t.matchers = slices.Insert(t.matchers, i, m)
	tx.onAbort(func() { t.matchers = slices.Delete(t.matchers, i, i+1) })
	d.markDirty(&tx, t)
	if err := d.commitLocked(ctx, &tx); err != nil {
		return MatcherID{}, serrors.Wrap("creating matcher", err, "table", table)
	}
	d.logger.Debug("Matcher created", "matcher", m.id, "table", table,
		"priority", priority, "criteria", criteria)
	return m.id, nil
}

// DestroyMatcher destroys the matcher. It fails with ErrInUse while the
// matcher has rules, unless cascade is set.
func (d *Domain) DestroyMatcher(ctx context.Context, id MatcherID, cascade bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	m, err := d.lookupMatcher(id)
	if err != nil {
		return err
	}
	if !cascade && len(m.rules) > 0 {
		return serrors.JoinNoStack(ErrInUse, nil, "matcher", id, "rules", len(m.rules))
	}
	var tx txn
	d.destroyMatcherLocked(&tx, m)
	if err := d.commitLocked(ctx, &tx); err != nil {
		return serrors.Wrap("destroying matcher", err, "matcher", id)
	}
	return nil
}

func (d *Domain) destroyMatcherLocked(tx *txn, m *matcherState) {
	for len(m.rules) > 0 {
		d.destroyRuleLocked(tx, m.rules[len(m.rules)-1])
	}
	t := m.table
	i := slices.Index(t.matchers, m)
	t.matchers = slices.Delete(t.matchers, i, i+1)
	tx.onAbort(func() { t.matchers = slices.Insert(t.matchers, i, m) })
	id := m.id
	d.matchers.remove(id.slot, id.seq)
	tx.onAbort(func() { d.matchers.restore(id.slot, id.seq, m) })
	d.markDirty(tx, t)
}
