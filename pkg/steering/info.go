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
	"cmp"
	"slices"

	"github.com/flowsteer/flowsteer/pkg/steering/match"
)

// TableInfo describes a table and its matchers.
type TableInfo struct {
	ID       TableID
	Level    uint32
	Root     bool
	Refs     int
	Matchers []MatcherInfo
}

// MatcherInfo describes a matcher and its rules.
type MatcherInfo struct {
	ID       MatcherID
	Priority uint32
	Criteria match.Criteria
	Mask     match.Params
	Rules    []RuleInfo
}

// RuleInfo describes a rule.
type RuleInfo struct {
	ID      RuleID
	Matcher MatcherID
	Value   match.Params
	Actions []Action
}

// Tables returns the tables of the domain in creation order, including
// mutations not yet synced. Matchers are in evaluation order.
func (d *Domain) Tables() []TableInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	root := d.rootLocked()
	var r []TableInfo
	d.tables.each(func(_ uint32, _ uint64, t *tableState) {
		ti := TableInfo{
			ID:    t.id,
			Level: t.level,
			Root:  t == root,
			Refs:  t.refs,
		}
		for _, m := range t.matchers {
			mi := MatcherInfo{
				ID:       m.id,
				Priority: m.priority,
				Criteria: m.criteria,
				Mask:     m.mask,
			}
			for _, rs := range m.rules {
				mi.Rules = append(mi.Rules, ruleInfo(rs))
			}
			ti.Matchers = append(ti.Matchers, mi)
		}
		r = append(r, ti)
	})
	slices.SortFunc(r, func(a, b TableInfo) int { return cmp.Compare(a.ID.seq, b.ID.seq) })
	return r
}

// Rule returns the rule with the given ID.
func (d *Domain) Rule(id RuleID) (RuleInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.lookupRule(id)
	if err != nil {
		return RuleInfo{}, err
	}
	return ruleInfo(r), nil
}

// NumRules returns the number of rules of the domain.
func (d *Domain) NumRules() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rules.len()
}

func ruleInfo(r *ruleState) RuleInfo {
	return RuleInfo{
		ID:      r.id,
		Matcher: r.matcher.id,
		Value:   r.value,
		Actions: slices.Clone(r.actions),
	}
}
