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
	"context"
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering/driver"
)

// program is an immutable snapshot of the tables of a domain. Evaluation
// reads the current program without locking, mutations publish a new one.
type program struct {
	gen    uint64
	root   *progTable
	tables map[TableID]*progTable
}

type progTable struct {
	id       TableID
	level    uint32
	matchers []progMatcher
	hits     prometheus.Counter
	misses   prometheus.Counter
}

type progMatcher struct {
	id MatcherID
	// mask is trimmed after its last non-zero byte.
	mask  []byte
	rules []*progRule
}

type progRule struct {
	id      RuleID
	masked  []byte
	actions []Action
}

func buildTable(t *tableState, m domainMetrics) (*progTable, driver.TableProgram) {
	pt := &progTable{
		id:       t.id,
		level:    t.level,
		matchers: make([]progMatcher, 0, len(t.matchers)),
	}
	pt.hits, pt.misses = m.tableCounters(t.id.String())
	tp := driver.TableProgram{
		ID:       t.id.seq,
		Level:    t.level,
		Matchers: make([]driver.MatcherProgram, 0, len(t.matchers)),
	}
	for _, m := range t.matchers {
		mask := m.mask.Bytes()
		n := len(mask)
		for n > 0 && mask[n-1] == 0 {
			n--
		}
		pm := progMatcher{id: m.id, mask: mask[:n], rules: make([]*progRule, 0, len(m.rules))}
		mp := driver.MatcherProgram{
			ID:       m.id.seq,
			Priority: m.priority,
			Criteria: uint8(m.criteria),
			Mask:     m.mask.Bytes(),
			Rules:    make([]driver.RuleProgram, 0, len(m.rules)),
		}
		for _, r := range m.rules {
			pm.rules = append(pm.rules, &progRule{
				id:      r.id,
				masked:  r.masked.Bytes()[:n],
				actions: r.actions,
			})
			mp.Rules = append(mp.Rules, driver.RuleProgram{
				ID:      r.id.seq,
				Value:   r.value.Bytes(),
				Actions: actionPrograms(r.actions),
			})
		}
		pt.matchers = append(pt.matchers, pm)
		tp.Matchers = append(tp.Matchers, mp)
	}
	return pt, tp
}

func actionPrograms(actions []Action) []driver.ActionProgram {
	r := make([]driver.ActionProgram, 0, len(actions))
	for _, a := range actions {
		p := driver.ActionProgram{Kind: driver.ActionKind(a.Kind.String())}
		switch a.Kind {
		case ActionFlowCounter:
			p.Counter = a.counter.id
		case ActionTag:
			p.Tag = a.tag
		case ActionDestTable:
			p.Table = a.table.seq
		case ActionModifyHeader:
			p.Flags = a.modify.flags
			p.Modify = a.modify.Actions()
		case ActionQp:
			p.Queue = a.queue.id
		}
		r = append(r, p)
	}
	return r
}

// rootLocked returns the first created level 0 table.
func (d *Domain) rootLocked() *tableState {
	var root *tableState
	d.tables.each(func(_ uint32, seq uint64, t *tableState) {
		if t.level == 0 && (root == nil || seq < root.id.seq) {
			root = t
		}
	})
	return root
}

// publishLocked submits the changed tables to the driver and, if the driver
// accepts them, makes them visible to evaluation.
func (d *Domain) publishLocked(ctx context.Context) error {
	if len(d.dirty) == 0 && len(d.removed) == 0 {
		d.runReleasesLocked()
		return nil
	}
	old := d.prog.Load()
	next := &program{
		gen:    old.gen + 1,
		tables: maps.Clone(old.tables),
	}
	diff := driver.TableDiff{Generation: next.gen}
	for id := range d.removed {
		delete(next.tables, id)
		diff.Removed = append(diff.Removed, id.seq)
	}
	for id := range d.dirty {
		t, ok := d.tables.get(id.slot, id.seq)
		if !ok {
			continue
		}
		pt, tp := buildTable(t, d.metrics)
		next.tables[id] = pt
		diff.Tables = append(diff.Tables, tp)
	}
	slices.Sort(diff.Removed)
	slices.SortFunc(diff.Tables, func(a, b driver.TableProgram) int {
		return cmp.Compare(a.ID, b.ID)
	})
	if root := d.rootLocked(); root != nil {
		next.root = next.tables[root.id]
		diff.Root = root.id.seq
	}

	if err := d.dev.drv.SubmitTableProgram(ctx, d.info(), diff); err != nil {
		d.metrics.syncErr.Inc()
		return serrors.Wrap("submitting table program", err,
			"domain", d.name, "generation", next.gen)
	}
	d.metrics.syncOk.Inc()
	d.prog.Store(next)
	if d.cache != nil {
		d.cache.purge()
	}
	for id := range d.removed {
		d.metrics.forgetTable(id.String())
	}
	clear(d.dirty)
	clear(d.removed)
	d.runReleasesLocked()
	return nil
}

func (d *Domain) runReleasesLocked() {
	for _, f := range d.releases {
		f()
	}
	d.releases = nil
}
