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

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering/match"
	"github.com/flowsteer/flowsteer/pkg/steering/packet"
)

// Disposition is the outcome of evaluating a packet in a domain.
type Disposition uint8

const (
	// Accept passes the packet to the default of the domain. RX domains
	// deliver it to the default queue, TX domains transmit it.
	Accept Disposition = iota
	// Discard drops the packet.
	Discard
	// Forward delivers the packet to the queue of the result.
	Forward
)

func (d Disposition) String() string {
	switch d {
	case Accept:
		return "accept"
	case Discard:
		return "discard"
	case Forward:
		return "forward"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

// Result is the outcome of an evaluation together with its side effects.
type Result struct {
	Disposition Disposition
	// Queue is set for Forward.
	Queue  *Queue
	Tag    uint32
	Tagged bool
	// Modified is set if a modify header action rewrote the packet.
	Modified bool
	// Key is the rewritten match key. It is only set if Modified is set.
	Key match.Key
	// Hops is the number of tables the packet visited.
	Hops int
	// Err is set if the packet was dropped because of an evaluation error.
	Err error
}

// Evaluate runs the packet through the tables of the domain, starting at
// the root table. Modify header actions rewrite a copy of the match key,
// which is used for the lookup in subsequent tables and returned in the
// result. pkt is not modified. Evaluate never blocks on mutations of the
// domain and is safe for concurrent use.
func (d *Domain) Evaluate(pkt *packet.Descriptor) Result {
	d.inflight.Add(1)
	defer d.inflight.Add(-1)
	if d.closing.Load() {
		d.metrics.dropped(dropReasonClosed)
		return Result{Disposition: Discard, Err: ErrClosed}
	}
	d.metrics.evaluated.Inc()

	var res Result
	hdr := packet.Descriptor{Key: pkt.Key, Length: pkt.Length}
	prog := d.prog.Load()
	tbl := prog.root
	for tbl != nil {
		res.Hops++
		rule := d.lookup(prog, tbl, &hdr.Key)
		if rule == nil {
			tbl.misses.Inc()
			break
		}
		tbl.hits.Inc()
		var next *progTable
	actions:
		for _, a := range rule.actions {
			switch a.Kind {
			case ActionDrop:
				res.Disposition = Discard
				d.metrics.dropped(dropReasonAction)
				return res
			case ActionFlowCounter:
				a.counter.add(hdr.Length)
			case ActionTag:
				res.Tag, res.Tagged = a.tag, true
			case ActionModifyHeader:
				// Set actions are validated on creation.
				if err := hdr.Apply(a.modify.actions); err != nil {
					return d.fail(res, dropReasonAction, tbl, err)
				}
				res.Modified = true
			case ActionQp:
				res.Queue = a.queue
			case ActionDestTable:
				t, ok := prog.tables[a.table]
				if !ok {
					err := serrors.JoinNoStack(ErrDanglingReference, nil,
						"table", tbl.id, "target", a.table)
					return d.fail(res, dropReasonDangling, tbl, err)
				}
				next = t
				break actions
			}
		}
		if next == nil {
			break
		}
		if res.Hops >= d.cfg.maxHops {
			err := serrors.JoinNoStack(ErrSteeringLoopDetected, nil,
				"table", tbl.id, "hops", res.Hops)
			return d.fail(res, dropReasonLoop, tbl, err)
		}
		tbl = next
	}
	if res.Queue != nil {
		res.Disposition = Forward
	}
	if res.Modified {
		res.Key = hdr.Key
	}
	return res
}

func (d *Domain) fail(res Result, reason string, tbl *progTable, err error) Result {
	d.metrics.dropped(reason)
	d.reporter.report(reason, tbl.id, err)
	res.Disposition = Discard
	res.Err = err
	return res
}

// lookup returns the winning rule of the table, nil if no rule matches.
func (d *Domain) lookup(prog *program, tbl *progTable, key *match.Key) *progRule {
	var k flowKey
	if d.cache != nil {
		k = flowKey{table: tbl.id, gen: prog.gen, key: *key}
		if r, ok := d.cache.get(k); ok {
			return r.rule
		}
	}
	var winner *progRule
	for _, m := range tbl.matchers {
		for _, r := range m.rules {
			if key.Matches(m.mask, r.masked) {
				winner = r
				break
			}
		}
		if winner != nil {
			break
		}
	}
	if d.cache != nil {
		d.cache.add(k, flowResult{rule: winner})
	}
	return winner
}
