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

// Package soft implements an in-memory steering driver. It keeps the last
// submitted program of every domain, serves counter statistics set by the
// caller and completions injected by the caller. It is used when no hardware
// is present and in tests.
package soft

import (
	"context"
	"sort"
	"sync"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering/driver"
)

// Name is the name the driver is registered under.
const Name = "soft"

var _ driver.Driver = (*Driver)(nil)

func init() {
	driver.Register(Name, func() driver.Driver { return &Driver{} })
}

type domainKey struct {
	handle uint64
	domain uint32
}

type queueKey struct {
	handle uint64
	queue  uint64
}

// Driver is the in-memory driver. The zero value is ready to use.
type Driver struct {
	mu          sync.Mutex
	nextHandle  uint64
	devices     map[string]uint64
	programs    map[domainKey]*domainProgram
	counters    map[queueKey]driver.CounterStats
	completions map[queueKey][]driver.Completion
	failNext    error
	submits     int
}

type domainProgram struct {
	generation uint64
	root       uint64
	tables     map[uint64]driver.TableProgram
}

// OpenContext opens the device. Opening the same device twice returns the
// same handle.
func (d *Driver) OpenContext(ctx context.Context, device string) (driver.Context, error) {
	if device == "" {
		return driver.Context{}, serrors.New("empty device name")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.devices == nil {
		d.devices = make(map[string]uint64)
	}
	h, ok := d.devices[device]
	if !ok {
		d.nextHandle++
		h = d.nextHandle
		d.devices[device] = h
	}
	return driver.Context{Device: device, Handle: h}, nil
}

// SubmitTableProgram records the diff.
func (d *Driver) SubmitTableProgram(
	ctx context.Context,
	domain driver.DomainInfo,
	diff driver.TableDiff,
) error {

	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submits++
	if err := d.failNext; err != nil {
		d.failNext = nil
		return err
	}
	if d.programs == nil {
		d.programs = make(map[domainKey]*domainProgram)
	}
	k := domainKey{handle: domain.Context.Handle, domain: domain.ID}
	p, ok := d.programs[k]
	if !ok {
		p = &domainProgram{tables: make(map[uint64]driver.TableProgram)}
		d.programs[k] = p
	}
	if diff.Generation < p.generation {
		return serrors.New("stale generation", "domain", domain.ID,
			"submitted", diff.Generation, "current", p.generation)
	}
	p.generation = diff.Generation
	p.root = diff.Root
	for _, id := range diff.Removed {
		delete(p.tables, id)
	}
	for _, t := range diff.Tables {
		p.tables[t.ID] = t
	}
	return nil
}

// ReadCounter returns the statistics set with SetCounter.
func (d *Driver) ReadCounter(
	ctx context.Context,
	dev driver.Context,
	counter uint64,
) (driver.CounterStats, error) {

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters[queueKey{handle: dev.Handle, queue: counter}], nil
}

// PollCompletion returns the oldest completion injected for the queue.
func (d *Driver) PollCompletion(
	ctx context.Context,
	dev driver.Context,
	queue uint64,
) (driver.Completion, error) {

	d.mu.Lock()
	defer d.mu.Unlock()
	k := queueKey{handle: dev.Handle, queue: queue}
	pending := d.completions[k]
	if len(pending) == 0 {
		return driver.Completion{}, driver.ErrNoCompletion
	}
	c := pending[0]
	d.completions[k] = pending[1:]
	return c, nil
}

// SetCounter sets the hardware statistics reported for the counter.
func (d *Driver) SetCounter(dev driver.Context, counter uint64, stats driver.CounterStats) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.counters == nil {
		d.counters = make(map[queueKey]driver.CounterStats)
	}
	d.counters[queueKey{handle: dev.Handle, queue: counter}] = stats
}

// Inject queues a completion for the queue.
func (d *Driver) Inject(dev driver.Context, queue uint64, c driver.Completion) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.completions == nil {
		d.completions = make(map[queueKey][]driver.Completion)
	}
	k := queueKey{handle: dev.Handle, queue: queue}
	d.completions[k] = append(d.completions[k], c)
}

// FailNextSubmit makes the next SubmitTableProgram call fail with err.
func (d *Driver) FailNextSubmit(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = err
}

// Submits returns the number of SubmitTableProgram calls.
func (d *Driver) Submits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submits
}

// Program is the recorded state of a domain.
type Program struct {
	Generation uint64
	Root       uint64
	Tables     []driver.TableProgram
}

// Program returns the recorded state of the domain, tables sorted by ID.
func (d *Driver) Program(dev driver.Context, domain uint32) (Program, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[domainKey{handle: dev.Handle, domain: domain}]
	if !ok {
		return Program{}, false
	}
	out := Program{Generation: p.generation, Root: p.root}
	for _, t := range p.tables {
		out.Tables = append(out.Tables, t)
	}
	sort.Slice(out.Tables, func(i, j int) bool { return out.Tables[i].ID < out.Tables[j].ID })
	return out, true
}
