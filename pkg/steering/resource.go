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
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering/driver"
	"github.com/flowsteer/flowsteer/pkg/steering/packet"
)

// resource is the reference count shared by counters and queues. Rules take
// a reference for every action using the resource.
type resource struct {
	mu        sync.Mutex
	refs      int
	destroyed bool
}

func (r *resource) acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return ErrDanglingReference
	}
	r.refs++
	return nil
}

func (r *resource) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs > 0 {
		r.refs--
	}
}

func (r *resource) destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return ErrDanglingReference
	}
	if r.refs > 0 {
		return serrors.JoinNoStack(ErrInUse, nil, "refs", r.refs)
	}
	r.destroyed = true
	return nil
}

// Refs returns the number of rule actions referencing the resource.
func (r *resource) Refs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}

// Counter is a flow counter of a device.
type Counter struct {
	resource
	dev     *Device
	id      uint64
	name    string
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (c *Counter) ID() uint64   { return c.id }
func (c *Counter) Name() string { return c.name }

// Packets returns the number of packets counted in software.
func (c *Counter) Packets() uint64 {
	return c.packets.Load()
}

// Bytes returns the number of bytes counted in software.
func (c *Counter) Bytes() uint64 {
	return c.bytes.Load()
}

func (c *Counter) add(length int) {
	c.packets.Add(1)
	if length > 0 {
		c.bytes.Add(uint64(length))
	}
}

// Query returns the statistics of the counter, the software counts plus the
// counts the driver reports for it.
func (c *Counter) Query(ctx context.Context) (driver.CounterStats, error) {
	hw, err := c.dev.drv.ReadCounter(ctx, c.dev.ctx, c.id)
	if err != nil {
		return driver.CounterStats{}, serrors.Wrap("reading counter", err,
			"counter", c.name)
	}
	return driver.CounterStats{
		Packets: hw.Packets + c.Packets(),
		Bytes:   hw.Bytes + c.Bytes(),
	}, nil
}

// Completion is a packet delivered to a queue.
type Completion struct {
	Packet *packet.Descriptor
	Tag    uint32
	Tagged bool
}

// Queue is a bounded receive queue of a device. Delivering to a full queue
// drops the packet.
type Queue struct {
	resource
	dev       *Device
	id        uint64
	name      string
	ring      chan Completion
	delivered prometheus.Counter
	dropped   prometheus.Counter
}

func (q *Queue) ID() uint64   { return q.id }
func (q *Queue) Name() string { return q.name }

// Depth returns the capacity of the queue.
func (q *Queue) Depth() int {
	return cap(q.ring)
}

// Len returns the number of pending completions.
func (q *Queue) Len() int {
	return len(q.ring)
}

func (q *Queue) deliver(c Completion) bool {
	select {
	case q.ring <- c:
		q.delivered.Inc()
		return true
	default:
		q.dropped.Inc()
		return false
	}
}

// Poll blocks until a completion is available or the context is done.
func (q *Queue) Poll(ctx context.Context) (Completion, error) {
	select {
	case c := <-q.ring:
		return c, nil
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

// TryPoll returns the next completion if one is pending.
func (q *Queue) TryPoll() (Completion, bool) {
	select {
	case c := <-q.ring:
		return c, true
	default:
		return Completion{}, false
	}
}
