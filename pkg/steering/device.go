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
	"slices"
	"strconv"
	"sync"

	"github.com/flowsteer/flowsteer/pkg/log"
	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering/driver"
	"github.com/flowsteer/flowsteer/pkg/steering/packet"
)

// DefaultQueueDepth is the depth of queues created with a depth of 0.
const DefaultQueueDepth = 1024

// DeviceOption configures a device.
type DeviceOption func(*deviceOptions)

type deviceOptions struct {
	metrics *Metrics
	logger  log.Logger
}

// WithMetrics sets the metrics the device and its domains report to. Without
// it the metrics are kept in a private registry.
func WithMetrics(m *Metrics) DeviceOption {
	return func(o *deviceOptions) {
		o.metrics = m
	}
}

// WithLogger sets the logger of the device.
func WithLogger(l log.Logger) DeviceOption {
	return func(o *deviceOptions) {
		o.logger = l
	}
}

// Device is an opened device. It owns the domains, counters and queues
// created on it.
type Device struct {
	drv     driver.Driver
	ctx     driver.Context
	name    string
	metrics *Metrics
	logger  log.Logger

	mu          sync.Mutex
	closed      bool
	domains     []*Domain
	counters    map[uint64]*Counter
	queues      map[uint64]*Queue
	nextCounter uint64
	nextQueue   uint64
}

// Open opens the named device on the driver.
func Open(ctx context.Context, drv driver.Driver, name string, opts ...DeviceOption) (*Device, error) {
	var o deviceOptions
	for _, opt := range opts {
		opt(&o)
	}
	dctx, err := drv.OpenContext(ctx, name)
	if err != nil {
		return nil, serrors.Wrap("opening device", err, "device", name)
	}
	if o.metrics == nil {
		o.metrics = newUnregisteredMetrics()
	}
	if o.logger == nil {
		o.logger = log.New("device", name)
	}
	return &Device{
		drv:      drv,
		ctx:      dctx,
		name:     name,
		metrics:  o.metrics,
		logger:   o.logger,
		counters: make(map[uint64]*Counter),
		queues:   make(map[uint64]*Queue),
	}, nil
}

func (dev *Device) Name() string            { return dev.name }
func (dev *Device) Context() driver.Context { return dev.ctx }

// NewDomain creates a domain of the given type.
func (dev *Device) NewDomain(typ DomainType, opts ...DomainOption) (*Domain, error) {
	if typ != NICRX && typ != NICTX {
		return nil, serrors.New("invalid domain type", "type", typ)
	}
	cfg := defaultDomainConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return nil, ErrClosed
	}
	if cfg.name == "" {
		cfg.name = typ.String() + strconv.Itoa(len(dev.domains))
	}
	for _, d := range dev.domains {
		if d.name == cfg.name {
			return nil, serrors.JoinNoStack(ErrAlreadyExists, nil, "domain", cfg.name)
		}
	}
	d := newDomain(dev, typ, cfg)
	dev.domains = append(dev.domains, d)
	return d, nil
}

// Domains returns the open domains in creation order.
func (dev *Device) Domains() []*Domain {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return slices.Clone(dev.domains)
}

// Domain returns the domain with the given name.
func (dev *Device) Domain(name string) (*Domain, bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	for _, d := range dev.domains {
		if d.name == name {
			return d, true
		}
	}
	return nil, false
}

func (dev *Device) removeDomain(d *Domain) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.domains = slices.DeleteFunc(dev.domains, func(o *Domain) bool { return o == d })
}

// NewCounter creates a flow counter.
func (dev *Device) NewCounter(name string) (*Counter, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return nil, ErrClosed
	}
	for _, c := range dev.counters {
		if name != "" && c.name == name {
			return nil, serrors.JoinNoStack(ErrAlreadyExists, nil, "counter", name)
		}
	}
	dev.nextCounter++
	c := &Counter{dev: dev, id: dev.nextCounter, name: name}
	if c.name == "" {
		c.name = "counter" + strconv.FormatUint(c.id, 10)
	}
	dev.counters[c.id] = c
	return c, nil
}

// DestroyCounter destroys the counter. It fails with ErrInUse while rules
// reference it.
func (dev *Device) DestroyCounter(c *Counter) error {
	if c == nil || c.dev != dev {
		return ErrDanglingReference
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := c.destroy(); err != nil {
		return serrors.Wrap("destroying counter", err, "counter", c.name)
	}
	delete(dev.counters, c.id)
	return nil
}

// Counter returns the counter with the given name.
func (dev *Device) Counter(name string) (*Counter, bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	for _, c := range dev.counters {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// Counters returns all counters ordered by ID.
func (dev *Device) Counters() []*Counter {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	r := make([]*Counter, 0, len(dev.counters))
	for _, c := range dev.counters {
		r = append(r, c)
	}
	slices.SortFunc(r, func(a, b *Counter) int { return cmp.Compare(a.id, b.id) })
	return r
}

// NewQueue creates a receive queue. A depth of 0 selects DefaultQueueDepth.
func (dev *Device) NewQueue(name string, depth int) (*Queue, error) {
	if depth < 0 {
		return nil, serrors.New("invalid queue depth", "depth", depth)
	}
	if depth == 0 {
		depth = DefaultQueueDepth
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return nil, ErrClosed
	}
	for _, q := range dev.queues {
		if name != "" && q.name == name {
			return nil, serrors.JoinNoStack(ErrAlreadyExists, nil, "queue", name)
		}
	}
	dev.nextQueue++
	q := &Queue{dev: dev, id: dev.nextQueue, name: name, ring: make(chan Completion, depth)}
	if q.name == "" {
		q.name = "queue" + strconv.FormatUint(q.id, 10)
	}
	q.delivered = dev.metrics.QueueDelivered.WithLabelValues(q.name)
	q.dropped = dev.metrics.QueueDropped.WithLabelValues(q.name)
	dev.queues[q.id] = q
	return q, nil
}

// DestroyQueue destroys the queue. It fails with ErrInUse while rules or
// ports reference it.
func (dev *Device) DestroyQueue(q *Queue) error {
	if q == nil || q.dev != dev {
		return ErrDanglingReference
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := q.destroy(); err != nil {
		return serrors.Wrap("destroying queue", err, "queue", q.name)
	}
	delete(dev.queues, q.id)
	return nil
}

// Queue returns the queue with the given name.
func (dev *Device) Queue(name string) (*Queue, bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	for _, q := range dev.queues {
		if q.name == name {
			return q, true
		}
	}
	return nil, false
}

// Queues returns all queues ordered by ID.
func (dev *Device) Queues() []*Queue {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	r := make([]*Queue, 0, len(dev.queues))
	for _, q := range dev.queues {
		r = append(r, q)
	}
	slices.SortFunc(r, func(a, b *Queue) int { return cmp.Compare(a.id, b.id) })
	return r
}

// PollCompletion returns the next completion the driver reports for the
// queue. It returns driver.ErrNoCompletion if none is pending.
func (dev *Device) PollCompletion(ctx context.Context, q *Queue) (Completion, error) {
	if q == nil || q.dev != dev {
		return Completion{}, ErrDanglingReference
	}
	c, err := dev.drv.PollCompletion(ctx, dev.ctx, q.id)
	if err != nil {
		return Completion{}, err
	}
	pkt, err := packet.Parse(c.Frame)
	if err != nil {
		return Completion{}, serrors.Wrap("parsing completion", err, "queue", q.name)
	}
	return Completion{Packet: pkt, Tag: c.FlowTag, Tagged: c.HasTag}, nil
}

// Close closes all domains of the device. Closing waits for in-flight
// evaluations until the context is done.
func (dev *Device) Close(ctx context.Context) error {
	dev.mu.Lock()
	if dev.closed {
		dev.mu.Unlock()
		return nil
	}
	dev.closed = true
	domains := slices.Clone(dev.domains)
	dev.mu.Unlock()

	var errs serrors.List
	for _, d := range domains {
		if err := d.Close(ctx); err != nil {
			errs = append(errs, serrors.Wrap("closing domain", err, "domain", d.name))
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
