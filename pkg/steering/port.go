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

	"github.com/flowsteer/flowsteer/pkg/log"
	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering/packet"
)

// RunConfig configures the processors of a port.
type RunConfig struct {
	NumProcessors int
}

// Port is the traffic path of a device. Packets sent on a port run through
// its TX domain and are handed to the connected peer port, which runs them
// through its RX domain and delivers them to a queue.
type Port struct {
	name        string
	tx          *Domain
	rx          *Domain
	def         *Queue
	peer        atomic.Pointer[Port]
	closed      atomic.Bool
	transmitted prometheus.Counter
	logger      log.Logger
}

// NewPort creates a port. Each of tx, rx and def may be nil. RX packets that
// miss all rules are delivered to def, or dropped if it is nil. The default
// queue is referenced until the port is closed.
func NewPort(name string, tx, rx *Domain, def *Queue) (*Port, error) {
	if tx != nil && tx.typ != NICTX {
		return nil, serrors.JoinNoStack(ErrUnsupportedAction, nil,
			"reason", "tx domain has wrong type", "domain", tx.name)
	}
	if rx != nil && rx.typ != NICRX {
		return nil, serrors.JoinNoStack(ErrUnsupportedAction, nil,
			"reason", "rx domain has wrong type", "domain", rx.name)
	}
	var m *Metrics
	switch {
	case tx != nil:
		m = tx.dev.metrics
	case rx != nil:
		m = rx.dev.metrics
	case def != nil:
		m = def.dev.metrics
	default:
		m = newUnregisteredMetrics()
	}
	if def != nil {
		if err := def.acquire(); err != nil {
			return nil, serrors.Wrap("referencing default queue", err, "queue", def.name)
		}
	}
	return &Port{
		name:        name,
		tx:          tx,
		rx:          rx,
		def:         def,
		transmitted: m.TransmittedPackets.WithLabelValues(name),
		logger:      log.New("port", name),
	}, nil
}

// Connect connects two ports with each other.
func Connect(a, b *Port) {
	a.peer.Store(b)
	b.peer.Store(a)
}

func (p *Port) Name() string         { return p.name }
func (p *Port) DefaultQueue() *Queue { return p.def }

// Peer returns the connected port or nil.
func (p *Port) Peer() *Port { return p.peer.Load() }

// Send runs the packet through the TX domain. Packets that are not dropped
// are transmitted to the peer port. Header rewrites are written back into
// the frame, the peer parses the rewritten frame.
func (p *Port) Send(pkt *packet.Descriptor) (Result, error) {
	if p.closed.Load() {
		return Result{Disposition: Discard, Err: ErrClosed}, ErrClosed
	}
	var res Result
	if p.tx != nil {
		res = p.tx.Evaluate(pkt)
		if res.Disposition == Discard {
			return res, nil
		}
		if res.Modified {
			pkt.SetKey(res.Key)
		}
	}
	if err := pkt.Rewrite(); err != nil {
		return res, serrors.Wrap("rewriting frame", err, "port", p.name)
	}
	p.transmitted.Inc()
	peer := p.peer.Load()
	if peer == nil {
		return res, nil
	}
	out := pkt.Clone()
	if pkt.Frame != nil {
		var err error
		if out, err = packet.Parse(out.Frame); err != nil {
			return res, serrors.Wrap("parsing transmitted frame", err, "port", p.name)
		}
	}
	peer.Receive(out)
	return res, nil
}

// Receive runs the packet through the RX domain and delivers it to the
// selected queue or the default queue. It reports whether the packet was
// enqueued.
func (p *Port) Receive(pkt *packet.Descriptor) (Result, bool) {
	if p.closed.Load() {
		return Result{Disposition: Discard, Err: ErrClosed}, false
	}
	var res Result
	if p.rx != nil {
		res = p.rx.Evaluate(pkt)
		if res.Modified {
			pkt.SetKey(res.Key)
		}
	}
	c := Completion{Packet: pkt, Tag: res.Tag, Tagged: res.Tagged}
	switch res.Disposition {
	case Forward:
		return res, res.Queue.deliver(c)
	case Accept:
		if p.def == nil {
			return res, false
		}
		return res, p.def.deliver(c)
	default:
		return res, false
	}
}

// Run sends the packets read from in with cfg.NumProcessors goroutines. It
// returns once in is closed or the context is done and all processors have
// returned.
func (p *Port) Run(ctx context.Context, cfg RunConfig, in <-chan *packet.Descriptor) error {
	if cfg.NumProcessors <= 0 {
		return serrors.New("invalid number of processors", "processors", cfg.NumProcessors)
	}
	var wg sync.WaitGroup
	for i := 0; i < cfg.NumProcessors; i++ {
		wg.Add(1)
		go func(i int) {
			defer log.HandlePanic()
			defer wg.Done()
			p.runProcessor(ctx, i, in)
		}(i)
	}
	wg.Wait()
	return nil
}

func (p *Port) runProcessor(ctx context.Context, id int, in <-chan *packet.Descriptor) {
	p.logger.Debug("Initialize processor with", "id", id)
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-in:
			if !ok {
				return
			}
			if _, err := p.Send(pkt); err != nil {
				p.logger.Debug("Sending packet failed", "processor", id, "err", err)
			}
		}
	}
}

// Close releases the default queue. Packets sent or received afterwards are
// dropped.
func (p *Port) Close() {
	if p.closed.Swap(true) {
		return
	}
	if p.def != nil {
		p.def.release()
	}
}
