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

package program

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/flowsteer/flowsteer/pkg/log"
	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering"
	"github.com/flowsteer/flowsteer/pkg/steering/packet"
)

// DefaultBacklog is the number of frames queued per port before Enqueue
// rejects further frames.
const DefaultBacklog = 1024

// ErrBacklogFull is returned by Enqueue if the processors of the port do not
// keep up.
var ErrBacklogFull = errors.New("ingress backlog full")

// Ingress runs every port of a setup with the configured number of
// processors and feeds it the frames handed to Enqueue.
type Ingress struct {
	cfg   steering.RunConfig
	ports map[*steering.Port]chan *packet.Descriptor
}

// NewIngress creates the ingress of all ports of s. A backlog of 0 selects
// DefaultBacklog.
func NewIngress(s *Setup, cfg steering.RunConfig, backlog int) (*Ingress, error) {
	if cfg.NumProcessors <= 0 {
		return nil, serrors.New("invalid number of processors",
			"processors", cfg.NumProcessors)
	}
	if backlog < 0 {
		return nil, serrors.New("invalid backlog", "backlog", backlog)
	}
	if backlog == 0 {
		backlog = DefaultBacklog
	}
	in := &Ingress{cfg: cfg, ports: make(map[*steering.Port]chan *packet.Descriptor)}
	for _, dev := range s.Devices {
		for _, p := range dev.Ports {
			in.ports[p] = make(chan *packet.Descriptor, backlog)
		}
	}
	return in, nil
}

// Run processes the queued frames until ctx is done.
func (in *Ingress) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for p, ch := range in.ports {
		g.Go(func() error {
			defer log.HandlePanic()
			return p.Run(ctx, in.cfg, ch)
		})
	}
	log.Debug("Ingress started", "ports", len(in.ports),
		"processors", in.cfg.NumProcessors)
	return g.Wait()
}

// Enqueue queues the packet on the port without blocking.
func (in *Ingress) Enqueue(p *steering.Port, pkt *packet.Descriptor) error {
	ch, ok := in.ports[p]
	if !ok {
		return serrors.New("port not served by ingress", "port", p.Name())
	}
	select {
	case ch <- pkt:
		return nil
	default:
		return serrors.JoinNoStack(ErrBacklogFull, nil, "port", p.Name())
	}
}

// Backlog returns the number of frames queued on the port.
func (in *Ingress) Backlog(p *steering.Port) int {
	return len(in.ports[p])
}
