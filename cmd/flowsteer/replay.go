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

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/flowsteer/flowsteer/pkg/log"
	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering"
	"github.com/flowsteer/flowsteer/pkg/steering/driver/soft"
	"github.com/flowsteer/flowsteer/pkg/steering/packet"
	"github.com/flowsteer/flowsteer/private/app/command"
	"github.com/flowsteer/flowsteer/private/steering/capture"
	"github.com/flowsteer/flowsteer/private/steering/config"
	"github.com/flowsteer/flowsteer/private/steering/program"
)

type replayFlags struct {
	program    string
	pcap       string
	port       string
	processors int
	flowCache  int
}

func newReplay(pather command.Pather) *cobra.Command {
	var flags replayFlags
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Send the frames of a pcap file through a port",
		Long: `Load the steering program on the software driver, send every frame
of the pcap file out of the given port and print the counters and queues of
all devices afterwards.`,
		Example: "  " + pather.CommandPath() +
			" replay --program program.yaml --pcap frames.pcap --port server",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}
	flags.register(cmd.Flags())
	cmd.MarkFlagRequired("program")
	cmd.MarkFlagRequired("pcap")
	cmd.MarkFlagRequired("port")
	return cmd
}

func (f *replayFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.program, "program", "", "Steering program (required)")
	fs.StringVar(&f.pcap, "pcap", "", "Pcap file with Ethernet frames (required)")
	fs.StringVar(&f.port, "port", "", "Port the frames are sent on (required)")
	fs.IntVar(&f.processors, "processors", config.DefaultNumProcessors,
		"Number of goroutines sending frames")
	fs.IntVar(&f.flowCache, "flow-cache", 0,
		"Number of cached lookups per domain, 0 disables the cache")
}

type replayStats struct {
	frames    int
	malformed int
}

func runReplay(ctx context.Context, w io.Writer, flags replayFlags) error {
	if flags.processors < 1 {
		return serrors.New("processors must be positive", "processors", flags.processors)
	}
	f, err := program.LoadFile(flags.program)
	if err != nil {
		return err
	}
	setup, err := program.Load(ctx, &soft.Driver{}, f, program.Options{
		Domain: program.DomainDefaults(steering.CommitAuto, 0, 0, flags.flowCache),
	})
	if err != nil {
		return err
	}
	defer setup.Close(ctx)
	port, ok := setup.Port(flags.port)
	if !ok {
		return serrors.New("unknown port", "port", flags.port)
	}

	stats, err := replay(ctx, port, flags.pcap, flags.processors)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Sent %d frames on port %s (%d malformed)\n\n",
		stats.frames-stats.malformed, port.Name(), stats.malformed)
	return printResources(ctx, w, setup)
}

// replay feeds the frames of the file to the port processors.
func replay(
	ctx context.Context,
	port *steering.Port,
	file string,
	processors int,
) (replayStats, error) {

	var stats replayStats
	in := make(chan *packet.Descriptor, processors)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer log.HandlePanic()
		return port.Run(gctx, steering.RunConfig{NumProcessors: processors}, in)
	})
	g.Go(func() error {
		defer log.HandlePanic()
		defer close(in)
		return capture.ReadFile(gctx, file, func(frame []byte) error {
			stats.frames++
			pkt, err := packet.Parse(frame)
			if err != nil {
				stats.malformed++
				log.Debug("Skipping malformed frame", "index", stats.frames-1, "err", err)
				return nil
			}
			select {
			case in <- pkt:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})
	if err := g.Wait(); err != nil {
		return stats, serrors.Wrap("replaying frames", err, "file", file)
	}
	return stats, nil
}

func printResources(ctx context.Context, w io.Writer, setup *program.Setup) error {
	var counters, queues [][]string
	for _, dev := range setup.Devices {
		for _, c := range dev.Counters() {
			s, err := c.Query(ctx)
			if err != nil {
				return serrors.Wrap("querying counter", err, "counter", c.Name())
			}
			counters = append(counters, []string{
				dev.Name(),
				c.Name(),
				strconv.FormatUint(s.Packets, 10),
				strconv.FormatUint(s.Bytes, 10),
			})
		}
		for _, q := range dev.Queues() {
			queues = append(queues, []string{
				dev.Name(),
				q.Name(),
				strconv.Itoa(q.Len()),
				strconv.Itoa(q.Depth()),
			})
		}
	}
	renderTable(w, []string{"DEVICE", "COUNTER", "PACKETS", "BYTES"}, counters)
	fmt.Fprintln(w)
	renderTable(w, []string{"DEVICE", "QUEUE", "PENDING", "DEPTH"}, queues)
	return nil
}
