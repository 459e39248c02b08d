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

// Package capture reads and writes Ethernet frames in pcap files.
package capture

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
)

// SnapLen is the snapshot length of written files.
const SnapLen = 65535

// WriteFile stores the frames in a pcap file with Ethernet link type.
func WriteFile(file string, frames ...[]byte) error {
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return serrors.Wrap("creating file", err, "file", file)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(SnapLen, layers.LinkTypeEthernet); err != nil {
		return serrors.Wrap("writing header", err, "file", file)
	}
	for i, frame := range frames {
		c := gopacket.CaptureInfo{
			Length:        len(frame),
			CaptureLength: len(frame),
		}
		if err := w.WritePacket(c, frame); err != nil {
			return serrors.Wrap("writing packet", err, "file", file, "index", i)
		}
	}
	return f.Close()
}

// ReadFile calls fn with every frame of the pcap file in order. Reading stops
// at the first error fn returns or once ctx is done. The frame passed to fn
// is not reused.
func ReadFile(ctx context.Context, file string, fn func(frame []byte) error) error {
	f, err := os.Open(file)
	if err != nil {
		return serrors.Wrap("opening file", err, "file", file)
	}
	defer f.Close()
	return Read(ctx, f, fn)
}

// Read is like ReadFile but reads the pcap data from r.
func Read(ctx context.Context, r io.Reader, fn func(frame []byte) error) error {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return serrors.Wrap("reading header", err)
	}
	if lt := pr.LinkType(); lt != layers.LinkTypeEthernet {
		return serrors.New("unsupported link type", "link_type", lt)
	}
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, _, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return serrors.Wrap("reading packet", err, "index", i)
		}
		if err := fn(data); err != nil {
			return err
		}
	}
}
