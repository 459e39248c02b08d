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

// Package packet converts raw Ethernet frames into the packet descriptors
// evaluated by the steering engine and writes header rewrites back into the
// frames.
package packet

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering/match"
)

// Descriptor is a packet as seen by the steering engine.
type Descriptor struct {
	// Key is the match key extracted from the headers.
	Key match.Key
	// Length is the wire length of the packet in bytes.
	Length int
	// Frame is the raw frame. It is nil for descriptors built from a key
	// only.
	Frame []byte

	modified bool
}

// FromKey creates a descriptor without a raw frame.
func FromKey(key match.Key, length int) *Descriptor {
	return &Descriptor{Key: key, Length: length}
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	if d.Frame != nil {
		c.Frame = append([]byte(nil), d.Frame...)
	}
	return &c
}

// Field returns a copy of the key bytes of f.
func (d *Descriptor) Field(f match.Field) []byte {
	return append([]byte(nil), d.Key[f.Offset:f.End()]...)
}

// SMAC returns the source MAC address.
func (d *Descriptor) SMAC() net.HardwareAddr {
	return d.Field(match.FieldSMAC)
}

// DMAC returns the destination MAC address.
func (d *Descriptor) DMAC() net.HardwareAddr {
	return d.Field(match.FieldDMAC)
}

// SetKey replaces the match key, e.g. with the key rewritten by an
// evaluation. The descriptor is marked modified if the key changed.
func (d *Descriptor) SetKey(k match.Key) {
	if k == d.Key {
		return
	}
	d.Key = k
	d.modified = true
}

// Modified reports whether header rewrites were applied since the descriptor
// was parsed.
func (d *Descriptor) Modified() bool {
	return d.modified
}

// Parser decodes frames into descriptors. A Parser is not safe for
// concurrent use, Parse uses a pool of them.
type Parser struct {
	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	payload gopacket.Payload
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewParser creates a parser for Ethernet frames.
func NewParser() *Parser {
	p := &Parser{}
	p.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&p.eth, &p.dot1q, &p.ip4, &p.ip6, &p.tcp, &p.udp, &p.payload)
	p.parser.IgnoreUnsupported = true
	return p
}

var parsers = sync.Pool{
	New: func() any { return NewParser() },
}

// Parse decodes the frame with a pooled parser. The descriptor references
// frame, it is not copied.
func Parse(frame []byte) (*Descriptor, error) {
	p := parsers.Get().(*Parser)
	defer parsers.Put(p)
	return p.Parse(frame)
}

// Parse decodes the frame. Headers following an unsupported layer are not
// part of the key.
func (p *Parser) Parse(frame []byte) (*Descriptor, error) {
	d := &Descriptor{Frame: frame, Length: len(frame)}
	if err := p.parser.DecodeLayers(frame, &p.decoded); err != nil {
		return nil, serrors.Wrap("decoding frame", err, "length", len(frame))
	}
	if len(p.decoded) == 0 {
		return nil, serrors.New("frame too short", "length", len(frame))
	}
	k := &d.Key
	for _, lt := range p.decoded {
		switch lt {
		case layers.LayerTypeEthernet:
			copy(k[match.FieldSMAC.Offset:], p.eth.SrcMAC)
			copy(k[match.FieldDMAC.Offset:], p.eth.DstMAC)
			putUint16(k, match.FieldEtherType, uint16(p.eth.EthernetType))
		case layers.LayerTypeDot1Q:
			tci := uint16(p.dot1q.Priority)<<13 | p.dot1q.VLANIdentifier
			if p.dot1q.DropEligible {
				tci |= 1 << 12
			}
			putUint16(k, match.FieldVLAN, tci)
			putUint16(k, match.FieldEtherType, uint16(p.dot1q.Type))
		case layers.LayerTypeIPv4:
			k[match.FieldIPProto.Offset] = byte(p.ip4.Protocol)
			k[match.FieldIPDSCP.Offset] = p.ip4.TOS
			k[match.FieldIPVersion.Offset] = 4
			k[match.FieldTTL.Offset] = p.ip4.TTL
			copy(k[match.FieldSrcIPv4.Offset:match.FieldSrcIPv4.End()], p.ip4.SrcIP.To4())
			copy(k[match.FieldDstIPv4.Offset:match.FieldDstIPv4.End()], p.ip4.DstIP.To4())
		case layers.LayerTypeIPv6:
			k[match.FieldIPProto.Offset] = byte(p.ip6.NextHeader)
			k[match.FieldIPDSCP.Offset] = p.ip6.TrafficClass
			k[match.FieldIPVersion.Offset] = 6
			k[match.FieldTTL.Offset] = p.ip6.HopLimit
			copy(k[match.FieldSrcIP.Offset:match.FieldSrcIP.End()], p.ip6.SrcIP.To16())
			copy(k[match.FieldDstIP.Offset:match.FieldDstIP.End()], p.ip6.DstIP.To16())
		case layers.LayerTypeTCP:
			putUint16(k, match.FieldL4SPort, uint16(p.tcp.SrcPort))
			putUint16(k, match.FieldL4DPort, uint16(p.tcp.DstPort))
		case layers.LayerTypeUDP:
			putUint16(k, match.FieldL4SPort, uint16(p.udp.SrcPort))
			putUint16(k, match.FieldL4DPort, uint16(p.udp.DstPort))
		}
	}
	return d, nil
}

func putUint16(k *match.Key, f match.Field, v uint16) {
	binary.BigEndian.PutUint16(k[f.Offset:f.End()], v)
}

func getUint16(k *match.Key, f match.Field) uint16 {
	return binary.BigEndian.Uint16(k[f.Offset:f.End()])
}

// Rewrite writes modified header fields from the key back into the frame.
// Checksums and lengths are recomputed. It is a no-op if no rewrite was
// applied or the descriptor has no frame.
func (d *Descriptor) Rewrite() error {
	if !d.modified || d.Frame == nil {
		return nil
	}
	pkt := gopacket.NewPacket(d.Frame, layers.LayerTypeEthernet, gopacket.Default)
	k := &d.Key
	var (
		serializable []gopacket.SerializableLayer
		network      gopacket.NetworkLayer
		vlan         bool
	)
	for _, l := range pkt.Layers() {
		switch l := l.(type) {
		case *layers.Ethernet:
			l.SrcMAC = d.SMAC()
			l.DstMAC = d.DMAC()
			if l.EthernetType != layers.EthernetTypeDot1Q {
				l.EthernetType = layers.EthernetType(getUint16(k, match.FieldEtherType))
			} else {
				vlan = true
			}
		case *layers.Dot1Q:
			if vlan {
				l.Type = layers.EthernetType(getUint16(k, match.FieldEtherType))
			}
		case *layers.IPv4:
			l.TOS = k[match.FieldIPDSCP.Offset]
			l.TTL = k[match.FieldTTL.Offset]
			l.SrcIP = net.IP(d.Field(match.FieldSrcIPv4))
			l.DstIP = net.IP(d.Field(match.FieldDstIPv4))
			network = l
		case *layers.IPv6:
			l.TrafficClass = k[match.FieldIPDSCP.Offset]
			l.HopLimit = k[match.FieldTTL.Offset]
			l.SrcIP = net.IP(d.Field(match.FieldSrcIP))
			l.DstIP = net.IP(d.Field(match.FieldDstIP))
			network = l
		case *layers.TCP:
			l.SrcPort = layers.TCPPort(getUint16(k, match.FieldL4SPort))
			l.DstPort = layers.TCPPort(getUint16(k, match.FieldL4DPort))
			if network != nil {
				if err := l.SetNetworkLayerForChecksum(network); err != nil {
					return serrors.Wrap("preparing TCP checksum", err)
				}
			}
		case *layers.UDP:
			l.SrcPort = layers.UDPPort(getUint16(k, match.FieldL4SPort))
			l.DstPort = layers.UDPPort(getUint16(k, match.FieldL4DPort))
			if network != nil {
				if err := l.SetNetworkLayerForChecksum(network); err != nil {
					return serrors.Wrap("preparing UDP checksum", err)
				}
			}
		}
		if sl, ok := l.(gopacket.SerializableLayer); ok {
			serializable = append(serializable, sl)
			continue
		}
		// Keep everything from the first layer we cannot serialize as opaque
		// payload.
		raw := append(append([]byte(nil), l.LayerContents()...), l.LayerPayload()...)
		serializable = append(serializable, gopacket.Payload(raw))
		break
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, serializable...); err != nil {
		return serrors.Wrap("serializing rewritten frame", err)
	}
	d.Frame = append([]byte(nil), buf.Bytes()...)
	d.Length = len(d.Frame)
	d.modified = false
	return nil
}
