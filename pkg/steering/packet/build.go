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

package packet

import (
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/mdlayher/ethernet"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
)

// EtherTypeTest is the local experimental EtherType used for generated test
// traffic.
const EtherTypeTest ethernet.EtherType = 0x88b5

// Frame describes a raw Ethernet frame to build.
type Frame struct {
	Src       net.HardwareAddr
	Dst       net.HardwareAddr
	VLAN      uint16
	EtherType ethernet.EtherType
	Payload   []byte
}

// Build marshals the frame. The payload is padded to the Ethernet minimum.
func Build(f Frame) ([]byte, error) {
	ef := ethernet.Frame{
		Destination: f.Dst,
		Source:      f.Src,
		EtherType:   f.EtherType,
		Payload:     f.Payload,
	}
	if ef.EtherType == 0 {
		ef.EtherType = EtherTypeTest
	}
	if f.VLAN != 0 {
		ef.VLAN = &ethernet.VLAN{ID: f.VLAN & 0x0fff, Priority: ethernet.Priority(f.VLAN >> 13)}
	}
	raw, err := ef.MarshalBinary()
	if err != nil {
		return nil, serrors.Wrap("marshaling frame", err)
	}
	return raw, nil
}

// MustBuild is like Build but panics on error.
func MustBuild(f Frame) []byte {
	raw, err := Build(f)
	if err != nil {
		panic(err)
	}
	return raw
}

// UDPFrame describes an Ethernet/IPv4/UDP frame to build.
type UDPFrame struct {
	SrcMAC, DstMAC   net.HardwareAddr
	SrcIP, DstIP     netip.Addr
	SrcPort, DstPort uint16
	TTL              uint8
	Payload          []byte
}

// BuildUDP serializes the frame with lengths and checksums filled in.
func BuildUDP(f UDPFrame) ([]byte, error) {
	if !f.SrcIP.Is4() || !f.DstIP.Is4() {
		return nil, serrors.New("only IPv4 supported", "src", f.SrcIP, "dst", f.DstIP)
	}
	ttl := f.TTL
	if ttl == 0 {
		ttl = 64
	}
	eth := &layers.Ethernet{
		SrcMAC:       f.SrcMAC,
		DstMAC:       f.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		SrcIP:    f.SrcIP.AsSlice(),
		DstIP:    f.DstIP.AsSlice(),
		Protocol: layers.IPProtocolUDP,
		Flags:    layers.IPv4DontFragment,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(f.SrcPort),
		DstPort: layers.UDPPort(f.DstPort),
	}
	_ = udp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp,
		gopacket.Payload(f.Payload)); err != nil {
		return nil, serrors.Wrap("serializing UDP frame", err)
	}
	return buf.Bytes(), nil
}
