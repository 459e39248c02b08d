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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering/match"
)

// ErrInvalidSetAction indicates a malformed header rewrite operation.
var ErrInvalidSetAction = errors.New("invalid set action")

// SetActionType is the operation of a SetAction.
type SetActionType uint8

const (
	// SetActionSet overwrites the field.
	SetActionSet SetActionType = 0x1
	// SetActionAdd adds to the field, wrapping around at the field width.
	SetActionAdd SetActionType = 0x2
)

func (t SetActionType) String() string {
	switch t {
	case SetActionSet:
		return "set"
	case SetActionAdd:
		return "add"
	default:
		return fmt.Sprintf("unknown(0x%x)", uint8(t))
	}
}

// ModifyField identifies the header field a SetAction rewrites.
type ModifyField uint16

// Rewritable outer header fields.
const (
	FieldOutSMAC47_16 ModifyField = 0x1
	FieldOutSMAC15_0  ModifyField = 0x2
	FieldOutEtherType ModifyField = 0x3
	FieldOutDMAC47_16 ModifyField = 0x4
	FieldOutDMAC15_0  ModifyField = 0x5
	FieldOutIPDSCP    ModifyField = 0x6
	FieldOutTCPSPort  ModifyField = 0x8
	FieldOutTCPDPort  ModifyField = 0x9
	FieldOutIPv4TTL   ModifyField = 0xa
	FieldOutUDPSPort  ModifyField = 0xb
	FieldOutUDPDPort  ModifyField = 0xc
	FieldOutSIPv4     ModifyField = 0x15
	FieldOutDIPv4     ModifyField = 0x16
)

type fieldCond uint8

const (
	always fieldCond = iota
	ipv4Only
	tcpOnly
	udpOnly
)

// modifyTarget locates a rewritable field in the match key. The field
// occupies bits [shift, shift+bits) of the big endian container of size
// bytes at offset.
type modifyTarget struct {
	name   string
	offset int
	size   int
	bits   uint8
	shift  uint8
	cond   fieldCond
}

var modifyTargets = map[ModifyField]modifyTarget{
	FieldOutSMAC47_16: {name: "out_smac_47_16", offset: 0x00, size: 4, bits: 32},
	FieldOutSMAC15_0:  {name: "out_smac_15_0", offset: 0x04, size: 2, bits: 16},
	FieldOutEtherType: {name: "out_ethertype", offset: 0x06, size: 2, bits: 16},
	FieldOutDMAC47_16: {name: "out_dmac_47_16", offset: 0x08, size: 4, bits: 32},
	FieldOutDMAC15_0:  {name: "out_dmac_15_0", offset: 0x0c, size: 2, bits: 16},
	FieldOutIPDSCP:    {name: "out_ip_dscp", offset: 0x11, size: 1, bits: 6, shift: 2},
	FieldOutTCPSPort:  {name: "out_tcp_sport", offset: 0x18, size: 2, bits: 16, cond: tcpOnly},
	FieldOutTCPDPort:  {name: "out_tcp_dport", offset: 0x1a, size: 2, bits: 16, cond: tcpOnly},
	FieldOutIPv4TTL:   {name: "out_ipv4_ttl", offset: 0x13, size: 1, bits: 8, cond: ipv4Only},
	FieldOutUDPSPort:  {name: "out_udp_sport", offset: 0x18, size: 2, bits: 16, cond: udpOnly},
	FieldOutUDPDPort:  {name: "out_udp_dport", offset: 0x1a, size: 2, bits: 16, cond: udpOnly},
	FieldOutSIPv4:     {name: "out_sipv4", offset: 0x2c, size: 4, bits: 32, cond: ipv4Only},
	FieldOutDIPv4:     {name: "out_dipv4", offset: 0x3c, size: 4, bits: 32, cond: ipv4Only},
}

func (f ModifyField) String() string {
	if t, ok := modifyTargets[f]; ok {
		return t.name
	}
	return fmt.Sprintf("unknown(0x%x)", uint16(f))
}

// ParseModifyField parses a field name as returned by String.
func ParseModifyField(s string) (ModifyField, error) {
	for f, t := range modifyTargets {
		if t.name == s {
			return f, nil
		}
	}
	return 0, serrors.JoinNoStack(ErrInvalidSetAction, nil, "field", s)
}

// Width returns the width of the field in bits, or 0 for unknown fields.
func (f ModifyField) Width() uint8 {
	return modifyTargets[f].bits
}

// SetAction is a single header rewrite operation. Length is the number of
// low order bits of the field that are written, 0 means the full width of
// the field.
type SetAction struct {
	Type   SetActionType
	Field  ModifyField
	Length uint8
	Data   uint32
}

func (a SetAction) length() uint8 {
	if a.Length == 0 {
		return a.Field.Width()
	}
	return a.Length
}

// Validate checks that type and field are known and the length fits the
// field.
func (a SetAction) Validate() error {
	t, ok := modifyTargets[a.Field]
	if !ok {
		return serrors.JoinNoStack(ErrInvalidSetAction, nil, "field", a.Field)
	}
	if a.Type != SetActionSet && a.Type != SetActionAdd {
		return serrors.JoinNoStack(ErrInvalidSetAction, nil, "type", a.Type)
	}
	if a.length() > t.bits {
		return serrors.JoinNoStack(ErrInvalidSetAction, nil,
			"field", a.Field, "length", a.length(), "width", t.bits)
	}
	return nil
}

func (a SetAction) String() string {
	return fmt.Sprintf("%s %s/%d 0x%x", a.Type, a.Field, a.length(), a.Data)
}

// Apply executes the set actions in order on the descriptor's key. Later
// actions on the same field see the result of earlier ones. Actions on
// protocol fields the packet does not carry are skipped. The frame is only
// updated by Rewrite.
func (d *Descriptor) Apply(actions []SetAction) error {
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	for _, a := range actions {
		t := modifyTargets[a.Field]
		if !d.carries(t.cond) {
			continue
		}
		container := d.Key[t.offset : t.offset+t.size]
		fieldMask := lowBits(t.bits)
		cur := (readBE(container) >> t.shift) & fieldMask
		var next uint32
		switch a.Type {
		case SetActionSet:
			writeMask := lowBits(a.length())
			next = cur&^writeMask | a.Data&writeMask
		case SetActionAdd:
			next = (cur + a.Data) & fieldMask
		}
		v := readBE(container)&^(fieldMask<<t.shift) | next<<t.shift
		writeBE(container, v)
		d.modified = true
	}
	return nil
}

func (d *Descriptor) carries(c fieldCond) bool {
	k := &d.Key
	switch c {
	case ipv4Only:
		return k[match.FieldIPVersion.Offset] == 4
	case tcpOnly:
		return k[match.FieldIPVersion.Offset] != 0 && k[match.FieldIPProto.Offset] == 6
	case udpOnly:
		return k[match.FieldIPVersion.Offset] != 0 && k[match.FieldIPProto.Offset] == 17
	default:
		return true
	}
}

func lowBits(n uint8) uint32 {
	if n >= 32 {
		return ^uint32(0)
	}
	return 1<<n - 1
}

func readBE(b []byte) uint32 {
	switch len(b) {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.BigEndian.Uint16(b))
	default:
		return binary.BigEndian.Uint32(b)
	}
}

func writeBE(b []byte, v uint32) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(b, uint16(v))
	default:
		binary.BigEndian.PutUint32(b, v)
	}
}
