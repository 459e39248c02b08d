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

package match

import (
	"encoding/binary"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
)

// Field is a named byte range of the match key.
type Field struct {
	Name   string
	Offset int
	Len    int
}

// End returns the offset of the first byte after the field.
func (f Field) End() int {
	return f.Offset + f.Len
}

// Outer header fields.
var (
	FieldSMAC      = Field{Name: "smac", Offset: 0x00, Len: 6}
	FieldEtherType = Field{Name: "ethertype", Offset: 0x06, Len: 2}
	FieldDMAC      = Field{Name: "dmac", Offset: 0x08, Len: 6}
	FieldVLAN      = Field{Name: "vlan", Offset: 0x0e, Len: 2}
	FieldIPProto   = Field{Name: "ip_protocol", Offset: 0x10, Len: 1}
	FieldIPDSCP    = Field{Name: "ip_dscp", Offset: 0x11, Len: 1}
	FieldIPVersion = Field{Name: "ip_version", Offset: 0x12, Len: 1}
	FieldTTL       = Field{Name: "ttl", Offset: 0x13, Len: 1}
	FieldL4SPort   = Field{Name: "l4_sport", Offset: 0x18, Len: 2}
	FieldL4DPort   = Field{Name: "l4_dport", Offset: 0x1a, Len: 2}
	FieldSrcIP     = Field{Name: "src_ip", Offset: 0x20, Len: 16}
	FieldDstIP     = Field{Name: "dst_ip", Offset: 0x30, Len: 16}
	FieldSrcIPv4   = Field{Name: "src_ipv4", Offset: 0x2c, Len: 4}
	FieldDstIPv4   = Field{Name: "dst_ipv4", Offset: 0x3c, Len: 4}
)

var fields = map[string]Field{}

func init() {
	for _, f := range []Field{
		FieldSMAC, FieldEtherType, FieldDMAC, FieldVLAN, FieldIPProto, FieldIPDSCP,
		FieldIPVersion, FieldTTL, FieldL4SPort, FieldL4DPort, FieldSrcIP, FieldDstIP,
		FieldSrcIPv4, FieldDstIPv4,
	} {
		fields[f.Name] = f
	}
}

// FieldByName returns the field with the given name.
func FieldByName(name string) (Field, bool) {
	f, ok := fields[name]
	return f, ok
}

// FieldNames returns the sorted names of all known fields.
func FieldNames() []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseFieldValue parses the textual representation of a field value. MAC
// fields take colon notation, IP fields take an address, all other fields
// take an unsigned integer (decimal or 0x prefixed hex).
func ParseFieldValue(f Field, s string) ([]byte, error) {
	switch f.Name {
	case FieldSMAC.Name, FieldDMAC.Name:
		mac, err := net.ParseMAC(s)
		if err != nil || len(mac) != f.Len {
			return nil, serrors.New("invalid MAC address", "field", f.Name, "value", s)
		}
		return mac, nil
	case FieldSrcIP.Name, FieldDstIP.Name:
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, serrors.Wrap("invalid IP address", err, "field", f.Name)
		}
		b := a.As16()
		return b[:], nil
	case FieldSrcIPv4.Name, FieldDstIPv4.Name:
		a, err := netip.ParseAddr(s)
		if err != nil || !a.Is4() {
			return nil, serrors.New("invalid IPv4 address", "field", f.Name, "value", s)
		}
		b := a.As4()
		return b[:], nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, f.Len*8)
	if err != nil {
		return nil, serrors.Wrap("invalid field value", err, "field", f.Name)
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b[8-f.Len:], nil
}

// Builder assembles match parameters field by field.
type Builder struct {
	buf Key
	end int
}

// Set writes v into the field. v must have the field's length.
func (b *Builder) Set(f Field, v []byte) error {
	if len(v) != f.Len {
		return serrors.JoinNoStack(ErrLengthMismatch, nil,
			"field", f.Name, "expected", f.Len, "actual", len(v))
	}
	if f.End() > MaxSize {
		return serrors.JoinNoStack(ErrInvalidMask, nil, "field", f.Name)
	}
	copy(b.buf[f.Offset:], v)
	if f.End() > b.end {
		b.end = f.End()
	}
	return nil
}

// SetString parses s with ParseFieldValue and sets the named field.
func (b *Builder) SetString(name, s string) error {
	f, ok := FieldByName(name)
	if !ok {
		return serrors.New("unknown field", "field", name)
	}
	v, err := ParseFieldValue(f, s)
	if err != nil {
		return err
	}
	return b.Set(f, v)
}

// SetFull sets all bits of the field, which is the typical mask use.
func (b *Builder) SetFull(f Field) error {
	v := make([]byte, f.Len)
	for i := range v {
		v[i] = 0xff
	}
	return b.Set(f, v)
}

// Params returns the parameters sized to the last field set.
func (b *Builder) Params() Params {
	p, _ := NewParams(b.end, b.buf[:b.end])
	return p
}

// ParamsOfSize returns the parameters with the given size. It fails if a set
// field does not fit into size.
func (b *Builder) ParamsOfSize(size int) (Params, error) {
	if b.end > size {
		return Params{}, serrors.JoinNoStack(ErrLengthMismatch, nil,
			"size", size, "required", b.end)
	}
	return NewParams(size, b.buf[:b.end])
}
