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

// Package match implements the match parameters of the steering engine.
//
// A packet is represented by a fixed size match key of MaxSize bytes. The key
// is split into six criteria sections of SectionSize bytes each. Matchers
// hold a mask and rules hold a value, both encoded as Params. Only the bits
// set in the mask participate in matching:
//
//	key & mask == value & mask
//
// All offsets and lengths are byte granular, the mask is applied bitwise.
package match

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
)

const (
	// MaxSize is the maximum size of match parameters in bytes.
	MaxSize = 0x180
	// SectionSize is the size of a single criteria section in bytes.
	SectionSize = 0x40
)

var (
	// ErrInvalidMask indicates that a mask exceeds MaxSize or sets bits
	// outside of its enabled criteria.
	ErrInvalidMask = errors.New("invalid mask")
	// ErrLengthMismatch indicates that two parameters of different sizes
	// were combined.
	ErrLengthMismatch = errors.New("length mismatch")
)

// Criteria selects the sections of the match key a mask may use.
type Criteria uint8

const (
	CriteriaOuter Criteria = 1 << iota
	CriteriaMisc
	CriteriaInner
	CriteriaMisc2
	CriteriaMisc3
	CriteriaMisc4

	// CriteriaNone enables no section, masks must be all zero.
	CriteriaNone Criteria = 0
	// CriteriaAll enables all sections.
	CriteriaAll Criteria = 1<<numSections - 1
)

const numSections = MaxSize / SectionSize

var criteriaNames = [numSections]string{"outer", "misc", "inner", "misc2", "misc3", "misc4"}

func (c Criteria) String() string {
	if c == CriteriaNone {
		return "none"
	}
	var buf bytes.Buffer
	for i, name := range criteriaNames {
		if c&(1<<i) == 0 {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('|')
		}
		buf.WriteString(name)
	}
	if rest := c &^ CriteriaAll; rest != 0 {
		if buf.Len() > 0 {
			buf.WriteByte('|')
		}
		fmt.Fprintf(&buf, "0x%x", uint8(rest))
	}
	return buf.String()
}

// ParseCriteria parses a criteria name as returned by String. Multiple
// sections are separated by '|'.
func ParseCriteria(s string) (Criteria, error) {
	if s == "" || s == "none" {
		return CriteriaNone, nil
	}
	var c Criteria
	for _, part := range bytes.Split([]byte(s), []byte("|")) {
		found := false
		for i, name := range criteriaNames {
			if string(part) == name {
				c |= 1 << i
				found = true
				break
			}
		}
		if !found {
			return 0, serrors.New("unknown criteria", "criteria", string(part))
		}
	}
	return c, nil
}

// Enables reports whether the section starting at offset is enabled.
func (c Criteria) Enables(offset int) bool {
	section := offset / SectionSize
	return section < numSections && c&(1<<section) != 0
}

// Params is an immutable byte string used as mask or value. The size is
// always a multiple of 4. The zero value has size 0.
type Params struct {
	b []byte
}

// NewParams creates parameters of the given size from b. The size is rounded
// up to the next multiple of 4 and the content is zero padded. It is an error
// if b is longer than size.
func NewParams(size int, b []byte) (Params, error) {
	if size < 0 || len(b) > size {
		return Params{}, serrors.JoinNoStack(ErrLengthMismatch, nil,
			"size", size, "content", len(b))
	}
	buf := make([]byte, roundUp(size))
	copy(buf, b)
	return Params{b: buf}, nil
}

// MustParams is like NewParams but panics on error. It sizes the parameters
// to the content.
func MustParams(b []byte) Params {
	p, err := NewParams(len(b), b)
	if err != nil {
		panic(err)
	}
	return p
}

func roundUp(n int) int {
	return (n + 3) &^ 3
}

// Size returns the size in bytes.
func (p Params) Size() int {
	return len(p.b)
}

// Bytes returns a copy of the content. The result is never nil.
func (p Params) Bytes() []byte {
	b := make([]byte, len(p.b))
	copy(b, p.b)
	return b
}

// IsZero reports whether no bit is set.
func (p Params) IsZero() bool {
	for _, v := range p.b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Equal compares the parameters. Parameters of unequal size cannot be
// compared and result in ErrLengthMismatch.
func (p Params) Equal(o Params) (bool, error) {
	if len(p.b) != len(o.b) {
		return false, serrors.JoinNoStack(ErrLengthMismatch, nil,
			"left", len(p.b), "right", len(o.b))
	}
	return bytes.Equal(p.b, o.b), nil
}

// And returns p & mask. Both must have the same size.
func (p Params) And(mask Params) (Params, error) {
	if len(p.b) != len(mask.b) {
		return Params{}, serrors.JoinNoStack(ErrLengthMismatch, nil,
			"value", len(p.b), "mask", len(mask.b))
	}
	out := make([]byte, len(p.b))
	for i := range p.b {
		out[i] = p.b[i] & mask.b[i]
	}
	return Params{b: out}, nil
}

func (p Params) String() string {
	return hex.EncodeToString(p.b)
}

// MarshalText encodes the parameters as hex.
func (p Params) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(p.b)), nil
}

// UnmarshalText decodes hex encoded parameters.
func (p *Params) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return serrors.Wrap("decoding match parameters", err)
	}
	np, err := NewParams(len(b), b)
	if err != nil {
		return err
	}
	*p = np
	return nil
}

// ValidateMask checks that the mask fits into MaxSize and only sets bits in
// sections enabled by c.
func ValidateMask(mask Params, c Criteria) error {
	if mask.Size() > MaxSize {
		return serrors.JoinNoStack(ErrInvalidMask, nil, "size", mask.Size(), "max", MaxSize)
	}
	if c&^CriteriaAll != 0 {
		return serrors.JoinNoStack(ErrInvalidMask, nil, "criteria", c)
	}
	for i, v := range mask.b {
		if v != 0 && !c.Enables(i) {
			return serrors.JoinNoStack(ErrInvalidMask, nil,
				"offset", i, "criteria", c)
		}
	}
	return nil
}

// Key is the match key of a packet.
type Key [MaxSize]byte

// Matches reports whether key & mask == masked. masked must be the value
// already combined with the mask and have the same size as mask.
func (k *Key) Matches(mask, masked []byte) bool {
	for i, m := range mask {
		if k[i]&m != masked[i] {
			return false
		}
	}
	return true
}

// Matches reports whether the key matches value under mask. It returns
// ErrLengthMismatch if value and mask differ in size.
func Matches(key *Key, mask, value Params) (bool, error) {
	masked, err := value.And(mask)
	if err != nil {
		return false, err
	}
	return key.Matches(mask.b, masked.b), nil
}

// Raw returns the content without copying. The caller must not modify it.
func (p Params) Raw() []byte {
	return p.b
}
