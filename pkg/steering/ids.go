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
	"fmt"
	"strconv"
	"strings"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
)

// ref locates an object in the arena of a domain. The sequence number is
// unique per domain and increases with every created object, it therefore
// also defines the creation order.
type ref struct {
	domain uint32
	slot   uint32
	seq    uint64
}

// IsZero reports whether the ID refers to nothing.
func (r ref) IsZero() bool {
	return r.seq == 0
}

// Seq returns the creation sequence number of the object. It is the ID
// the object is known by to the driver.
func (r ref) Seq() uint64 {
	return r.seq
}

func (r ref) String() string {
	if r.IsZero() {
		return "<nil>"
	}
	return fmt.Sprintf("%d.%d", r.slot, r.seq)
}

func parseRef(domain uint32, s string) (ref, error) {
	slot, seq, ok := strings.Cut(s, ".")
	if !ok {
		return ref{}, serrors.New("invalid ID", "id", s)
	}
	sl, err := strconv.ParseUint(slot, 10, 32)
	if err != nil {
		return ref{}, serrors.Wrap("parsing slot", err, "id", s)
	}
	sq, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return ref{}, serrors.Wrap("parsing sequence", err, "id", s)
	}
	if sq == 0 {
		return ref{}, serrors.New("invalid ID", "id", s)
	}
	return ref{domain: domain, slot: uint32(sl), seq: sq}, nil
}

// TableID identifies a table of a domain.
type TableID struct{ ref }

// MatcherID identifies a matcher of a domain.
type MatcherID struct{ ref }

// RuleID identifies a rule of a domain.
type RuleID struct{ ref }

type arenaSlot[T any] struct {
	seq  uint64
	live bool
	val  T
}

// arena stores objects in reusable slots. A slot is addressed together with
// the sequence number of the object it was allocated for, so a stale ID
// never resolves to an object that later reused the slot.
type arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
	live  int
}

func (a *arena[T]) insert(seq uint64, v T) uint32 {
	a.live++
	if n := len(a.free); n > 0 {
		slot := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[slot] = arenaSlot[T]{seq: seq, live: true, val: v}
		return slot
	}
	a.slots = append(a.slots, arenaSlot[T]{seq: seq, live: true, val: v})
	return uint32(len(a.slots) - 1)
}

func (a *arena[T]) get(slot uint32, seq uint64) (T, bool) {
	var zero T
	if int(slot) >= len(a.slots) {
		return zero, false
	}
	s := a.slots[slot]
	if !s.live || s.seq != seq {
		return zero, false
	}
	return s.val, true
}

func (a *arena[T]) remove(slot uint32, seq uint64) (T, bool) {
	v, ok := a.get(slot, seq)
	if !ok {
		return v, false
	}
	a.slots[slot] = arenaSlot[T]{seq: seq}
	a.free = append(a.free, slot)
	a.live--
	return v, true
}

// restore puts a removed object back into its slot. It is used to undo a
// remove and must be called before the slot is reused.
func (a *arena[T]) restore(slot uint32, seq uint64, v T) {
	for i, f := range a.free {
		if f == slot {
			a.free = append(a.free[:i], a.free[i+1:]...)
			break
		}
	}
	a.slots[slot] = arenaSlot[T]{seq: seq, live: true, val: v}
	a.live++
}

func (a *arena[T]) len() int {
	return a.live
}

// each calls fn for every live object in slot order.
func (a *arena[T]) each(fn func(slot uint32, seq uint64, v T)) {
	for i, s := range a.slots {
		if s.live {
			fn(uint32(i), s.seq, s.val)
		}
	}
}
