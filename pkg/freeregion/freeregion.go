// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package freeregion tracks the free ranges of a virtual address space.
//
// The free set is kept sorted by start address, pairwise non-overlapping and
// maximally merged: no two regions touch. Ranges may extend to the very top of
// the 64-bit space, so range ends are always handled as inclusive last
// addresses.
package freeregion

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/btree"
	"tvm.dev/loader/pkg/bits"
)

// Errors returned by Tracker.
var (
	// ErrInvalidRegion is returned for a zero-length range or one that
	// extends past 2^64.
	ErrInvalidRegion = errors.New("region is invalid")

	// ErrUnavailableRegion is returned by Allocate when no single free
	// region contains the request.
	ErrUnavailableRegion = errors.New("region is not free for allocation")

	// ErrRegionOverlap is returned by Deallocate when the range overlaps a
	// free region.
	ErrRegionOverlap = errors.New("region overlaps with already freed regions")
)

// Region is the half-open range [Start, Start+Length).
type Region struct {
	Start  uint64
	Length uint64
}

// Last returns the inclusive last address of r.
//
// Precondition: r.Length > 0.
func (r Region) Last() uint64 {
	return r.Start + (r.Length - 1)
}

// Contains returns whether addr lies in r.
func (r Region) Contains(addr uint64) bool {
	return r.Length != 0 && addr >= r.Start && addr <= r.Last()
}

// String implements fmt.Stringer.String.
func (r Region) String() string {
	if r.Length == 0 {
		return fmt.Sprintf("[%#x, %#x)", r.Start, r.Start)
	}
	return fmt.Sprintf("[%#x, %#x]", r.Start, r.Last())
}

// btreeDegree is the fan-out of the backing tree.
const btreeDegree = 8

func lessRegion(a, b Region) bool {
	return a.Start < b.Start
}

// Tracker is the free set of one address space.
//
// Tracker is not thread-safe.
type Tracker struct {
	regions *btree.BTreeG[Region]
}

// New builds a tracker whose free set is base.
//
// base must be sorted by start, non-overlapping, and end at or below 2^64;
// violations panic. Zero-length regions are ignored and adjacent regions are
// coalesced.
func New(base []Region) *Tracker {
	t := &Tracker{regions: btree.NewG[Region](btreeDegree, lessRegion)}

	var (
		cur     Region
		haveCur bool
	)
	for _, r := range base {
		if r.Length == 0 {
			continue
		}
		if _, ok := bits.LastAddress(r.Start, r.Length); !ok {
			panic(fmt.Sprintf("free region start %#x length %#x extends past 2^64", r.Start, r.Length))
		}
		if !haveCur {
			cur, haveCur = r, true
			continue
		}
		if r.Start <= cur.Last() {
			panic(fmt.Sprintf("free region %v is unsorted or overlaps %v", r, cur))
		}
		if r.Start == cur.Last()+1 {
			length, ok := bits.CheckedAdd(cur.Length, r.Length)
			if !ok {
				panic(fmt.Sprintf("free regions %v and %v cover all of 2^64", cur, r))
			}
			cur.Length = length
			continue
		}
		t.regions.ReplaceOrInsert(cur)
		cur = r
	}
	if haveCur {
		t.regions.ReplaceOrInsert(cur)
	}
	return t
}

// floor returns the region with the greatest start at or below addr.
func (t *Tracker) floor(addr uint64) (Region, bool) {
	var (
		found Region
		ok    bool
	)
	t.regions.DescendLessOrEqual(Region{Start: addr}, func(r Region) bool {
		found, ok = r, true
		return false
	})
	return found, ok
}

// ceiling returns the region with the smallest start strictly above addr.
func (t *Tracker) ceiling(addr uint64) (Region, bool) {
	var (
		found Region
		ok    bool
	)
	t.regions.AscendGreaterOrEqual(Region{Start: addr}, func(r Region) bool {
		if r.Start == addr {
			return true
		}
		found, ok = r, true
		return false
	})
	return found, ok
}

// Allocate removes exactly [start, start+length) from the free set.
//
// It returns ErrInvalidRegion if length is zero or the range passes 2^64, and
// ErrUnavailableRegion if no single free region contains the whole range.
func (t *Tracker) Allocate(start, length uint64) error {
	if length == 0 {
		return ErrInvalidRegion
	}
	last, ok := bits.LastAddress(start, length)
	if !ok {
		return ErrInvalidRegion
	}

	// The containing region, if any, is the one with the greatest start at
	// or below start. This covers both the exact-start and the inside case.
	r, ok := t.floor(start)
	if !ok || r.Last() < last {
		return ErrUnavailableRegion
	}

	t.regions.Delete(r)
	if r.Start < start {
		t.regions.ReplaceOrInsert(Region{Start: r.Start, Length: start - r.Start})
	}
	if last < r.Last() {
		t.regions.ReplaceOrInsert(Region{Start: last + 1, Length: r.Last() - last})
	}
	return nil
}

// Deallocate returns [start, start+length) to the free set, merging it with
// both neighbours when they touch.
//
// It returns ErrInvalidRegion if length is zero or the range passes 2^64, and
// ErrRegionOverlap if any part of the range is already free.
func (t *Tracker) Deallocate(start, length uint64) error {
	if length == 0 {
		return ErrInvalidRegion
	}
	last, ok := bits.LastAddress(start, length)
	if !ok {
		return ErrInvalidRegion
	}

	prev, havePrev := t.floor(start)
	if havePrev && prev.Last() >= start {
		return ErrRegionOverlap
	}
	next, haveNext := t.ceiling(start)
	if haveNext && next.Start <= last {
		return ErrRegionOverlap
	}

	// Merging must not produce a single region covering all of 2^64,
	// which a Region cannot express.
	adjacentPrev := havePrev && prev.Last()+1 == start
	total := length
	if adjacentPrev {
		if total, ok = bits.CheckedAdd(total, prev.Length); !ok {
			return ErrInvalidRegion
		}
	}
	if haveNext && last+1 == next.Start {
		if _, ok = bits.CheckedAdd(total, next.Length); !ok {
			return ErrInvalidRegion
		}
	}

	r := Region{Start: start, Length: length}
	t.regions.ReplaceOrInsert(r)
	if adjacentPrev {
		r = prev
	}
	t.merge(r)
	return nil
}

// merge absorbs the regions following r for as long as each starts exactly
// where r ends.
func (t *Tracker) merge(r Region) {
	for r.Last() != math.MaxUint64 {
		next, ok := t.ceiling(r.Start)
		if !ok || next.Start != r.Last()+1 {
			return
		}
		t.regions.Delete(next)
		r.Length += next.Length
		t.regions.ReplaceOrInsert(r)
	}
}

// IsFree returns whether all of [start, start+length) is free.
func (t *Tracker) IsFree(start, length uint64) bool {
	if length == 0 {
		return false
	}
	last, ok := bits.LastAddress(start, length)
	if !ok {
		return false
	}
	r, ok := t.floor(start)
	return ok && r.Last() >= last
}

// Len returns the number of free regions.
func (t *Tracker) Len() int {
	return t.regions.Len()
}

// Regions returns the free set in ascending order.
func (t *Tracker) Regions() []Region {
	rs := make([]Region, 0, t.regions.Len())
	t.regions.Ascend(func(r Region) bool {
		rs = append(rs, r)
		return true
	})
	return rs
}

// String implements fmt.Stringer.String.
func (t *Tracker) String() string {
	return fmt.Sprintf("%v", t.Regions())
}
