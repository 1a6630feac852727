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

package freeregion

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	// testSize is the number of pages in the randomized tests. checkTracker
	// runs after every operation, so tests are quadratic in testSize.
	testSize = 2000

	pageSize = 0x1000
)

func shuffle(xs []int) {
	for i := range xs {
		j := rand.Intn(i + 1)
		xs[i], xs[j] = xs[j], xs[i]
	}
}

func randPermutation(size int) []int {
	p := make([]int, size)
	for i := range p {
		p[i] = i
	}
	shuffle(p)
	return p
}

// checkTracker returns an error if t is not sorted, has overlapping or
// touching regions, or holds a different number of free bytes than
// expectedBytes.
func checkTracker(t *Tracker, expectedBytes uint64) error {
	var (
		havePrev bool
		prev     Region
		total    uint64
	)
	for i, r := range t.Regions() {
		if r.Length == 0 {
			return fmt.Errorf("region %d is empty", i)
		}
		if havePrev {
			if prev.Last() >= r.Start {
				return fmt.Errorf("region %d %v overlaps or precedes %v", i, r, prev)
			}
			if prev.Last()+1 == r.Start {
				return fmt.Errorf("region %d %v touches %v and was not merged", i, r, prev)
			}
		}
		prev, havePrev = r, true
		total += r.Length
	}
	if total != expectedBytes {
		return fmt.Errorf("free bytes: got %#x, wanted %#x", total, expectedBytes)
	}
	return nil
}

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		name string
		base []Region
		want []Region
	}{
		{
			name: "empty",
			base: nil,
			want: []Region{},
		},
		{
			name: "coalesces adjacent",
			base: []Region{{0, 0x1000}, {0x1000, 0x1000}, {0x3000, 0x1000}},
			want: []Region{{0, 0x2000}, {0x3000, 0x1000}},
		},
		{
			name: "drops empty",
			base: []Region{{0, 0}, {0x1000, 0x1000}, {0x5000, 0}},
			want: []Region{{0x1000, 0x1000}},
		},
		{
			name: "long mode halves",
			base: []Region{{0, 1 << 47}, {0xFFFF800000000000, 1 << 47}},
			want: []Region{{0, 1 << 47}, {0xFFFF800000000000, 1 << 47}},
		},
		{
			name: "ends at 2^64",
			base: []Region{{0xFFFFFFFFFFFFF000, 0x1000}},
			want: []Region{{0xFFFFFFFFFFFFF000, 0x1000}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := New(tc.base).Regions()
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Regions() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewPanics(t *testing.T) {
	for _, tc := range []struct {
		name string
		base []Region
	}{
		{"unsorted", []Region{{0x2000, 0x1000}, {0, 0x1000}}},
		{"overlapping", []Region{{0, 0x2000}, {0x1000, 0x1000}}},
		{"past 2^64", []Region{{0xFFFFFFFFFFFFF000, 0x2000}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("New(%v) did not panic", tc.base)
				}
			}()
			New(tc.base)
		})
	}
}

func TestAllocate(t *testing.T) {
	for _, tc := range []struct {
		name          string
		start, length uint64
		wantErr       error
		want          []Region
	}{
		{
			name:  "exact start",
			start: 0x10000, length: 0x1000,
			want: []Region{{0x11000, 0xF000}},
		},
		{
			name:  "whole region",
			start: 0x10000, length: 0x10000,
			want: []Region{},
		},
		{
			name:  "inside splits in two",
			start: 0x14000, length: 0x2000,
			want: []Region{{0x10000, 0x4000}, {0x16000, 0xA000}},
		},
		{
			name:  "suffix",
			start: 0x1F000, length: 0x1000,
			want: []Region{{0x10000, 0xF000}},
		},
		{
			name:  "straddles end",
			start: 0x1F000, length: 0x2000,
			wantErr: ErrUnavailableRegion,
			want:    []Region{{0x10000, 0x10000}},
		},
		{
			name:  "before every region",
			start: 0x1000, length: 0x1000,
			wantErr: ErrUnavailableRegion,
			want:    []Region{{0x10000, 0x10000}},
		},
		{
			name:  "zero length",
			start: 0x10000, length: 0,
			wantErr: ErrInvalidRegion,
			want:    []Region{{0x10000, 0x10000}},
		},
		{
			name:  "wraps",
			start: 0xFFFFFFFFFFFFF000, length: 0x2000,
			wantErr: ErrInvalidRegion,
			want:    []Region{{0x10000, 0x10000}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := New([]Region{{0x10000, 0x10000}})
			if err := tr.Allocate(tc.start, tc.length); !errors.Is(err, tc.wantErr) {
				t.Errorf("Allocate(%#x, %#x) = %v, want %v", tc.start, tc.length, err, tc.wantErr)
			}
			if diff := cmp.Diff(tc.want, tr.Regions()); diff != "" {
				t.Errorf("Regions() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAllocateNotContained(t *testing.T) {
	tr := New([]Region{{0, 0x1000}})
	if err := tr.Allocate(0x800, 0x1000); !errors.Is(err, ErrUnavailableRegion) {
		t.Errorf("Allocate([0x800, 0x1800)) = %v, want %v", err, ErrUnavailableRegion)
	}

	// A request spanning two free regions separated by a gap fails even
	// though each piece is free.
	tr = New([]Region{{0, 0x1000}, {0x2000, 0x1000}})
	if err := tr.Allocate(0, 0x3000); !errors.Is(err, ErrUnavailableRegion) {
		t.Errorf("Allocate across gap = %v, want %v", err, ErrUnavailableRegion)
	}
}

func TestDeallocate(t *testing.T) {
	// Free set: [0x1000, 0x2000) and [0x5000, 0x6000).
	base := []Region{{0x1000, 0x1000}, {0x5000, 0x1000}}
	for _, tc := range []struct {
		name          string
		start, length uint64
		wantErr       error
		want          []Region
	}{
		{
			name:  "isolated",
			start: 0x3000, length: 0x1000,
			want: []Region{{0x1000, 0x1000}, {0x3000, 0x1000}, {0x5000, 0x1000}},
		},
		{
			name:  "merges with previous",
			start: 0x2000, length: 0x1000,
			want: []Region{{0x1000, 0x2000}, {0x5000, 0x1000}},
		},
		{
			name:  "merges with next",
			start: 0x4000, length: 0x1000,
			want: []Region{{0x1000, 0x1000}, {0x4000, 0x2000}},
		},
		{
			name:  "merges with both",
			start: 0x2000, length: 0x3000,
			want: []Region{{0x1000, 0x5000}},
		},
		{
			name:  "below everything",
			start: 0, length: 0x1000,
			want: []Region{{0, 0x2000}, {0x5000, 0x1000}},
		},
		{
			name:  "same start",
			start: 0x1000, length: 0x1000,
			wantErr: ErrRegionOverlap,
			want:    base,
		},
		{
			name:  "overlaps tail of previous",
			start: 0x1800, length: 0x1000,
			wantErr: ErrRegionOverlap,
			want:    base,
		},
		{
			name:  "overlaps head of next",
			start: 0x4000, length: 0x1800,
			wantErr: ErrRegionOverlap,
			want:    base,
		},
		{
			name:  "covers a region",
			start: 0x4000, length: 0x3000,
			wantErr: ErrRegionOverlap,
			want:    base,
		},
		{
			name:  "zero length",
			start: 0x3000, length: 0,
			wantErr: ErrInvalidRegion,
			want:    base,
		},
		{
			name:  "past 2^64",
			start: 0xFFFFFFFFFFFFF000, length: 0x2000,
			wantErr: ErrInvalidRegion,
			want:    base,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := New(base)
			if err := tr.Deallocate(tc.start, tc.length); !errors.Is(err, tc.wantErr) {
				t.Errorf("Deallocate(%#x, %#x) = %v, want %v", tc.start, tc.length, err, tc.wantErr)
			}
			if diff := cmp.Diff(tc.want, tr.Regions()); diff != "" {
				t.Errorf("Regions() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDoubleFree(t *testing.T) {
	tr := New([]Region{{0x1000, 0x1000}})
	if err := tr.Deallocate(0x1800, 0x1000); !errors.Is(err, ErrRegionOverlap) {
		t.Errorf("Deallocate([0x1800, 0x2800)) = %v, want %v", err, ErrRegionOverlap)
	}

	tr = New([]Region{{0, 0x10000}})
	if err := tr.Allocate(0x4000, 0x1000); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := tr.Deallocate(0x4000, 0x1000); err != nil {
		t.Fatalf("Deallocate failed: %v", err)
	}
	if err := tr.Deallocate(0x4000, 0x1000); !errors.Is(err, ErrRegionOverlap) {
		t.Errorf("second Deallocate = %v, want %v", err, ErrRegionOverlap)
	}
}

func TestTopOfAddressSpace(t *testing.T) {
	const top = 0xFFFFFFFFFFFFF000
	tr := New([]Region{{0xFFFF800000000000, 1 << 47}})
	if err := tr.Allocate(top, pageSize); err != nil {
		t.Fatalf("Allocate(top page) failed: %v", err)
	}
	if tr.IsFree(top, pageSize) {
		t.Errorf("top page still free after Allocate")
	}
	if err := tr.Deallocate(top, pageSize); err != nil {
		t.Fatalf("Deallocate(top page) failed: %v", err)
	}
	want := []Region{{0xFFFF800000000000, 1 << 47}}
	if diff := cmp.Diff(want, tr.Regions()); diff != "" {
		t.Errorf("Regions() mismatch (-want +got):\n%s", diff)
	}
}

func TestWholeSpaceMergeRejected(t *testing.T) {
	tr := New([]Region{{0, 1 << 63}, {1<<63 + pageSize, 1<<63 - pageSize}})
	if err := tr.Deallocate(1<<63, pageSize); !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("Deallocate completing 2^64 = %v, want %v", err, ErrInvalidRegion)
	}
	if err := checkTracker(tr, math.MaxUint64-pageSize+1); err != nil {
		t.Error(err)
	}
}

func TestAllocateRandom(t *testing.T) {
	tr := New([]Region{{0, testSize * pageSize}})
	order := randPermutation(testSize)
	var nrAllocations int
	for i, j := range order {
		if err := tr.Allocate(uint64(j)*pageSize, pageSize); err != nil {
			t.Errorf("Iteration %d: Allocate(page %d) failed: %v", i, j, err)
			break
		}
		nrAllocations++
		if err := checkTracker(tr, uint64(testSize-nrAllocations)*pageSize); err != nil {
			t.Errorf("Iteration %d: %v", i, err)
			break
		}
	}
	if got := tr.Len(); got != 0 && nrAllocations == testSize {
		t.Errorf("Len() = %d after allocating everything", got)
	}
	if t.Failed() {
		t.Logf("Allocation order: %v", order[:nrAllocations])
		t.Logf("Tracker contents: %v", tr)
	}
}

func TestDeallocateRandom(t *testing.T) {
	tr := New([]Region{{0, testSize * pageSize}})
	if err := tr.Allocate(0, testSize*pageSize); err != nil {
		t.Fatalf("Allocate(all) failed: %v", err)
	}
	order := randPermutation(testSize)
	var nrFrees int
	for i, j := range order {
		if err := tr.Deallocate(uint64(j)*pageSize, pageSize); err != nil {
			t.Errorf("Iteration %d: Deallocate(page %d) failed: %v", i, j, err)
			break
		}
		nrFrees++
		if err := checkTracker(tr, uint64(nrFrees)*pageSize); err != nil {
			t.Errorf("Iteration %d: %v", i, err)
			break
		}
	}
	want := []Region{{0, testSize * pageSize}}
	if diff := cmp.Diff(want, tr.Regions()); diff != "" {
		t.Errorf("Regions() mismatch (-want +got):\n%s", diff)
	}
	if t.Failed() {
		t.Logf("Free order: %v", order[:nrFrees])
	}
}

func TestAllocateDeallocateInverse(t *testing.T) {
	base := []Region{{0, 0x100 * pageSize}, {0x200 * pageSize, 0x100 * pageSize}}
	tr := New(base)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		before := tr.Regions()
		start := uint64(rng.Intn(0x300)) * pageSize
		length := uint64(1+rng.Intn(0x40)) * pageSize
		if err := tr.Allocate(start, length); err != nil {
			if !errors.Is(err, ErrUnavailableRegion) {
				t.Fatalf("Iteration %d: Allocate(%#x, %#x) = %v", i, start, length, err)
			}
			if diff := cmp.Diff(before, tr.Regions()); diff != "" {
				t.Fatalf("Iteration %d: failed Allocate changed tracker (-want +got):\n%s", i, diff)
			}
			continue
		}
		if err := tr.Deallocate(start, length); err != nil {
			t.Fatalf("Iteration %d: Deallocate(%#x, %#x) = %v", i, start, length, err)
		}
		if diff := cmp.Diff(before, tr.Regions()); diff != "" {
			t.Fatalf("Iteration %d: allocate/deallocate not inverse (-want +got):\n%s", i, diff)
		}
	}
}

func TestRandomOperations(t *testing.T) {
	const pages = 512
	tr := New([]Region{{0, pages * pageSize}})
	allocated := make([]bool, pages)
	free := uint64(pages * pageSize)
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 5000; i++ {
		p := rng.Intn(pages)
		n := 1 + rng.Intn(8)
		if p+n > pages {
			n = pages - p
		}
		start, length := uint64(p)*pageSize, uint64(n)*pageSize

		allFree, allUsed := true, true
		for k := p; k < p+n; k++ {
			allFree = allFree && !allocated[k]
			allUsed = allUsed && allocated[k]
		}

		if rng.Intn(2) == 0 {
			err := tr.Allocate(start, length)
			if allFree != (err == nil) {
				t.Fatalf("Iteration %d: Allocate(%#x, %#x) = %v, range free = %v", i, start, length, err, allFree)
			}
			if err == nil {
				for k := p; k < p+n; k++ {
					allocated[k] = true
				}
				free -= length
			}
		} else {
			err := tr.Deallocate(start, length)
			if allUsed != (err == nil) {
				t.Fatalf("Iteration %d: Deallocate(%#x, %#x) = %v, range used = %v", i, start, length, err, allUsed)
			}
			if err == nil {
				for k := p; k < p+n; k++ {
					allocated[k] = false
				}
				free += length
			}
		}
		if err := checkTracker(tr, free); err != nil {
			t.Fatalf("Iteration %d: %v", i, err)
		}
	}
}
