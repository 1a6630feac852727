// Copyright 2021 The gVisor Authors.
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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func checkBitmap(t *testing.T, b *Bitmap, want []uint32) {
	t.Helper()
	got := b.ToSlice()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bitmap contents mismatch (-want +got):\n%s", diff)
	}
	if n := b.GetNumOnes(); n != uint32(len(want)) {
		t.Errorf("GetNumOnes() = %d, want %d", n, len(want))
	}
}

func TestAddRemove(t *testing.T) {
	b := New(200)
	for _, i := range []uint32{0, 63, 64, 199} {
		b.Add(i)
	}
	b.Add(64)
	checkBitmap(t, &b, []uint32{0, 63, 64, 199})
	if !b.IsSet(199) || b.IsSet(198) {
		t.Errorf("IsSet mismatch")
	}

	b.Remove(63)
	b.Remove(63)
	checkBitmap(t, &b, []uint32{0, 64, 199})
}

func TestSetClearRange(t *testing.T) {
	for _, tc := range []struct {
		name       string
		begin, end uint32
	}{
		{"single block", 3, 9},
		{"block boundary", 60, 68},
		{"many blocks", 10, 190},
		{"whole", 0, 200},
		{"empty", 5, 5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := New(200)
			b.SetRange(tc.begin, tc.end)
			want := []uint32{}
			for i := tc.begin; i < tc.end; i++ {
				want = append(want, i)
			}
			checkBitmap(t, &b, want)

			b.ClearRange(tc.begin, tc.end)
			checkBitmap(t, &b, []uint32{})
		})
	}
}

func TestOverlappingRanges(t *testing.T) {
	b := New(128)
	b.SetRange(0, 70)
	b.SetRange(64, 100)
	if n := b.GetNumOnes(); n != 100 {
		t.Errorf("GetNumOnes() = %d, want 100", n)
	}
	b.ClearRange(50, 80)
	if n := b.GetNumOnes(); n != 70 {
		t.Errorf("GetNumOnes() = %d, want 70", n)
	}
	if !b.IsRangeClear(50, 80) {
		t.Errorf("IsRangeClear(50, 80) = false")
	}
	if b.IsRangeClear(49, 51) {
		t.Errorf("IsRangeClear(49, 51) = true")
	}
}

func TestFirstZeroFirstOne(t *testing.T) {
	b := New(130)
	b.SetRange(0, 129)

	if z, err := b.FirstZero(0); err != nil || z != 129 {
		t.Errorf("FirstZero(0) = %d, %v; want 129", z, err)
	}
	b.Add(129)
	if _, err := b.FirstZero(0); err == nil {
		t.Errorf("FirstZero on full bitmap succeeded")
	}

	b.ClearRange(0, 130)
	b.Add(77)
	if o, err := b.FirstOne(10); err != nil || o != 77 {
		t.Errorf("FirstOne(10) = %d, %v; want 77", o, err)
	}
	if _, err := b.FirstOne(78); err == nil {
		t.Errorf("FirstOne(78) succeeded")
	}
	if _, err := b.FirstOne(130); err == nil {
		t.Errorf("FirstOne past size succeeded")
	}
}

func TestOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("SetRange beyond size did not panic")
		}
	}()
	b := New(10)
	b.SetRange(5, 11)
}
