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

package pagetables

import (
	"encoding/binary"
	"testing"

	"tvm.dev/loader/pkg/pma"
	"tvm.dev/loader/pkg/vm"
	"tvm.dev/loader/pkg/x86"
)

// readEntry reads an entry straight out of arena memory.
func readEntry(t *testing.T, arena *pma.Arena, table, index, size uint64) uint64 {
	t.Helper()
	b, err := arena.Bytes(table+index*size, size)
	if err != nil {
		t.Fatalf("reading entry %d of table %#x: %v", index, table, err)
	}
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

// followPath walks the tables for indices and returns the final entry,
// checking the flags of every link along the way.
func followPath(t *testing.T, arena *pma.Arena, root uint64, size, mask uint64, indices []uint64, links []uint64) uint64 {
	t.Helper()
	table := root
	for i, index := range indices {
		entry := readEntry(t, arena, table, index, size)
		if i == len(indices)-1 {
			return entry
		}
		if got := entry &^ mask; got != links[i] {
			t.Errorf("level %d entry %d flags = %#x, want %#x", i, index, got, links[i])
		}
		table = entry & mask
	}
	return 0
}

func TestBits32Layout(t *testing.T) {
	env := newTestEnv(t, fullCPU())
	as, err := NewBits32(env.backend)
	if err != nil {
		t.Fatalf("NewBits32 failed: %v", err)
	}
	// Directory index 0x3ff exercises the full 10-bit index.
	if err := as.Map(0xffc0_0000, 0xabc0_0000, 1, vm.ReadWrite); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if err := as.Map(0x40000, 0x100000, 1, vm.Read); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	root := as.PhysicalAddress()
	if root >= 1<<32 || root%pageSize != 0 {
		t.Errorf("directory at %#x, want page aligned below 4GiB", root)
	}
	link := uint64(entryWritable | entryPresent)
	if got := followPath(t, env.arena, root, 4, addrMask32, []uint64{0x3ff, 0}, []uint64{link}); got != 0xabc0_0003 {
		t.Errorf("leaf for 0xffc00000 = %#x, want 0xabc00003", got)
	}
	if got := followPath(t, env.arena, root, 4, addrMask32, []uint64{0, 0x40}, []uint64{link}); got != 0x100001 {
		t.Errorf("leaf for 0x40000 = %#x, want 0x100001", got)
	}
	if got, err := as.TranslateVirt(0xffc0_0abc); err != nil || got != 0xabc0_0abc {
		t.Errorf("TranslateVirt = %#x, %v; want 0xabc00abc", got, err)
	}
}

func TestPAELayout(t *testing.T) {
	env := newTestEnv(t, fullCPU())
	as, err := NewPAE(env.backend, true)
	if err != nil {
		t.Fatalf("NewPAE failed: %v", err)
	}
	// 0xc0201000: pointer index 3, directory index 1, table index 1.
	if err := as.Map(0xc020_1000, 0x12_3456_7000, 1, vm.ReadWrite); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	root := as.PhysicalAddress()
	if root >= 1<<32 || root%32 != 0 {
		t.Errorf("pointer table at %#x, want 32-byte aligned below 4GiB", root)
	}
	links := []uint64{entryPresent, entryWritable | entryPresent}
	got := followPath(t, env.arena, root, 8, addrMask64, []uint64{3, 1, 1}, links)
	if want := uint64(0x12_3456_7000 | entryPresent | entryWritable | entryNoExecute); got != want {
		t.Errorf("leaf = %#x, want %#x", got, want)
	}
	for i := uint64(0); i < 3; i++ {
		if e := readEntry(t, env.arena, root, i, 8); e != 0 {
			t.Errorf("pointer entry %d = %#x, want 0", i, e)
		}
	}
}

func TestLongModeLayout(t *testing.T) {
	for _, tc := range []struct {
		mode    x86.PagingMode
		virt    uint64
		indices []uint64
	}{
		// 0x0000_7f80_4020_1000: 0xff, 0x1, 0x1, 0x1.
		{x86.Level4, 0x0000_7f80_4020_1000, []uint64{0xff, 0x1, 0x1, 0x1}},
		{x86.Level4, 0xffff_ffff_ffff_f000, []uint64{0x1ff, 0x1ff, 0x1ff, 0x1ff}},
		// 0x0080_4020_1000_0000 at 5 levels: 0x80, 0x80, 0x80, 0x80, 0.
		{x86.Level5, 0x0080_4020_1000_0000, []uint64{0x80, 0x80, 0x80, 0x80, 0}},
		{x86.Level5, 0xff00_0000_0000_0000, []uint64{0x100, 0, 0, 0, 0}},
	} {
		t.Run(tc.mode.String(), func(t *testing.T) {
			env := newTestEnv(t, fullCPU())
			as, err := New(env.backend, tc.mode, Options{NXE: true})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if err := as.Map(tc.virt, 0xf_0000_0000_0000, 1, vm.ReadExecute); err != nil {
				t.Fatalf("Map(%#x) failed: %v", tc.virt, err)
			}
			links := make([]uint64, len(tc.indices)-1)
			for i := range links {
				links[i] = entryWritable | entryPresent
			}
			got := followPath(t, env.arena, as.PhysicalAddress(), 8, addrMask64, tc.indices, links)
			if want := uint64(0xf_0000_0000_0000 | entryPresent); got != want {
				t.Errorf("leaf = %#x, want %#x", got, want)
			}
		})
	}
}

func TestNewTable(t *testing.T) {
	env := newTestEnv(t, fullCPU())

	// Dirty a frame so that reuse must zero it.
	phys, err := env.arena.Allocate(pma.AllocateAny(), 1, 0)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	b, _ := env.arena.Bytes(phys, pageSize)
	for i := range b {
		b[i] = 0xff
	}
	env.arena.Deallocate(phys, 1)

	table, err := newTable(env.backend, 32, 32, pma.AllocateBelow(1<<32))
	if err != nil {
		t.Fatalf("newTable failed: %v", err)
	}
	if table != phys {
		t.Fatalf("newTable = %#x, want reused frame %#x", table, phys)
	}
	b, _ = env.arena.Bytes(table, 32)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, v)
		}
	}
	if got := env.loader.Active(); got != 0 {
		t.Errorf("loader has %d mappings left, want 0", got)
	}
}
