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
	"fmt"
	"math"

	"tvm.dev/loader/pkg/bits"
	"tvm.dev/loader/pkg/freeregion"
	"tvm.dev/loader/pkg/pma"
	"tvm.dev/loader/pkg/vm"
	"tvm.dev/loader/pkg/x86"
)

// Entry bits shared by every scheme.
const (
	entryPresent   = 1 << 0
	entryWritable  = 1 << 1
	entryNoExecute = 1 << 63
)

// Address fields of 32-bit and 64-bit entries.
const (
	addrMask32 = ((1 << 20) - 1) << 12
	addrMask64 = ((1 << 40) - 1) << 12
)

const (
	pageSize = x86.PageSize
	pageMask = pageSize - 1

	// below4GB constrains tables that must be reachable from 32-bit
	// control registers or entries.
	below4GB = 1 << 32
)

// level describes the tables at one depth of a radix tree, top first.
type level struct {
	// shift is the position of this level's index in a virtual address.
	shift uint

	// entries is the number of entries per table.
	entries uint64

	// size and alignment are the table's dimensions in bytes.
	size      uint64
	alignment uint64

	// allocation places the table's frames.
	allocation pma.AllocationType

	// link is the set of flags written next to a child table's address.
	link uint64
}

func (l *level) index(virt uint64) uint64 {
	return (virt >> l.shift) & (l.entries - 1)
}

// format is the static description of a scheme's tables.
type format struct {
	mode   x86.PagingMode
	levels []level

	// entrySize is 4 or 8.
	entrySize uint64

	addrMask uint64

	// physLimit is the exclusive ceiling of mappable physical memory.
	physLimit uint64

	maxAddress uint64

	// hole is the non-canonical range, if any.
	hole *freeregion.Region

	// signBit is the highest implemented virtual address bit, copied
	// into the bits above it. Zero if addresses are not sign extended.
	signBit uint
}

// leaf returns the deepest level.
func (f *format) leaf() *level {
	return &f.levels[len(f.levels)-1]
}

// inHole returns whether [first, last] intersects the non-canonical range.
func (f *format) inHole(first, last uint64) bool {
	return f.hole != nil && first <= f.hole.Last() && last >= f.hole.Start
}

// canonical sign extends a virtual address rebuilt from table indices.
func (f *format) canonical(virt uint64) uint64 {
	if f.signBit == 0 || !bits.IsOn(virt, 1<<f.signBit) {
		return virt
	}
	return virt | (math.MaxUint64 << f.signBit)
}

// radix is an address space backed by a radix tree of tables in physical
// memory. Tables are only ever reached through the loader.
type radix struct {
	backend Backend
	format  *format

	// root is the physical address of the top table.
	root uint64

	// nxe is whether leaves carry the no-execute bit.
	nxe bool

	// free is the set of unreserved virtual ranges.
	free *freeregion.Tracker
}

// newRadix allocates the top table and builds the free set.
func newRadix(b Backend, f *format, nxe bool, base []freeregion.Region) (radix, error) {
	top := &f.levels[0]
	root, err := newTable(b, top.size, top.alignment, top.allocation)
	if err != nil {
		return radix{}, fmt.Errorf("allocating %v top table: %w", f.mode, err)
	}
	return radix{
		backend: b,
		format:  f,
		root:    root,
		nxe:     nxe,
		free:    freeregion.New(base),
	}, nil
}

// table returns the loader address of the table at phys.
func (r *radix) table(phys uint64) uintptr {
	virt, err := r.backend.Loader.TranslatePhys(phys)
	if err != nil {
		panic(fmt.Sprintf("%v table %#x unreachable from loader: %v", r.format.mode, phys, err))
	}
	return virt
}

func (r *radix) load(table uintptr, index uint64) uint64 {
	return loadEntry(table, index, r.format.entrySize)
}

func (r *radix) store(table uintptr, index, entry uint64) {
	storeEntry(table, index, r.format.entrySize, entry)
}

// leafEntry encodes a leaf for phys with the given protection.
func (r *radix) leafEntry(phys uint64, prot vm.Protection) uint64 {
	entry := phys & r.format.addrMask
	if r.nxe {
		entry |= entryNoExecute
	}
	if prot.Contains(vm.Read) {
		entry |= entryPresent
	}
	if prot.Contains(vm.Write) {
		entry |= entryPresent | entryWritable
	}
	if prot.Contains(vm.Execute) {
		entry |= entryPresent
		entry &^= entryNoExecute
	}
	return entry
}

// leafProtection decodes the protection of a present leaf.
func (r *radix) leafProtection(entry uint64) vm.Protection {
	prot := vm.Read
	if bits.IsOn(entry, entryWritable) {
		prot |= vm.Write
	}
	if !r.nxe || !bits.IsOn(entry, entryNoExecute) {
		prot |= vm.Execute
	}
	return prot
}

// walkTo returns the leaf table covering virt and the index of virt's entry
// within it. Missing tables are materialized if alloc is set; otherwise ok is
// false when one is absent.
func (r *radix) walkTo(virt uint64, alloc bool) (table uintptr, index uint64, ok bool, err error) {
	phys := r.root
	levels := r.format.levels
	for i := range levels[:len(levels)-1] {
		l := &levels[i]
		table = r.table(phys)
		index = l.index(virt)
		entry := r.load(table, index)
		if !bits.IsOn(entry, entryPresent) {
			if !alloc {
				return 0, 0, false, nil
			}
			child := &levels[i+1]
			next, err := newTable(r.backend, child.size, child.alignment, child.allocation)
			if err != nil {
				return 0, 0, false, err
			}
			entry = (next & r.format.addrMask) | l.link
			r.store(table, index, entry)
		}
		phys = entry & r.format.addrMask
	}
	return r.table(phys), r.format.leaf().index(virt), true, nil
}

// checkVirtual validates the virtual range [virt, virt+count pages) against
// the scheme's bounds and returns its length and last address.
func (r *radix) checkVirtual(virt, count uint64) (length, last uint64, err error) {
	if !bits.IsAligned(virt, pageSize) {
		return 0, 0, vm.ErrAlignment
	}
	length, ok := bits.CheckedMul(count, pageSize)
	if !ok || count == 0 {
		return 0, 0, vm.ErrInvalidSize
	}
	last, ok = bits.LastAddress(virt, length)
	if !ok {
		return 0, 0, vm.ErrAddressOverflow
	}
	if last > r.format.maxAddress || r.format.inHole(virt, last) {
		return 0, 0, vm.ErrInvalidAddress
	}
	return length, last, nil
}

// Map implements vm.AddressSpace.Map.
func (r *radix) Map(virt, phys, count uint64, prot vm.Protection) error {
	if !bits.IsAligned(virt, pageSize) || !bits.IsAligned(phys, pageSize) {
		return vm.ErrAlignment
	}
	length, ok := bits.CheckedMul(count, pageSize)
	if !ok || count == 0 {
		return vm.ErrInvalidSize
	}
	if physLast, ok := bits.LastAddress(phys, length); !ok || physLast >= r.format.physLimit {
		return vm.ErrAddressOverflow
	}
	if _, _, err := r.checkVirtual(virt, count); err != nil {
		return err
	}
	if err := r.free.Allocate(virt, length); err != nil {
		return fmt.Errorf("%w: %w", vm.ErrAlreadyMapped, err)
	}

	for i := uint64(0); i < count; i++ {
		offset := i * pageSize
		table, index, _, err := r.walkTo(virt+offset, true)
		if err != nil {
			r.rollback(virt, i)
			if err := r.free.Deallocate(virt, length); err != nil {
				panic(fmt.Sprintf("releasing reservation [%#x, +%#x): %v", virt, length, err))
			}
			return fmt.Errorf("mapping page %#x: %w", virt+offset, err)
		}
		r.store(table, index, r.leafEntry(phys+offset, prot))
	}
	return nil
}

// rollback clears the first count leaves starting at virt.
func (r *radix) rollback(virt, count uint64) {
	for i := uint64(0); i < count; i++ {
		table, index, ok, _ := r.walkTo(virt+i*pageSize, false)
		if ok {
			r.store(table, index, 0)
		}
	}
}

// Unmap implements vm.AddressSpace.Unmap.
//
// The range is returned to the free set; its leaves are left in place until
// the range is mapped again.
func (r *radix) Unmap(virt, count uint64) error {
	length, _, err := r.checkVirtual(virt, count)
	if err != nil {
		return fmt.Errorf("%w: %w", vm.ErrNotMapped, err)
	}
	if err := r.free.Deallocate(virt, length); err != nil {
		return fmt.Errorf("%w: %w", vm.ErrNotMapped, err)
	}
	return nil
}

// TranslateVirt implements vm.AddressSpace.TranslateVirt.
func (r *radix) TranslateVirt(virt uint64) (uint64, error) {
	if virt > r.format.maxAddress || r.format.inHole(virt, virt) {
		return 0, vm.ErrNoMapping
	}
	table, index, ok, _ := r.walkTo(virt, false)
	if !ok {
		return 0, vm.ErrNoMapping
	}
	entry := r.load(table, index)
	if !bits.IsOn(entry, entryPresent) {
		return 0, vm.ErrNoMapping
	}
	return (entry & r.format.addrMask) + (virt & pageMask), nil
}

// PageSize implements vm.AddressSpace.PageSize.
func (r *radix) PageSize() uint64 {
	return pageSize
}

// MaxAddress implements vm.AddressSpace.MaxAddress.
func (r *radix) MaxAddress() uint64 {
	return r.format.maxAddress
}

// PhysicalAddress returns the physical address of the top table.
func (r *radix) PhysicalAddress() uint64 {
	return r.root
}

// PagingMode returns the paging mode the tables are built for.
func (r *radix) PagingMode() x86.PagingMode {
	return r.format.mode
}

// FreeRegions returns the virtual ranges not reserved by Map.
func (r *radix) FreeRegions() []freeregion.Region {
	return r.free.Regions()
}

// walk calls fn for every present leaf in ascending table order.
func (r *radix) walk(fn func(Leaf) bool) {
	r.walkTable(r.root, 0, 0, fn)
}

func (r *radix) walkTable(phys uint64, depth int, prefix uint64, fn func(Leaf) bool) bool {
	l := &r.format.levels[depth]
	table := r.table(phys)
	last := depth == len(r.format.levels)-1
	for i := uint64(0); i < l.entries; i++ {
		entry := r.load(table, i)
		if !bits.IsOn(entry, entryPresent) {
			continue
		}
		virt := prefix | i<<l.shift
		if !last {
			if !r.walkTable(entry&r.format.addrMask, depth+1, virt, fn) {
				return false
			}
			continue
		}
		leaf := Leaf{
			Virtual:    r.format.canonical(virt),
			Physical:   entry & r.format.addrMask,
			Protection: r.leafProtection(entry),
			Entry:      entry,
		}
		if !fn(leaf) {
			return false
		}
	}
	return true
}
