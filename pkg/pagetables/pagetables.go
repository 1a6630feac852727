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

// Package pagetables builds x86 page tables for a target address space.
//
// Tables are allocated from a pma.FrameAllocator and reached only through
// the loader's own address space, so the same code serves any placement of
// physical memory. One scheme exists per paging mode: Bits32, PAE, LongMode
// (4 or 5 levels), and Disabled for the identity mapping used when paging is
// off. The scheme is chosen from the capabilities of an x86.CPU.
//
// Address spaces are not thread-safe.
package pagetables

import (
	"tvm.dev/loader/pkg/pma"
	"tvm.dev/loader/pkg/vm"
	"tvm.dev/loader/pkg/x86"
)

// Backend holds the collaborators of an address space.
type Backend struct {
	// Frames supplies physical memory for tables.
	Frames pma.FrameAllocator

	// Loader is the address space tables are accessed through.
	Loader vm.LoaderAddressSpace

	// CPU is queried once, at construction, for supported and active
	// paging features.
	CPU x86.CPU
}

// AddressSpace is a target address space built by this package.
type AddressSpace interface {
	vm.AddressSpace

	// PhysicalAddress returns the value to load into CR3: the physical
	// address of the top table, or zero when paging is disabled.
	PhysicalAddress() uint64

	// PagingMode returns the paging mode the space is built for.
	PagingMode() x86.PagingMode
}

// Leaf is one present page found by Walk.
type Leaf struct {
	Virtual    uint64
	Physical   uint64
	Protection vm.Protection

	// Entry is the raw leaf entry.
	Entry uint64
}

type walker interface {
	walk(fn func(Leaf) bool)
}

// Walk calls fn for every present leaf of as, in ascending order of table
// position, until fn returns false. Leaves left behind by Unmap are
// included.
//
// Disabled spaces have no leaves.
func Walk(as AddressSpace, fn func(Leaf) bool) {
	if w, ok := as.(walker); ok {
		w.walk(fn)
	}
}
