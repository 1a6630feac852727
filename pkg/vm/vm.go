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

// Package vm defines the contract shared by virtual address spaces: the
// protection flags, the error taxonomy and the AddressSpace interface, plus
// the view of the loader's own address space that table construction needs.
package vm

// AddressSpace is a virtual address space that can be populated with page
// mappings.
//
// Implementations are single-threaded; callers serialize access.
type AddressSpace interface {
	// Map maps count pages starting at virt to the physical frames starting
	// at phys, with the given protection.
	//
	// On failure nothing is mapped and a MapError is returned (possibly
	// wrapped).
	Map(virt, phys, count uint64, prot Protection) error

	// Unmap releases count pages starting at virt. It returns ErrNotMapped
	// if the range is invalid or not entirely mapped.
	Unmap(virt, count uint64) error

	// TranslateVirt returns the physical address virt maps to, or
	// ErrNoMapping.
	TranslateVirt(virt uint64) (uint64, error)

	// PageSize returns the size of a page in bytes.
	PageSize() uint64

	// MaxAddress returns the largest virtual address the space can contain.
	MaxAddress() uint64
}

// LoaderAddressSpace is the address space the loader itself runs in. Page
// tables are only ever touched through mappings obtained here.
type LoaderAddressSpace interface {
	// Map maps count pages of physical memory starting at phys into the
	// loader and returns the virtual address of the mapping.
	Map(phys, count uint64, prot Protection) (uintptr, error)

	// Unmap removes a mapping created by Map.
	Unmap(virt uintptr, count uint64) error

	// TranslatePhys returns a loader virtual address through which phys is
	// accessible, without creating a new mapping.
	TranslatePhys(phys uint64) (uintptr, error)

	// TranslateVirt returns the physical address backing the loader
	// address virt.
	TranslateVirt(virt uintptr) (uint64, error)

	// PageSize returns the loader's page size.
	PageSize() uint64
}
