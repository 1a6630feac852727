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
	"math"

	"tvm.dev/loader/pkg/bits"
	"tvm.dev/loader/pkg/vm"
	"tvm.dev/loader/pkg/x86"
)

// Disabled is the address space of a CPU with paging turned off: virtual
// addresses below 4GiB are physical addresses. It has no tables and keeps no
// state.
type Disabled struct{}

// NewDisabled returns the identity address space.
func NewDisabled() *Disabled {
	return &Disabled{}
}

func (*Disabled) check(virt, count uint64) error {
	if !bits.IsAligned(virt, pageSize) {
		return vm.ErrAlignment
	}
	length, ok := bits.CheckedMul(count, pageSize)
	if !ok || count == 0 {
		return vm.ErrInvalidSize
	}
	if last, ok := bits.LastAddress(virt, length); !ok || last > math.MaxUint32 {
		return vm.ErrInvalidAddress
	}
	return nil
}

// Map implements vm.AddressSpace.Map. Only identity mappings are possible.
func (d *Disabled) Map(virt, phys, count uint64, _ vm.Protection) error {
	if !bits.IsAligned(phys, pageSize) {
		return vm.ErrAlignment
	}
	if err := d.check(virt, count); err != nil {
		return err
	}
	if phys != virt {
		return vm.ErrInvalidAddress
	}
	return nil
}

// Unmap implements vm.AddressSpace.Unmap.
func (d *Disabled) Unmap(virt, count uint64) error {
	if err := d.check(virt, count); err != nil {
		return vm.ErrNotMapped
	}
	return nil
}

// TranslateVirt implements vm.AddressSpace.TranslateVirt.
func (*Disabled) TranslateVirt(virt uint64) (uint64, error) {
	if virt > math.MaxUint32 {
		return 0, vm.ErrNoMapping
	}
	return virt, nil
}

// PageSize implements vm.AddressSpace.PageSize.
func (*Disabled) PageSize() uint64 {
	return pageSize
}

// MaxAddress implements vm.AddressSpace.MaxAddress.
func (*Disabled) MaxAddress() uint64 {
	return math.MaxUint32
}

// PhysicalAddress implements AddressSpace.PhysicalAddress.
func (*Disabled) PhysicalAddress() uint64 {
	return 0
}

// PagingMode implements AddressSpace.PagingMode.
func (*Disabled) PagingMode() x86.PagingMode {
	return x86.Disabled
}
