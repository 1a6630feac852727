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

package pma

import (
	"fmt"

	"tvm.dev/loader/pkg/vm"
)

// LoaderView is the loader's own address space over an Arena. The arena is
// direct mapped, so Map only records the mapping and returns the host address
// of the frames.
//
// LoaderView implements vm.LoaderAddressSpace.
type LoaderView struct {
	arena *Arena

	// mappings maps the address returned by Map to its page count.
	mappings map[uintptr]uint64
}

// PageSize implements vm.LoaderAddressSpace.PageSize.
func (l *LoaderView) PageSize() uint64 {
	return FrameSize
}

// Map implements vm.LoaderAddressSpace.Map.
func (l *LoaderView) Map(phys, count uint64, prot vm.Protection) (uintptr, error) {
	if !prot.Any() {
		return 0, fmt.Errorf("loader map of %#x with no access", phys)
	}
	if _, _, ok := l.arena.frameRange(phys, count); !ok {
		return 0, fmt.Errorf("loader map of [%#x, +%d pages) outside arena", phys, count)
	}
	virt := l.arena.hostAddress(phys)
	if _, ok := l.mappings[virt]; ok {
		return 0, fmt.Errorf("loader map of %#x already active", phys)
	}
	l.mappings[virt] = count
	return virt, nil
}

// Unmap implements vm.LoaderAddressSpace.Unmap.
func (l *LoaderView) Unmap(virt uintptr, count uint64) error {
	n, ok := l.mappings[virt]
	if !ok || n != count {
		return fmt.Errorf("loader unmap of %#x (%d pages): %w", virt, count, vm.ErrNotMapped)
	}
	delete(l.mappings, virt)
	return nil
}

// TranslatePhys implements vm.LoaderAddressSpace.TranslatePhys.
func (l *LoaderView) TranslatePhys(phys uint64) (uintptr, error) {
	if _, err := l.arena.Bytes(phys, 1); err != nil {
		return 0, fmt.Errorf("%w: %v", vm.ErrNoMapping, err)
	}
	return l.arena.hostAddress(phys), nil
}

// TranslateVirt implements vm.LoaderAddressSpace.TranslateVirt.
func (l *LoaderView) TranslateVirt(virt uintptr) (uint64, error) {
	start := l.arena.hostAddress(l.arena.base)
	if virt < start || uint64(virt-start) >= l.arena.Size() {
		return 0, vm.ErrNoMapping
	}
	return l.arena.base + uint64(virt-start), nil
}

// Active returns the number of mappings created by Map and not yet unmapped.
func (l *LoaderView) Active() int {
	return len(l.mappings)
}
