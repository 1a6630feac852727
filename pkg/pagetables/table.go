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

	"tvm.dev/loader/pkg/bits"
	"tvm.dev/loader/pkg/cleanup"
	"tvm.dev/loader/pkg/log"
	"tvm.dev/loader/pkg/pma"
	"tvm.dev/loader/pkg/vm"
)

// newTable allocates a zeroed table of size bytes and returns its physical
// address. Either the table is fully materialized or nothing is left
// allocated.
//
// The table is zeroed through a transient loader mapping that is removed
// before returning; later accesses go through Loader.TranslatePhys. If that
// mapping cannot be removed the frames are leaked, never freed.
func newTable(b Backend, size, alignment uint64, allocation pma.AllocationType) (uint64, error) {
	frames := bits.DivRoundUp(size, b.Frames.FrameSize())
	phys, err := b.Frames.Allocate(allocation, frames, alignment)
	if err != nil {
		return 0, fmt.Errorf("%w: %d frames %v: %w", vm.ErrAllocation, frames, allocation, err)
	}
	cu := cleanup.Make(func() { b.Frames.Deallocate(phys, frames) })
	defer cu.Clean()

	pages := bits.DivRoundUp(size, b.Loader.PageSize())
	virt, err := b.Loader.Map(phys, pages, vm.ReadWrite)
	if err != nil {
		return 0, fmt.Errorf("%w: loader map of table %#x: %w", vm.ErrGeneral, phys, err)
	}
	zeroTable(virt, size)
	if err := b.Loader.Unmap(virt, pages); err != nil {
		// The mapping may still reference the frames, so they stay
		// allocated rather than being handed out again.
		cu.Release()
		log.Warningf("Leaking %d table frames at %#x: loader unmap failed: %v", frames, phys, err)
		return 0, fmt.Errorf("%w: loader unmap of table %#x: %w", vm.ErrGeneral, phys, err)
	}

	cu.Release()
	log.Debugf("Table materialized: %#x bytes at physical %#x", size, phys)
	return phys, nil
}
