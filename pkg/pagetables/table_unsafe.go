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
	"unsafe"
)

// entryPointer returns a pointer to entry index of table.
//
// Precondition: table is a loader address of memory outside the Go heap
// (mmap'd by the arena), so converting it to unsafe.Pointer is valid.
func entryPointer(table uintptr, index, size uint64) unsafe.Pointer {
	return unsafe.Pointer(table + uintptr(index*size))
}

// loadEntry reads the size-byte entry at index.
func loadEntry(table uintptr, index, size uint64) uint64 {
	p := entryPointer(table, index, size)
	if size == 4 {
		return uint64(*(*uint32)(p))
	}
	return *(*uint64)(p)
}

// storeEntry writes the size-byte entry at index.
func storeEntry(table uintptr, index, size, entry uint64) {
	p := entryPointer(table, index, size)
	if size == 4 {
		*(*uint32)(p) = uint32(entry)
		return
	}
	*(*uint64)(p) = entry
}

// zeroTable clears size bytes at virt. The same precondition as
// entryPointer applies.
func zeroTable(virt uintptr, size uint64) {
	clear(unsafe.Slice((*byte)(unsafe.Pointer(virt)), size))
}
