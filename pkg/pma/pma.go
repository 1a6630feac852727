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

// Package pma provides physical memory: the frame allocator contract used by
// page table construction, and Arena, a simulated machine memory backed by an
// anonymous host mapping.
package pma

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory is returned when no frames satisfy an allocation.
var ErrOutOfMemory = errors.New("frame allocation failed")

type allocationKind int

const (
	kindAny allocationKind = iota
	kindBelow
	kindAt
)

// AllocationType constrains where frames may be placed.
type AllocationType struct {
	kind allocationKind
	addr uint64
}

// AllocateAny places frames anywhere.
func AllocateAny() AllocationType {
	return AllocationType{kind: kindAny}
}

// AllocateBelow places frames so that they end at or below limit.
func AllocateBelow(limit uint64) AllocationType {
	return AllocationType{kind: kindBelow, addr: limit}
}

// AllocateAt places frames exactly at addr.
func AllocateAt(addr uint64) AllocationType {
	return AllocationType{kind: kindAt, addr: addr}
}

// Limit returns the ceiling of a Below allocation, and false for other kinds.
func (t AllocationType) Limit() (uint64, bool) {
	return t.addr, t.kind == kindBelow
}

// Address returns the target of an At allocation, and false for other kinds.
func (t AllocationType) Address() (uint64, bool) {
	return t.addr, t.kind == kindAt
}

// String implements fmt.Stringer.String.
func (t AllocationType) String() string {
	switch t.kind {
	case kindBelow:
		return fmt.Sprintf("below %#x", t.addr)
	case kindAt:
		return fmt.Sprintf("at %#x", t.addr)
	default:
		return "any"
	}
}

// FrameAllocator supplies physical frames.
type FrameAllocator interface {
	// Allocate returns the physical address of count contiguous frames
	// aligned to alignment and placed according to typ, or
	// ErrOutOfMemory.
	Allocate(typ AllocationType, count, alignment uint64) (uint64, error)

	// Deallocate returns count frames starting at phys.
	Deallocate(phys, count uint64)

	// FrameSize returns the size of a frame in bytes.
	FrameSize() uint64
}
