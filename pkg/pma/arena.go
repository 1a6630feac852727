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
	"math"
	"time"

	"golang.org/x/sys/unix"
	"tvm.dev/loader/pkg/bitmap"
	"tvm.dev/loader/pkg/bits"
	"tvm.dev/loader/pkg/log"
)

// FrameSize is the size of an Arena frame.
const FrameSize = 0x1000

// oomLogInterval bounds how often exhaustion is reported.
const oomLogInterval = time.Second

// Arena is simulated physical memory: size bytes starting at physical address
// base, backed by an anonymous host mapping so that the memory never moves.
//
// Arena implements FrameAllocator. Arena is not thread-safe.
type Arena struct {
	base   uint64
	mem    []byte
	frames bitmap.Bitmap
	oomLog log.Logger

	// loader is the direct-map view of this arena.
	loader LoaderView
}

// NewArena maps size bytes of memory at physical address base. Both must be
// frame aligned.
func NewArena(base, size uint64) (*Arena, error) {
	if !bits.IsAligned(base, FrameSize) || !bits.IsAligned(size, FrameSize) || size == 0 {
		return nil, fmt.Errorf("arena base %#x size %#x not frame aligned", base, size)
	}
	if _, ok := bits.LastAddress(base, size); !ok {
		return nil, fmt.Errorf("arena base %#x size %#x passes 2^64", base, size)
	}
	nframes := size / FrameSize
	if nframes > uint64(bitmap.MaxBitEntryLimit) || size > math.MaxInt {
		return nil, fmt.Errorf("arena size %#x too large", size)
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mapping arena of %#x bytes: %w", size, err)
	}
	a := &Arena{
		base:   base,
		mem:    mem,
		frames: bitmap.New(uint32(nframes)),
		oomLog: log.BasicRateLimitedLogger(oomLogInterval),
	}
	a.loader.arena = a
	a.loader.mappings = make(map[uintptr]uint64)
	log.Debugf("Arena mapped: physical [%#x, %#x)", base, base+size)
	return a, nil
}

// Release unmaps the arena. The arena must not be used afterwards.
func (a *Arena) Release() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}

// Base returns the physical address of the first frame.
func (a *Arena) Base() uint64 {
	return a.base
}

// Size returns the size of the arena in bytes.
func (a *Arena) Size() uint64 {
	return uint64(len(a.mem))
}

// FrameSize implements FrameAllocator.FrameSize.
func (a *Arena) FrameSize() uint64 {
	return FrameSize
}

// UsedFrames returns the number of allocated frames.
func (a *Arena) UsedFrames() uint64 {
	return uint64(a.frames.GetNumOnes())
}

// Loader returns the loader's view of this arena.
func (a *Arena) Loader() *LoaderView {
	return &a.loader
}

// frameRange converts [phys, phys+count*FrameSize) to frame indices, and
// false if any part lies outside the arena.
func (a *Arena) frameRange(phys, count uint64) (uint32, uint32, bool) {
	if count == 0 || phys < a.base || !bits.IsAligned(phys, FrameSize) {
		return 0, 0, false
	}
	first := (phys - a.base) / FrameSize
	end, ok := bits.CheckedAdd(first, count)
	if !ok || end > uint64(a.frames.Size()) {
		return 0, 0, false
	}
	return uint32(first), uint32(end), true
}

// Allocate implements FrameAllocator.Allocate.
//
// An alignment smaller than a frame is treated as frame alignment.
func (a *Arena) Allocate(typ AllocationType, count, alignment uint64) (uint64, error) {
	if count == 0 {
		return 0, fmt.Errorf("allocating zero frames: %w", ErrOutOfMemory)
	}
	if alignment < FrameSize {
		alignment = FrameSize
	}
	if !bits.IsPowerOfTwo(alignment) {
		return 0, fmt.Errorf("alignment %#x is not a power of two", alignment)
	}

	phys, ok := a.find(typ, count, alignment)
	if !ok {
		a.oomLog.Warningf("Out of frames: %d frames aligned to %#x %v (%d of %d in use)", count, alignment, typ, a.UsedFrames(), a.frames.Size())
		return 0, ErrOutOfMemory
	}
	first, end, _ := a.frameRange(phys, count)
	a.frames.SetRange(first, end)
	return phys, nil
}

// find locates count free frames satisfying typ and alignment.
func (a *Arena) find(typ AllocationType, count, alignment uint64) (uint64, bool) {
	fits := func(phys uint64) bool {
		if !bits.IsAligned(phys, alignment) {
			return false
		}
		first, end, ok := a.frameRange(phys, count)
		if !ok || !a.frames.IsRangeClear(first, end) {
			return false
		}
		if limit, ok := typ.Limit(); ok {
			last, _ := bits.LastAddress(phys, count*FrameSize)
			return last < limit
		}
		return true
	}

	if addr, ok := typ.Address(); ok {
		return addr, fits(addr)
	}

	next := uint32(0)
	for next < a.frames.Size() {
		free, err := a.frames.FirstZero(next)
		if err != nil {
			return 0, false
		}
		phys, ok := bits.AlignUp(a.base+uint64(free)*FrameSize, alignment)
		if !ok || phys < a.base {
			return 0, false
		}
		if limit, ok := typ.Limit(); ok && phys >= limit {
			// Candidates only grow from here.
			return 0, false
		}
		if fits(phys) {
			return phys, true
		}
		first, end, ok := a.frameRange(phys, count)
		if !ok {
			return 0, false
		}
		used, err := a.frames.FirstOne(first)
		if err != nil || used >= end {
			// The range was clear, so it failed the limit.
			return 0, false
		}
		next = used + 1
	}
	return 0, false
}

// Deallocate implements FrameAllocator.Deallocate.
//
// Freeing frames that are not allocated is a fatal error.
func (a *Arena) Deallocate(phys, count uint64) {
	first, end, ok := a.frameRange(phys, count)
	if !ok {
		panic(fmt.Sprintf("deallocating frames [%#x, +%d) outside arena", phys, count))
	}
	for i := first; i < end; i++ {
		if !a.frames.IsSet(i) {
			panic(fmt.Sprintf("deallocating free frame %#x", a.base+uint64(i)*FrameSize))
		}
	}
	a.frames.ClearRange(first, end)
}

// Bytes returns the arena memory backing [phys, phys+length).
func (a *Arena) Bytes(phys, length uint64) ([]byte, error) {
	last, ok := bits.LastAddress(phys, length)
	if length == 0 || !ok || phys < a.base || last >= a.base+uint64(len(a.mem)) {
		return nil, fmt.Errorf("physical range [%#x, +%#x) outside arena", phys, length)
	}
	off := phys - a.base
	return a.mem[off : off+length : off+length], nil
}
