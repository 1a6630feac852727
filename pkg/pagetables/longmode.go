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
	"errors"
	"math"

	"tvm.dev/loader/pkg/cpuid"
	"tvm.dev/loader/pkg/freeregion"
	"tvm.dev/loader/pkg/log"
	"tvm.dev/loader/pkg/pma"
	"tvm.dev/loader/pkg/x86"
)

// Canonical address bounds.
const (
	lowerTop4    = 0x0000_7fff_ffff_ffff
	upperBottom4 = 0xffff_8000_0000_0000
	lowerTop5    = 0x00ff_ffff_ffff_ffff
	upperBottom5 = 0xff00_0000_0000_0000
)

func longModeLevel(shift uint) level {
	return level{
		shift:      shift,
		entries:    512,
		size:       pageSize,
		alignment:  pageSize,
		allocation: pma.AllocateAny(),
		link:       entryWritable | entryPresent,
	}
}

var level4Format = format{
	mode: x86.Level4,
	levels: []level{
		longModeLevel(39),
		longModeLevel(30),
		longModeLevel(21),
		longModeLevel(12),
	},
	entrySize:  8,
	addrMask:   addrMask64,
	physLimit:  1 << 52,
	maxAddress: math.MaxUint64,
	hole:       &freeregion.Region{Start: lowerTop4 + 1, Length: upperBottom4 - lowerTop4 - 1},
	signBit:    47,
}

var level5Format = format{
	mode: x86.Level5,
	levels: []level{
		longModeLevel(48),
		longModeLevel(39),
		longModeLevel(30),
		longModeLevel(21),
		longModeLevel(12),
	},
	entrySize:  8,
	addrMask:   addrMask64,
	physLimit:  1 << 52,
	maxAddress: math.MaxUint64,
	hole:       &freeregion.Region{Start: lowerTop5 + 1, Length: upperBottom5 - lowerTop5 - 1},
	signBit:    56,
}

// LongMode is an address space using 4-level or 5-level long mode paging.
type LongMode struct {
	radix
}

// NewLongMode returns an empty long mode address space. level5 selects
// 5-level paging; nxe enables the no-execute bit.
func NewLongMode(b Backend, nxe, level5 bool) (*LongMode, error) {
	fs := b.CPU.Features()
	mode := x86.Level4
	if level5 {
		mode = x86.Level5
	}
	maxMode := x86.MaxSupportedPagingMode(fs)
	if maxMode < x86.Level4 {
		return nil, &FeatureNotSupportedError{Mode: mode, Feature: FeatureBaseline}
	}
	if level5 && maxMode < x86.Level5 {
		return nil, &FeatureNotSupportedError{Mode: mode, Feature: FeatureLevel5}
	}
	if nxe && !fs.HasFeature(cpuid.X86FeatureNX) {
		return nil, &FeatureNotSupportedError{Mode: mode, Feature: FeatureNoExecute}
	}

	f, base := &level4Format, []freeregion.Region{
		{Start: 0, Length: lowerTop4 + 1},
		{Start: upperBottom4, Length: lowerTop4 + 1},
	}
	if level5 {
		f, base = &level5Format, []freeregion.Region{
			{Start: 0, Length: lowerTop5 + 1},
			{Start: upperBottom5, Length: lowerTop5 + 1},
		}
	}
	r, err := newRadix(b, f, nxe, base)
	if err != nil {
		return nil, err
	}
	return &LongMode{radix: r}, nil
}

// NewLongModeMaxSupported returns a long mode address space using every
// optional capability the CPU supports, dropping one unsupported capability
// at a time.
func NewLongModeMaxSupported(b Backend) (*LongMode, error) {
	nxe, level5 := true, true
	for {
		lm, err := NewLongMode(b, nxe, level5)
		var fe *FeatureNotSupportedError
		if !errors.As(err, &fe) {
			return lm, err
		}
		switch fe.Feature {
		case FeatureNoExecute:
			nxe = false
		case FeatureLevel5:
			level5 = false
		default:
			return nil, ErrPagingUnsupported
		}
		log.Infof("%v; retrying without it", fe)
	}
}

// NewLongModeCurrent returns a long mode address space matching the CPU's
// active CR4.LA57 and EFER.NXE settings. It fails with ErrPagingUnsupported
// if the CPU is not in long mode.
func NewLongModeCurrent(b Backend) (*LongMode, error) {
	regs := b.CPU.ControlRegisters()
	var level5 bool
	switch regs.PagingMode() {
	case x86.Level4:
	case x86.Level5:
		level5 = true
	default:
		return nil, ErrPagingUnsupported
	}
	lm, err := NewLongMode(b, regs.NXE(), level5)
	var fe *FeatureNotSupportedError
	if errors.As(err, &fe) {
		return nil, ErrPagingUnsupported
	}
	return lm, err
}

// NXE returns whether the tables use the no-execute bit.
func (lm *LongMode) NXE() bool {
	return lm.nxe
}

// Level5 returns whether the tables use 5-level paging.
func (lm *LongMode) Level5() bool {
	return lm.format.mode == x86.Level5
}
