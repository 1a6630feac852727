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

// paeFormat is 3-level paging: a 4-entry pointer table, then two levels of
// 512-entry tables, 64-bit entries.
//
// The pointer table is loaded from a 32-bit CR3 and its entries have no
// writable bit.
var paeFormat = format{
	mode: x86.PAE,
	levels: []level{
		{shift: 30, entries: 4, size: 32, alignment: 32, allocation: pma.AllocateBelow(below4GB), link: entryPresent},
		{shift: 21, entries: 512, size: pageSize, alignment: pageSize, allocation: pma.AllocateAny(), link: entryWritable | entryPresent},
		{shift: 12, entries: 512, size: pageSize, alignment: pageSize, allocation: pma.AllocateAny()},
	},
	entrySize:  8,
	addrMask:   addrMask64,
	physLimit:  1 << 52,
	maxAddress: math.MaxUint32,
}

// PAE is an address space using 3-level PAE paging.
type PAE struct {
	radix
}

// NewPAE returns an empty PAE address space. If nxe is set, leaves without
// execute access carry the no-execute bit, which requires EFER.NXE.
func NewPAE(b Backend, nxe bool) (*PAE, error) {
	fs := b.CPU.Features()
	if x86.MaxSupportedPagingMode(fs) < x86.PAE {
		return nil, &FeatureNotSupportedError{Mode: x86.PAE, Feature: FeatureBaseline}
	}
	if nxe && !fs.HasFeature(cpuid.X86FeatureNX) {
		return nil, &FeatureNotSupportedError{Mode: x86.PAE, Feature: FeatureNoExecute}
	}
	r, err := newRadix(b, &paeFormat, nxe, []freeregion.Region{{Start: 0, Length: below4GB}})
	if err != nil {
		return nil, err
	}
	return &PAE{radix: r}, nil
}

// NewPAEMaxSupported returns a PAE address space using every optional
// capability the CPU supports.
func NewPAEMaxSupported(b Backend) (*PAE, error) {
	nxe := true
	for {
		p, err := NewPAE(b, nxe)
		var fe *FeatureNotSupportedError
		if !errors.As(err, &fe) {
			return p, err
		}
		switch fe.Feature {
		case FeatureNoExecute:
			log.Infof("%v; retrying without it", fe)
			nxe = false
		default:
			return nil, ErrPagingUnsupported
		}
	}
}

// NewPAECurrent returns a PAE address space matching the CPU's active
// EFER.NXE setting.
func NewPAECurrent(b Backend) (*PAE, error) {
	p, err := NewPAE(b, b.CPU.ControlRegisters().NXE())
	var fe *FeatureNotSupportedError
	if errors.As(err, &fe) {
		return nil, ErrPagingUnsupported
	}
	return p, err
}

// NXE returns whether the tables use the no-execute bit.
func (p *PAE) NXE() bool {
	return p.nxe
}
