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

	"tvm.dev/loader/pkg/freeregion"
	"tvm.dev/loader/pkg/pma"
	"tvm.dev/loader/pkg/x86"
)

// bits32Format is 2-level paging: a 1024-entry directory of 1024-entry
// tables, 32-bit entries, no no-execute bit.
var bits32Format = format{
	mode: x86.Bits32,
	levels: []level{
		{shift: 22, entries: 1024, size: pageSize, alignment: pageSize, allocation: pma.AllocateBelow(below4GB), link: entryWritable | entryPresent},
		{shift: 12, entries: 1024, size: pageSize, alignment: pageSize, allocation: pma.AllocateBelow(below4GB)},
	},
	entrySize:  4,
	addrMask:   addrMask32,
	physLimit:  below4GB,
	maxAddress: math.MaxUint32,
}

// Bits32 is an address space using 2-level 32-bit paging.
type Bits32 struct {
	radix
}

// NewBits32 returns an empty 2-level address space. Every x86 processor
// supports this mode.
func NewBits32(b Backend) (*Bits32, error) {
	r, err := newRadix(b, &bits32Format, false, []freeregion.Region{{Start: 0, Length: below4GB}})
	if err != nil {
		return nil, err
	}
	return &Bits32{radix: r}, nil
}
