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

package x86

import (
	"fmt"

	"tvm.dev/loader/pkg/bits"
)

// Control register bits relevant to paging.
const (
	CR0_PE = 1 << 0
	CR0_PG = 1 << 31

	CR4_PSE  = 1 << 4
	CR4_PAE  = 1 << 5
	CR4_PGE  = 1 << 7
	CR4_LA57 = 1 << 12

	EFER_LME = 1 << 8
	EFER_LMA = 1 << 10
	EFER_NXE = 1 << 11
)

// ControlRegisters is the subset of processor state that selects the active
// paging mode.
type ControlRegisters struct {
	CR0  uint64
	CR4  uint64
	EFER uint64
}

// PagingMode returns the paging mode selected by the registers.
func (r ControlRegisters) PagingMode() PagingMode {
	switch {
	case !bits.IsOn(r.CR0, CR0_PG):
		return Disabled
	case !bits.IsOn(r.CR4, CR4_PAE):
		return Bits32
	case !bits.IsOn(r.EFER, EFER_LMA):
		return PAE
	case bits.IsOn(r.CR4, CR4_LA57):
		return Level5
	default:
		return Level4
	}
}

// NXE returns whether no-execute entries are enabled.
func (r ControlRegisters) NXE() bool {
	return bits.IsOn(r.EFER, EFER_NXE)
}

// LA57 returns whether 5-level paging is enabled.
func (r ControlRegisters) LA57() bool {
	return bits.IsOn(r.CR4, CR4_LA57)
}

// String implements fmt.Stringer.String.
func (r ControlRegisters) String() string {
	return fmt.Sprintf("cr0=%#x cr4=%#x efer=%#x", r.CR0, r.CR4, r.EFER)
}

// RegistersFor returns control registers that activate mode, with EFER.NXE
// set if nxe is true.
func RegistersFor(mode PagingMode, nxe bool) ControlRegisters {
	r := ControlRegisters{CR0: CR0_PE}
	if mode == Disabled {
		return r
	}
	r.CR0 |= CR0_PG
	if mode == Bits32 {
		return r
	}
	r.CR4 |= CR4_PAE
	if nxe {
		r.EFER |= EFER_NXE
	}
	if mode.LongMode() {
		r.EFER |= EFER_LME | EFER_LMA
	}
	if mode == Level5 {
		r.CR4 |= CR4_LA57
	}
	return r
}
