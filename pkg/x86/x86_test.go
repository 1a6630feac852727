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
	"testing"

	"github.com/google/go-cmp/cmp"
	"tvm.dev/loader/pkg/cpuid"
)

func TestMaxSupportedPagingMode(t *testing.T) {
	for _, tc := range []struct {
		name     string
		features []cpuid.Feature
		want     PagingMode
	}{
		{"none", nil, Bits32},
		{"pae", []cpuid.Feature{cpuid.X86FeaturePAE}, PAE},
		{"pae nx", []cpuid.Feature{cpuid.X86FeaturePAE, cpuid.X86FeatureNX}, PAE},
		{"lm", []cpuid.Feature{cpuid.X86FeaturePAE, cpuid.X86FeatureLM}, Level4},
		{"la57 without lm", []cpuid.Feature{cpuid.X86FeaturePAE, cpuid.X86FeatureLA57}, PAE},
		{"lm la57", []cpuid.Feature{cpuid.X86FeaturePAE, cpuid.X86FeatureLM, cpuid.X86FeatureLA57}, Level5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs := cpuid.NewStatic("AuthenticAMD", tc.features...).ToFeatureSet()
			if got := MaxSupportedPagingMode(fs); got != tc.want {
				t.Errorf("MaxSupportedPagingMode() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRegistersRoundTrip(t *testing.T) {
	for _, mode := range []PagingMode{Disabled, Bits32, PAE, Level4, Level5} {
		for _, nxe := range []bool{false, true} {
			r := RegistersFor(mode, nxe)
			if got := r.PagingMode(); got != mode {
				t.Errorf("RegistersFor(%v, %v).PagingMode() = %v", mode, nxe, got)
			}
			wantNXE := nxe && mode >= PAE
			if r.NXE() != wantNXE {
				t.Errorf("RegistersFor(%v, %v).NXE() = %v, want %v", mode, nxe, r.NXE(), wantNXE)
			}
			if r.LA57() != (mode == Level5) {
				t.Errorf("RegistersFor(%v).LA57() = %v", mode, r.LA57())
			}
		}
	}
}

func TestRegisterBits(t *testing.T) {
	got := RegistersFor(Level5, true)
	want := ControlRegisters{
		CR0:  1<<31 | 1,
		CR4:  1<<12 | 1<<5,
		EFER: 1<<11 | 1<<10 | 1<<8,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RegistersFor(Level5) mismatch (-want +got):\n%s", diff)
	}
}

func TestSimulatedCPU(t *testing.T) {
	cpu := NewSimulatedCPU(Level4, cpuid.X86FeaturePAE, cpuid.X86FeatureLM)
	if cpu.ControlRegisters().NXE() {
		t.Errorf("NXE set on a CPU without NX")
	}
	if got := MaxSupportedPagingMode(cpu.Features()); got != Level4 {
		t.Errorf("MaxSupportedPagingMode() = %v, want level4", got)
	}

	cpu = NewSimulatedCPU(PAE, cpuid.X86FeaturePAE, cpuid.X86FeatureNX)
	if !cpu.ControlRegisters().NXE() {
		t.Errorf("NXE clear on a CPU with NX")
	}
}

func TestParsePagingMode(t *testing.T) {
	for _, mode := range []PagingMode{Disabled, Bits32, PAE, Level4, Level5} {
		got, err := ParsePagingMode(mode.String())
		if err != nil || got != mode {
			t.Errorf("ParsePagingMode(%q) = %v, %v", mode.String(), got, err)
		}
	}
	if _, err := ParsePagingMode("level6"); err == nil {
		t.Errorf("ParsePagingMode(level6) succeeded")
	}
	if got := PagingMode(9).String(); got != "PagingMode(9)" {
		t.Errorf("String() = %q", got)
	}
}

func TestPAT(t *testing.T) {
	// WB | WT<<8 | UC-<<16 | UC<<24 | WC<<32 | WP<<40 | UC<<48 | UC<<56.
	const want = 0x0000050100070406
	if got := PAT(); got != want {
		t.Errorf("PAT() = %#016x, want %#016x", got, want)
	}
	if got := PATEntries[PATIndex(true, false, true)]; got != WriteProtect {
		t.Errorf("PAT index 5 = %d, want write-protect", got)
	}
}

func TestHostCPU(t *testing.T) {
	cpu := HostCPU()
	mode := cpu.ControlRegisters().PagingMode()
	if maxMode := MaxSupportedPagingMode(cpu.Features()); mode > maxMode && mode != Disabled {
		t.Errorf("host mode %v exceeds supported %v", mode, maxMode)
	}
}
