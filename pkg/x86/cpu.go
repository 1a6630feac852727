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
	"tvm.dev/loader/pkg/cpuid"
)

// CPU is the processor a paging scheme is built for.
type CPU interface {
	// Features returns the CPUID feature set.
	Features() cpuid.FeatureSet

	// ControlRegisters returns the active CR0, CR4 and EFER.
	ControlRegisters() ControlRegisters
}

// MaxSupportedPagingMode returns the most capable paging mode the feature set
// allows.
func MaxSupportedPagingMode(fs cpuid.FeatureSet) PagingMode {
	switch {
	case fs.HasFeature(cpuid.X86FeatureLM) && fs.HasFeature(cpuid.X86FeatureLA57):
		return Level5
	case fs.HasFeature(cpuid.X86FeatureLM):
		return Level4
	case fs.HasFeature(cpuid.X86FeaturePAE):
		return PAE
	default:
		return Bits32
	}
}

// SimulatedCPU is a CPU described entirely by value.
type SimulatedCPU struct {
	// Static is the CPUID definition.
	Static cpuid.Static

	// Registers is the active register state.
	Registers ControlRegisters
}

// NewSimulatedCPU returns a CPU reporting the given features and running in
// mode. EFER.NXE is set when the features include NX and the mode has 64-bit
// entries.
func NewSimulatedCPU(mode PagingMode, features ...cpuid.Feature) *SimulatedCPU {
	s := cpuid.NewStatic("GenuineIntel", features...)
	nxe := s.ToFeatureSet().HasFeature(cpuid.X86FeatureNX)
	return &SimulatedCPU{
		Static:    s,
		Registers: RegistersFor(mode, nxe),
	}
}

// Features implements CPU.Features.
func (c *SimulatedCPU) Features() cpuid.FeatureSet {
	return c.Static.ToFeatureSet()
}

// ControlRegisters implements CPU.ControlRegisters.
func (c *SimulatedCPU) ControlRegisters() ControlRegisters {
	return c.Registers
}
