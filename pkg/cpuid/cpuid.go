// Copyright 2019 The gVisor Authors.
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

// Package cpuid provides basic functionality for querying x86 CPU feature
// sets, as needed to pick a paging scheme.
//
// To use FeatureSets, one should start with an existing FeatureSet (either
// HostFeatureSet() or a Static definition) and then test for features as
// desired. For example, to decide whether no-execute leaves may be used:
//
//	if HostFeatureSet().HasFeature(X86FeatureNX) {
//		...
//	}
package cpuid

import (
	"fmt"
)

// Common references:
//
// Intel:
//   - Intel SDM Volume 2, Chapter 3.2 "CPUID" (more up-to-date)
//   - Intel Application Note 485 (more detailed)
//
// AMD:
//   - AMD64 APM Volume 3, Appendix 3 "Obtaining Processor Information ..."

// FeatureSet is a set of features, backed by a CPUID Function.
type FeatureSet struct {
	// Function is the underlying CPUID Function.
	//
	// This is exported to allow direct calls of the underlying CPUID
	// function, where required.
	Function
}

// HasFeature tests whether or not a feature is in the given feature set.
//
// Leaves beyond the maximum reported by leaf 0 (or 0x80000000 for the
// extended range) are treated as absent, as hardware returns unrelated data
// for them.
func (fs FeatureSet) HasFeature(feature Feature) bool {
	return feature.check(fs)
}

// VendorID is the 12-char string returned in ebx:edx:ecx for eax=0.
func (fs FeatureSet) VendorID() [12]byte {
	_, bx, cx, dx := fs.query(vendorID)
	return vendorIDFromRegs(bx, cx, dx)
}

// MaxBasicFunction returns the highest supported standard leaf.
func (fs FeatureSet) MaxBasicFunction() uint32 {
	ax, _, _, _ := fs.query(vendorID)
	return ax
}

// MaxExtendedFunction returns the highest supported extended leaf.
func (fs FeatureSet) MaxExtendedFunction() uint32 {
	ax, _, _, _ := fs.query(extendedFunctionInfo)
	return ax
}

// VirtualAddressBits returns the number of bits available for virtual
// addresses, or zero if the leaf is not reported.
func (fs FeatureSet) VirtualAddressBits() uint32 {
	if fs.MaxExtendedFunction() < uint32(addressSizes) {
		return 0
	}
	ax, _, _, _ := fs.query(addressSizes)
	return (ax >> 8) & 0xff
}

// PhysicalAddressBits returns the number of bits available for physical
// addresses, or zero if the leaf is not reported.
func (fs FeatureSet) PhysicalAddressBits() uint32 {
	if fs.MaxExtendedFunction() < uint32(addressSizes) {
		return 0
	}
	ax, _, _, _ := fs.query(addressSizes)
	return ax & 0xff
}

// FlagString returns the names of all paging-related features present.
func (fs FeatureSet) FlagString() []string {
	var s []string
	for _, f := range pagingFeatures {
		if fs.HasFeature(f) {
			s = append(s, f.String())
		}
	}
	return s
}

// query is a internal wrapper.
func (fs FeatureSet) query(fn cpuidFunction) (uint32, uint32, uint32, uint32) {
	out := fs.Query(In{Eax: fn.eax(), Ecx: fn.ecx()})
	return out.Eax, out.Ebx, out.Ecx, out.Edx
}

// Helper to convert 3 regs into 12-byte vendor ID.
func vendorIDFromRegs(bx, cx, dx uint32) (r [12]byte) {
	for i := uint(0); i < 4; i++ {
		r[i] = byte(bx >> (i * 8))
		r[4+i] = byte(dx >> (i * 8))
		r[8+i] = byte(cx >> (i * 8))
	}
	return r
}

// regsFromVendorID merges a 12-byte vendor ID back to registers.
func regsFromVendorID(r [12]byte) (bx, cx, dx uint32) {
	for i := uint(0); i < 4; i++ {
		bx |= uint32(r[i]) << (i * 8)
		dx |= uint32(r[4+i]) << (i * 8)
		cx |= uint32(r[8+i]) << (i * 8)
	}
	return
}

var hostFeatureSet = FeatureSet{Function: Native{}}

// HostFeatureSet returns a FeatureSet backed by the host's CPUID instruction.
//
// On architectures without CPUID every query returns zeros, so no feature is
// reported.
func HostFeatureSet() FeatureSet {
	return hostFeatureSet
}

// ErrUnknownFeature is returned by FeatureFromString for unknown names.
type ErrUnknownFeature struct {
	Name string
}

// Error implements error.
func (e ErrUnknownFeature) Error() string {
	return fmt.Sprintf("unknown cpu feature %q", e.Name)
}
