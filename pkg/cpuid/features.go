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

package cpuid

import (
	"fmt"
)

// Feature is a unique identifier for a particular cpu feature. We just use an
// int as a feature number on x86.
//
// Features are numbered according to "blocks". Each block is 32 bits, and
// feature bits from the same source (cpuid leaf/level) are in the same block.
type Feature int

// block is a collection of 32 Feature bits.
type block int

// blockSize is the number of bits in a single block.
const blockSize = 32

// featureID returns the feature identified by the given block and bit.
//
// Feature bits are numbered according to "blocks". Each block is 32 bits, and
// feature bits from the same source (cpuid leaf/level) are in the same block.
func featureID(b block, bit int) Feature {
	return Feature(blockSize*int(b) + bit)
}

// block returns the block associated with the feature.
func (f Feature) block() block {
	return block(f / blockSize)
}

// bit returns the bit associated with the feature.
func (f Feature) bit() uint32 {
	return uint32(1 << (f % blockSize))
}

// The blocks and their sources.
const (
	// Block 0 constants are all of the "basic" feature bits returned by a
	// cpuid in ecx with eax=1.
	basicEcx block = iota

	// Block 1 constants are all of the "basic" feature bits returned by a
	// cpuid in edx with eax=1.
	basicEdx

	// Block 2 constants are all of the "extended" feature bits returned by
	// a cpuid in ebx with eax=7, ecx=0.
	extendedEbx

	// Block 3 constants are all of the "extended" feature bits returned by
	// a cpuid in ecx with eax=7, ecx=0.
	extendedEcx

	// Block 4 constants are all of the AMD-specific feature bits returned
	// by a cpuid in ecx with eax=0x80000001.
	amdExtendedEcx

	// Block 5 constants are all of the AMD-specific feature bits returned
	// by a cpuid in edx with eax=0x80000001.
	amdExtendedEdx
)

// Block 1.
var (
	X86FeaturePSE = featureID(basicEdx, 3)  // Page size extensions.
	X86FeaturePAE = featureID(basicEdx, 6)  // Physical address extensions.
	X86FeaturePGE = featureID(basicEdx, 13) // Page global enable.
	X86FeaturePAT = featureID(basicEdx, 16) // Page attribute table.
)

// Block 3.
var (
	X86FeatureLA57 = featureID(extendedEcx, 16) // 57-bit linear addresses (5-level paging).
)

// Block 5.
var (
	X86FeatureNX      = featureID(amdExtendedEdx, 20) // No-execute page protection.
	X86FeatureGBPAGES = featureID(amdExtendedEdx, 26) // 1GB pages.
	X86FeatureLM      = featureID(amdExtendedEdx, 29) // Long mode.
)

// pagingFeatures are the features consulted when choosing a paging scheme,
// in display order.
var pagingFeatures = []Feature{
	X86FeaturePSE,
	X86FeaturePAE,
	X86FeaturePGE,
	X86FeaturePAT,
	X86FeatureNX,
	X86FeatureGBPAGES,
	X86FeatureLM,
	X86FeatureLA57,
}

// x86FeatureStrings are the names used in /proc/cpuinfo.
var x86FeatureStrings = map[Feature]string{
	X86FeaturePSE:     "pse",
	X86FeaturePAE:     "pae",
	X86FeaturePGE:     "pge",
	X86FeaturePAT:     "pat",
	X86FeatureNX:      "nx",
	X86FeatureGBPAGES: "pdpe1gb",
	X86FeatureLM:      "lm",
	X86FeatureLA57:    "la57",
}

// String implements fmt.Stringer.String.
func (f Feature) String() string {
	if s, ok := x86FeatureStrings[f]; ok {
		return s
	}
	return fmt.Sprintf("<cpuflag %d>", f)
}

// FeatureFromString returns the Feature associated with the given feature
// string plus a bool to indicate if it could find the feature.
func FeatureFromString(s string) (Feature, bool) {
	for f, name := range x86FeatureStrings {
		if name == s {
			return f, true
		}
	}
	return 0, false
}

// ParseFeatures maps feature names to Features.
func ParseFeatures(names []string) ([]Feature, error) {
	fs := make([]Feature, 0, len(names))
	for _, name := range names {
		f, ok := FeatureFromString(name)
		if !ok {
			return nil, ErrUnknownFeature{Name: name}
		}
		fs = append(fs, f)
	}
	return fs, nil
}

// AllFeatures returns the paging-related features known to this package.
func AllFeatures() []Feature {
	return append([]Feature(nil), pagingFeatures...)
}

// source returns the function and register that carry the feature's block,
// and the range leaf whose eax must cover that function.
func (f Feature) source() (fn, rangeLeaf cpuidFunction, reg func(*Out) *uint32) {
	switch f.block() {
	case basicEcx:
		return featureInfo, vendorID, func(o *Out) *uint32 { return &o.Ecx }
	case basicEdx:
		return featureInfo, vendorID, func(o *Out) *uint32 { return &o.Edx }
	case extendedEbx:
		return extendedFeatureInfo, vendorID, func(o *Out) *uint32 { return &o.Ebx }
	case extendedEcx:
		return extendedFeatureInfo, vendorID, func(o *Out) *uint32 { return &o.Ecx }
	case amdExtendedEcx:
		return extendedFeatures, extendedFunctionInfo, func(o *Out) *uint32 { return &o.Ecx }
	case amdExtendedEdx:
		return extendedFeatures, extendedFunctionInfo, func(o *Out) *uint32 { return &o.Edx }
	default:
		panic(fmt.Sprintf("unknown feature block for %v", f))
	}
}

// check checks for the presence of a feature in the set.
func (f Feature) check(fs FeatureSet) bool {
	fn, rangeLeaf, reg := f.source()
	if maxLeaf, _, _, _ := fs.query(rangeLeaf); maxLeaf < fn.eax() {
		return false
	}
	out := fs.Query(In{Eax: fn.eax(), Ecx: fn.ecx()})
	return *reg(&out)&f.bit() != 0
}

// set sets the feature in the Static function, extending the reported leaf
// range when needed.
func (f Feature) set(s Static, on bool) {
	fn, rangeLeaf, reg := f.source()
	in := In{Eax: fn.eax(), Ecx: fn.ecx()}
	out := s[in]
	if on {
		*reg(&out) |= f.bit()
	} else {
		*reg(&out) &^= f.bit()
	}
	s[in] = out

	if !on {
		return
	}
	rin := In{Eax: rangeLeaf.eax()}
	r := s[rin]
	if r.Eax < fn.eax() {
		r.Eax = fn.eax()
		s[rin] = r
	}
}
