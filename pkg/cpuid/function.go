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

// cpuidFunction is a useful type wrapper. The format is eax | (ecx << 32).
type cpuidFunction uint64

func (f cpuidFunction) eax() uint32 {
	return uint32(f)
}

func (f cpuidFunction) ecx() uint32 {
	return uint32(f >> 32)
}

// The standard functions used here, ordered as defined by the hardware.
const (
	vendorID            cpuidFunction = 0x0 // Returns vendor ID and largest standard function.
	featureInfo         cpuidFunction = 0x1 // Returns basic feature bits and processor signature.
	extendedFeatureInfo cpuidFunction = 0x7 // Returns extended feature bits.
)

// The "extended" functions.
const (
	extendedStart        cpuidFunction = 0x80000000
	extendedFunctionInfo cpuidFunction = extendedStart + 0 // Returns highest available extended function in eax.
	extendedFeatures     cpuidFunction = extendedStart + 1 // Returns some extended feature bits in edx and ecx.
	addressSizes         cpuidFunction = extendedStart + 8 // Physical and virtual address sizes.
)

// allowedFunctions are the functions that Native will execute. Everything
// else reads as zero.
var allowedFunctions = map[cpuidFunction]bool{
	vendorID:             true,
	featureInfo:          true,
	extendedFeatureInfo:  true,
	extendedFunctionInfo: true,
	extendedFeatures:     true,
	addressSizes:         true,
}

// Function executes a CPUID function.
//
// This is typically the native function or a Static definition.
type Function interface {
	Query(In) Out
}

// In is input to the Query function.
type In struct {
	Eax uint32
	Ecx uint32
}

// normalize drops irrelevant Ecx values.
func (i *In) normalize() {
	switch cpuidFunction(i.Eax) {
	case vendorID, featureInfo, extendedFunctionInfo, extendedFeatures, addressSizes:
		i.Ecx = 0 // Ignore.
	case extendedFeatureInfo:
		// Preserve i.Ecx.
	}
}

// Out is output from the Query function.
type Out struct {
	Eax uint32
	Ebx uint32
	Ecx uint32
	Edx uint32
}

// Native is a native Function.
//
// This implements Function.
type Native struct{}

// Query executes CPUID natively, for the allowed functions only.
//
// This implements Function.
func (Native) Query(in In) Out {
	in.normalize()
	if !allowedFunctions[cpuidFunction(in.Eax)] {
		return Out{} // All zeros.
	}
	return native(in)
}
