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

// Static is a static CPUID function.
//
// A Static is used to describe machines other than the host, for example a
// simulated CPU lacking NX.
type Static map[In]Out

// NewStatic returns a Static reporting the given vendor and features.
func NewStatic(vendor string, features ...Feature) Static {
	s := make(Static)
	var v [12]byte
	copy(v[:], vendor)
	bx, cx, dx := regsFromVendorID(v)
	s[In{Eax: vendorID.eax()}] = Out{Ebx: bx, Ecx: cx, Edx: dx}
	s[In{Eax: extendedFunctionInfo.eax()}] = Out{}
	for _, f := range features {
		s.Add(f)
	}
	return s
}

// ToStatic converts a FeatureSet to a Static function, preserving the leaves
// consulted by this package.
func (fs FeatureSet) ToStatic() Static {
	s := make(Static)
	for fn := range allowedFunctions {
		in := In{Eax: fn.eax(), Ecx: fn.ecx()}
		s[in] = fs.Query(in)
	}
	return s
}

// ToFeatureSet converts a static specification to a FeatureSet.
func (s Static) ToFeatureSet() FeatureSet {
	// Make a copy.
	ns := make(Static, len(s))
	for k, v := range s {
		ns[k] = v
	}
	return FeatureSet{ns}
}

// Add adds a feature.
func (s Static) Add(feature Feature) Static {
	feature.set(s, true)
	return s
}

// Remove removes a feature.
func (s Static) Remove(feature Feature) Static {
	feature.set(s, false)
	return s
}

// Set sets a raw leaf.
func (s Static) Set(in In, out Out) {
	s[in] = out
}

// Query implements Function.Query.
func (s Static) Query(in In) Out {
	in.normalize()
	return s[in]
}
