// Copyright 2018 The gVisor Authors.
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

// Package bits includes all bit related types and operations.
package bits

import (
	"golang.org/x/exp/constraints"
)

// IsOn returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn[T constraints.Unsigned](mask, bits T) bool {
	return mask&bits == bits
}

// IsAnyOn returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn[T constraints.Unsigned](mask, bits T) bool {
	return mask&bits != 0
}

// Mask returns a T with all of the given bits set.
func Mask[T constraints.Unsigned](is ...int) T {
	ret := T(0)
	for _, i := range is {
		ret |= MaskOf[T](i)
	}
	return ret
}

// MaskOf is like Mask, but sets only a single bit (more efficiently).
func MaskOf[T constraints.Unsigned](i int) T {
	return T(1) << T(i)
}

// IsPowerOfTwo returns true if v is power of 2.
func IsPowerOfTwo[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}

// IsAligned returns true if v is aligned to align.
//
// Precondition: align is a power of two.
func IsAligned[T constraints.Unsigned](v, align T) bool {
	return v&(align-1) == 0
}

// AlignDown returns v rounded down to align.
//
// Precondition: align is a power of two.
func AlignDown[T constraints.Unsigned](v, align T) T {
	return v &^ (align - 1)
}

// AlignUp returns v rounded up to align, and false if that overflows.
//
// Precondition: align is a power of two.
func AlignUp[T constraints.Unsigned](v, align T) (T, bool) {
	r := (v + align - 1) &^ (align - 1)
	return r, r >= v
}

// DivRoundUp returns ceil(v / d).
func DivRoundUp[T constraints.Unsigned](v, d T) T {
	if v == 0 {
		return 0
	}
	return (v-1)/d + 1
}

// CheckedAdd returns a+b, and false if the sum overflows T.
func CheckedAdd[T constraints.Unsigned](a, b T) (T, bool) {
	s := a + b
	return s, s >= a
}

// CheckedMul returns a*b, and false if the product overflows T.
func CheckedMul[T constraints.Unsigned](a, b T) (T, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	return p, p/b == a
}

// LastAddress returns the inclusive last address of the range [start,
// start+length), and false if that address does not exist in T. A range
// ending exactly at the top of T (start+length == max+1) is valid.
//
// Precondition: length > 0.
func LastAddress[T constraints.Unsigned](start, length T) (T, bool) {
	return CheckedAdd(start, length-1)
}
