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

// Package x86 describes the x86 processor state that decides which paging
// scheme can be built: supported features, the active control registers and
// the resulting paging modes.
package x86

import (
	"fmt"
)

// PagingMode is an x86 address translation scheme.
type PagingMode int

// Paging modes, in increasing order of capability.
const (
	// Disabled is the identity translation used with CR0.PG clear.
	Disabled PagingMode = iota

	// Bits32 is 2-level paging with 32-bit entries.
	Bits32

	// PAE is 3-level paging with 64-bit entries.
	PAE

	// Level4 is 4-level long mode paging (48-bit virtual addresses).
	Level4

	// Level5 is 5-level long mode paging (57-bit virtual addresses).
	Level5
)

var pagingModeNames = [...]string{
	Disabled: "disabled",
	Bits32:   "bits32",
	PAE:      "pae",
	Level4:   "level4",
	Level5:   "level5",
}

// String implements fmt.Stringer.String.
func (m PagingMode) String() string {
	if m >= 0 && int(m) < len(pagingModeNames) {
		return pagingModeNames[m]
	}
	return fmt.Sprintf("PagingMode(%d)", int(m))
}

// Levels returns the number of table levels walked by the mode.
func (m PagingMode) Levels() int {
	switch m {
	case Bits32:
		return 2
	case PAE:
		return 3
	case Level4:
		return 4
	case Level5:
		return 5
	default:
		return 0
	}
}

// LongMode returns whether m is one of the long mode schemes.
func (m PagingMode) LongMode() bool {
	return m == Level4 || m == Level5
}

// ParsePagingMode parses the String form of a PagingMode.
func ParsePagingMode(s string) (PagingMode, error) {
	for m, name := range pagingModeNames {
		if name == s {
			return PagingMode(m), nil
		}
	}
	return Disabled, fmt.Errorf("unknown paging mode %q", s)
}

// PageSize is the size of a base page for every paging mode.
const PageSize = 0x1000
