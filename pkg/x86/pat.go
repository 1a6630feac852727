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

import "fmt"

// MemoryType is a page attribute table memory type encoding.
type MemoryType uint8

// Memory types.
const (
	Uncacheable    MemoryType = 0
	WriteCombining MemoryType = 1
	WriteThrough   MemoryType = 4
	WriteProtect   MemoryType = 5
	WriteBack      MemoryType = 6
	Uncached       MemoryType = 7 // UC-
)

// PATEntries is the layout the loader programs into IA32_PAT before handing
// off. Entries 0-3 keep the power-on defaults so that PWT/PCD alone keep
// their usual meaning; entries 4 and 5 add write-combining and
// write-protect.
var PATEntries = [8]MemoryType{
	WriteBack,
	WriteThrough,
	Uncached,
	Uncacheable,
	WriteCombining,
	WriteProtect,
	Uncacheable,
	Uncacheable,
}

// PAT returns the IA32_PAT MSR value for PATEntries.
func PAT() uint64 {
	var v uint64
	for i, t := range PATEntries {
		v |= uint64(t) << (8 * i)
	}
	return v
}

// PATIndex returns the PAT entry selected by the PAT, PCD and PWT bits of a
// leaf entry.
func PATIndex(pat, pcd, pwt bool) int {
	i := 0
	if pat {
		i |= 4
	}
	if pcd {
		i |= 2
	}
	if pwt {
		i |= 1
	}
	return i
}

var memoryTypeNames = map[MemoryType]string{
	Uncacheable:    "UC",
	WriteCombining: "WC",
	WriteThrough:   "WT",
	WriteProtect:   "WP",
	WriteBack:      "WB",
	Uncached:       "UC-",
}

// String implements fmt.Stringer.String.
func (t MemoryType) String() string {
	if s, ok := memoryTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("MemoryType(%d)", uint8(t))
}
