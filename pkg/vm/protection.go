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

package vm

import (
	"fmt"
)

// Protection is a set of access permissions for a mapping.
type Protection uint8

// Protection bits.
const (
	Read Protection = 1 << iota
	Write
	Execute

	// NoAccess is the empty set.
	NoAccess Protection = 0

	// ReadWrite is Read | Write.
	ReadWrite = Read | Write

	// ReadExecute is Read | Execute.
	ReadExecute = Read | Execute

	// AnyAccess is every permission.
	AnyAccess = Read | Write | Execute
)

// Union returns the permissions in either p or other.
func (p Protection) Union(other Protection) Protection {
	return p | other
}

// Intersect returns the permissions in both p and other.
func (p Protection) Intersect(other Protection) Protection {
	return p & other
}

// Complement returns the permissions not in p.
func (p Protection) Complement() Protection {
	return ^p & AnyAccess
}

// Contains returns whether every permission in other is in p.
func (p Protection) Contains(other Protection) bool {
	return p&other == other
}

// Any returns whether any permission is set.
func (p Protection) Any() bool {
	return p&AnyAccess != 0
}

// String returns a pretty representation of the protection, as in
// /proc/[pid]/maps.
func (p Protection) String() string {
	b := []byte("---")
	if p.Contains(Read) {
		b[0] = 'r'
	}
	if p.Contains(Write) {
		b[1] = 'w'
	}
	if p.Contains(Execute) {
		b[2] = 'x'
	}
	return string(b)
}

// ParseProtection parses a protection string made of the letters r, w and x
// (in any order, '-' ignored).
func ParseProtection(s string) (Protection, error) {
	var p Protection
	for _, c := range s {
		switch c {
		case 'r':
			p |= Read
		case 'w':
			p |= Write
		case 'x':
			p |= Execute
		case '-':
		default:
			return NoAccess, fmt.Errorf("invalid protection %q: unknown flag %q", s, c)
		}
	}
	return p, nil
}
