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
	"errors"
	"fmt"
	"testing"
)

func TestProtectionAlgebra(t *testing.T) {
	for _, tc := range []struct {
		a, b             Protection
		union, intersect Protection
		complementA      Protection
	}{
		{Read, Write, ReadWrite, NoAccess, Write | Execute},
		{ReadWrite, ReadExecute, AnyAccess, Read, Execute},
		{NoAccess, AnyAccess, AnyAccess, NoAccess, AnyAccess},
		{AnyAccess, Execute, AnyAccess, Execute, NoAccess},
	} {
		name := fmt.Sprintf("%v,%v", tc.a, tc.b)
		if got := tc.a.Union(tc.b); got != tc.union {
			t.Errorf("%s: Union = %v, want %v", name, got, tc.union)
		}
		if got := tc.a.Intersect(tc.b); got != tc.intersect {
			t.Errorf("%s: Intersect = %v, want %v", name, got, tc.intersect)
		}
		if got := tc.a.Complement(); got != tc.complementA {
			t.Errorf("%s: Complement = %v, want %v", name, got, tc.complementA)
		}
	}
}

func TestProtectionString(t *testing.T) {
	for _, p := range []Protection{NoAccess, Read, ReadWrite, ReadExecute, AnyAccess, Write | Execute} {
		got, err := ParseProtection(p.String())
		if err != nil || got != p {
			t.Errorf("ParseProtection(%q) = %v, %v; want %v", p.String(), got, err, p)
		}
	}
	if got := ReadExecute.String(); got != "r-x" {
		t.Errorf("String() = %q, want r-x", got)
	}
	if _, err := ParseProtection("rq"); err == nil {
		t.Errorf("ParseProtection(rq) succeeded")
	}
}

func TestMapErrorMatching(t *testing.T) {
	wrapped := fmt.Errorf("mapping table at level 2: %w", ErrAllocation)
	if !errors.Is(wrapped, ErrAllocation) {
		t.Errorf("errors.Is(wrapped, ErrAllocation) = false")
	}
	if errors.Is(wrapped, ErrGeneral) {
		t.Errorf("errors.Is(wrapped, ErrGeneral) = true")
	}
	var me MapError
	if !errors.As(wrapped, &me) || me != ErrAllocation {
		t.Errorf("errors.As(wrapped) = %v", me)
	}
	if got := ErrAlreadyMapped.Error(); got != "requested virtual region is already in use" {
		t.Errorf("ErrAlreadyMapped.Error() = %q", got)
	}
	if got := MapError(99).Error(); got != "MapError(99)" {
		t.Errorf("MapError(99).Error() = %q", got)
	}
}
