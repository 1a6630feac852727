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

package pagetables

import (
	"errors"
	"fmt"

	"tvm.dev/loader/pkg/log"
	"tvm.dev/loader/pkg/x86"
)

// ErrPagingUnsupported is returned when no configuration of the requested
// scheme is supported by the CPU.
var ErrPagingUnsupported = errors.New("paging mode is not supported")

// Feature is a capability a scheme may require of the CPU.
type Feature int

const (
	// FeatureBaseline is the paging mode itself.
	FeatureBaseline Feature = iota

	// FeatureNoExecute is the no-execute entry bit.
	FeatureNoExecute

	// FeatureLevel5 is 5-level paging.
	FeatureLevel5
)

// String implements fmt.Stringer.String.
func (f Feature) String() string {
	switch f {
	case FeatureBaseline:
		return "paging mode"
	case FeatureNoExecute:
		return "no-execute bit"
	case FeatureLevel5:
		return "5-level paging"
	default:
		return fmt.Sprintf("Feature(%d)", int(f))
	}
}

// FeatureNotSupportedError is returned by scheme constructors when the CPU
// lacks a requested capability.
type FeatureNotSupportedError struct {
	Mode    x86.PagingMode
	Feature Feature
}

// Error implements error.Error.
func (e *FeatureNotSupportedError) Error() string {
	return fmt.Sprintf("%v: %v is not supported", e.Mode, e.Feature)
}

// Options are the optional capabilities requested of New.
type Options struct {
	// NXE enables the no-execute bit. Ignored by Disabled and Bits32.
	NXE bool
}

// New returns an empty address space for mode.
func New(b Backend, mode x86.PagingMode, opts Options) (AddressSpace, error) {
	switch mode {
	case x86.Disabled:
		return NewDisabled(), nil
	case x86.Bits32:
		return orNil(NewBits32(b))
	case x86.PAE:
		return orNil(NewPAE(b, opts.NXE))
	case x86.Level4, x86.Level5:
		return orNil(NewLongMode(b, opts.NXE, mode == x86.Level5))
	default:
		return nil, fmt.Errorf("unknown paging mode %v", mode)
	}
}

// NewMaxSupported returns an empty address space for the most capable
// paging mode and capabilities the CPU supports.
func NewMaxSupported(b Backend) (AddressSpace, error) {
	mode := x86.MaxSupportedPagingMode(b.CPU.Features())
	log.Infof("Maximum supported paging mode: %v", mode)
	switch mode {
	case x86.Level4, x86.Level5:
		return orNil(NewLongModeMaxSupported(b))
	case x86.PAE:
		return orNil(NewPAEMaxSupported(b))
	default:
		return orNil(NewBits32(b))
	}
}

// NewCurrent returns an empty address space usable under the CPU's active
// paging configuration.
func NewCurrent(b Backend) (AddressSpace, error) {
	regs := b.CPU.ControlRegisters()
	mode := regs.PagingMode()
	log.Debugf("Current paging mode: %v (%v)", mode, regs)
	switch mode {
	case x86.Disabled:
		return NewDisabled(), nil
	case x86.Bits32:
		return orNil(NewBits32(b))
	case x86.PAE:
		return orNil(NewPAECurrent(b))
	default:
		return orNil(NewLongModeCurrent(b))
	}
}

// orNil converts a concrete constructor result into an AddressSpace, so that
// a failed constructor yields a nil interface rather than a typed nil.
func orNil[T AddressSpace](as T, err error) (AddressSpace, error) {
	if err != nil {
		return nil, err
	}
	return as, nil
}
