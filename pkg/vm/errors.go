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
)

// MapError is a reason a Map call failed.
type MapError int

// Map failures.
const (
	// ErrAddressOverflow indicates that an address range wrapped, or a
	// physical range extended past what the entry format can encode.
	ErrAddressOverflow MapError = iota + 1

	// ErrAlignment indicates that an address was not page aligned.
	ErrAlignment

	// ErrAllocation indicates that a page table could not be allocated.
	ErrAllocation

	// ErrAlreadyMapped indicates that part of the virtual range is in use.
	ErrAlreadyMapped

	// ErrGeneral indicates any other failure, for example of the loader's
	// own address space.
	ErrGeneral

	// ErrInvalidAddress indicates a virtual range the scheme cannot
	// address.
	ErrInvalidAddress

	// ErrInvalidSize indicates a page count that is zero or too large.
	ErrInvalidSize
)

var mapErrorMessages = map[MapError]string{
	ErrAddressOverflow: "requested mapping involves overflow",
	ErrAlignment:       "requested mapping starts at an invalid alignment",
	ErrAllocation:      "requested mapping had a required allocation fail",
	ErrAlreadyMapped:   "requested virtual region is already in use",
	ErrGeneral:         "an unspecified error occurred",
	ErrInvalidAddress:  "requested mapping involves an invalid address",
	ErrInvalidSize:     "requested mapping is too large",
}

// Error implements error.Error.
func (e MapError) Error() string {
	if msg, ok := mapErrorMessages[e]; ok {
		return msg
	}
	return fmt.Sprintf("MapError(%d)", int(e))
}

// ErrNotMapped is returned by Unmap for a range that was not mapped.
var ErrNotMapped = errors.New("requested unmapping region was not mapped")

// ErrNoMapping is returned by TranslateVirt for an address with no mapping.
var ErrNoMapping = errors.New("no mapping exists to facilitate the translation")
