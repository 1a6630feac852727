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

import (
	"sync"

	"tvm.dev/loader/pkg/cpuid"
	"tvm.dev/loader/pkg/log"
)

// hostCPU is the processor this program runs on.
//
// Control registers cannot be read outside ring 0, so they are inferred from
// the host kernel's behavior (see hostRegisters).
type hostCPU struct {
	once sync.Once
	regs ControlRegisters
}

var host hostCPU

// HostCPU returns the processor this program runs on.
func HostCPU() CPU {
	return &host
}

// Features implements CPU.Features.
func (*hostCPU) Features() cpuid.FeatureSet {
	return cpuid.HostFeatureSet()
}

// ControlRegisters implements CPU.ControlRegisters.
func (h *hostCPU) ControlRegisters() ControlRegisters {
	h.once.Do(func() {
		h.regs = hostRegisters(cpuid.HostFeatureSet())
		log.Debugf("Host control registers: %v (mode %v)", h.regs, h.regs.PagingMode())
	})
	return h.regs
}
