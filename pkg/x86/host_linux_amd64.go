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

//go:build linux && amd64
// +build linux,amd64

package x86

import (
	"golang.org/x/sys/unix"

	"tvm.dev/loader/pkg/cpuid"
	"tvm.dev/loader/pkg/log"
)

// la57Hint is above the 47-bit user limit. Linux only returns addresses
// beyond that limit when asked to, and only with 5-level paging active.
const la57Hint = 1 << 52

// hostRegisters infers the host's control registers. A 64-bit Linux kernel
// always runs in long mode, and enables NX whenever the CPU has it.
func hostRegisters(fs cpuid.FeatureSet) ControlRegisters {
	nxe := fs.HasFeature(cpuid.X86FeatureNX)
	mode := Level4
	if fs.HasFeature(cpuid.X86FeatureLA57) && probeLA57() {
		mode = Level5
	}
	return RegistersFor(mode, nxe)
}

// probeLA57 reports whether the kernel hands out 57-bit user addresses.
func probeLA57() bool {
	pageSize := uintptr(unix.Getpagesize())
	addr, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		la57Hint,
		pageSize,
		unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
		^uintptr(0), // fd = -1
		0)
	if errno != 0 {
		log.Debugf("LA57 probe mmap failed: %v", errno)
		return false
	}
	if _, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, pageSize, 0); errno != 0 {
		log.Warningf("LA57 probe munmap(%#x) failed: %v", addr, errno)
	}
	return uint64(addr) >= 1<<47
}
