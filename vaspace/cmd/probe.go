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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	kcpuid "github.com/klauspost/cpuid/v2"
	"tvm.dev/loader/pkg/cpuid"
	"tvm.dev/loader/pkg/x86"
	"tvm.dev/loader/vaspace/cmd/util"
	"tvm.dev/loader/vaspace/config"
)

// Probe implements subcommands.Command for the "probe" command.
type Probe struct{}

// Name implements subcommands.Command.Name.
func (*Probe) Name() string {
	return "probe"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Probe) Synopsis() string {
	return "describe the paging capabilities of the configured CPU"
}

// Usage implements subcommands.Command.Usage.
func (*Probe) Usage() string {
	return `probe - print CPU identification, paging features and paging modes.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Probe) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Probe) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	cpu, err := conf.NewCPU()
	if err != nil {
		return util.Errorf("probe failed: %v", err)
	}
	if err := probe(os.Stdout, conf.CPU, cpu); err != nil {
		return util.Errorf("probe failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func probe(w io.Writer, kind config.CPUKind, cpu x86.CPU) error {
	fs := cpu.Features()
	regs := cpu.ControlRegisters()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if kind == config.CPUHost {
		fmt.Fprintf(tw, "Brand:\t%s\n", kcpuid.CPU.BrandName)
		fmt.Fprintf(tw, "Vendor:\t%s\n", kcpuid.CPU.VendorString)
		fmt.Fprintf(tw, "Family/Model:\t%d/%d\n", kcpuid.CPU.Family, kcpuid.CPU.Model)
		fmt.Fprintf(tw, "Logical cores:\t%d\n", kcpuid.CPU.LogicalCores)
	} else {
		vendor := fs.VendorID()
		fmt.Fprintf(tw, "Vendor:\t%s (simulated)\n", vendor[:])
	}
	fmt.Fprintf(tw, "Paging flags:\t%s\n", strings.Join(fs.FlagString(), " "))
	if bits := fs.VirtualAddressBits(); bits != 0 {
		fmt.Fprintf(tw, "Address bits:\t%d virtual, %d physical\n", bits, fs.PhysicalAddressBits())
	}
	fmt.Fprintf(tw, "Max supported mode:\t%v\n", x86.MaxSupportedPagingMode(fs))
	fmt.Fprintf(tw, "Current mode:\t%v (%v)\n", regs.PagingMode(), regs)
	fmt.Fprintf(tw, "EFER.NXE:\t%t\n", regs.NXE())
	if fs.HasFeature(cpuid.X86FeaturePAT) {
		fmt.Fprintf(tw, "Loader PAT:\t%#016x %v\n", x86.PAT(), x86.PATEntries)
	}
	return tw.Flush()
}
