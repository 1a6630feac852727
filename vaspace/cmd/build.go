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
	"text/tabwriter"

	"github.com/google/subcommands"
	"tvm.dev/loader/pkg/pagetables"
	"tvm.dev/loader/vaspace/cmd/util"
	"tvm.dev/loader/vaspace/config"
)

// Build implements subcommands.Command for the "build" command.
type Build struct {
	dump bool
}

// Name implements subcommands.Command.Name.
func (*Build) Name() string {
	return "build"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Build) Synopsis() string {
	return "build the address space described by a plan"
}

// Usage implements subcommands.Command.Usage.
func (*Build) Usage() string {
	return `build [flags] <plan> - build page tables for a .toml or .yaml plan and
print the top table and the translation of every mapping.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Build) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.dump, "dump", false, "list every present leaf entry.")
}

// Execute implements subcommands.Command.Execute.
func (b *Build) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	s, plan, err := loadSpace(conf, f.Arg(0))
	if err != nil {
		return util.Errorf("build failed: %v", err)
	}
	defer s.release()

	if err := printBuild(os.Stdout, s, plan); err != nil {
		return util.Errorf("build failed: %v", err)
	}
	if b.dump {
		if err := dumpLeaves(os.Stdout, s.as); err != nil {
			return util.Errorf("build failed: %v", err)
		}
	}
	return subcommands.ExitSuccess
}

func printBuild(w io.Writer, s *space, plan *config.Plan) error {
	fmt.Fprintf(w, "Mode: %v\n", s.as.PagingMode())
	fmt.Fprintf(w, "Root: %#x\n", s.as.PhysicalAddress())
	fmt.Fprintf(w, "Table frames: %d\n\n", s.arena.UsedFrames())

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "VIRT\tPAGES\tPROT\tTRANSLATION\n")
	for _, m := range plan.Mappings {
		translation := "-"
		if phys, err := s.as.TranslateVirt(uint64(m.Virtual)); err == nil {
			translation = fmt.Sprintf("%#x", phys)
		}
		prot, _ := m.Prot()
		fmt.Fprintf(tw, "%v\t%d\t%v\t%s\n", m.Virtual, m.Pages, prot, translation)
	}
	return tw.Flush()
}

func dumpLeaves(w io.Writer, as pagetables.AddressSpace) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "\nVIRT\tPHYS\tPROT\tENTRY\n")
	pagetables.Walk(as, func(l pagetables.Leaf) bool {
		fmt.Fprintf(tw, "%#x\t%#x\t%v\t%#x\n", l.Virtual, l.Physical, l.Protection, l.Entry)
		return true
	})
	return tw.Flush()
}
