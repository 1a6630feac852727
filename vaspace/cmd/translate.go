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
	"tvm.dev/loader/pkg/vm"
	"tvm.dev/loader/vaspace/cmd/util"
	"tvm.dev/loader/vaspace/config"
)

// Translate implements subcommands.Command for the "translate" command.
type Translate struct{}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "translate virtual addresses through a built plan"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return `translate <plan> <address>... - build the plan, then translate each
virtual address to the physical address it maps to.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Translate) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Translate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	addrs := make([]uint64, 0, f.NArg()-1)
	for _, arg := range f.Args()[1:] {
		var a config.Address
		if err := a.UnmarshalText([]byte(arg)); err != nil {
			return util.Errorf("translate failed: %v", err)
		}
		addrs = append(addrs, uint64(a))
	}

	conf := args[0].(*config.Config)
	s, _, err := loadSpace(conf, f.Arg(0))
	if err != nil {
		return util.Errorf("translate failed: %v", err)
	}
	defer s.release()

	unmapped, err := translate(os.Stdout, s.as, addrs)
	if err != nil {
		return util.Errorf("translate failed: %v", err)
	}
	if unmapped > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// translate prints the translation of every address and returns how many
// could not be translated.
func translate(w io.Writer, as vm.AddressSpace, addrs []uint64) (int, error) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "VIRT\tPHYS\n")
	unmapped := 0
	for _, virt := range addrs {
		phys, err := as.TranslateVirt(virt)
		if err != nil {
			unmapped++
			fmt.Fprintf(tw, "%#x\t%v\n", virt, err)
			continue
		}
		fmt.Fprintf(tw, "%#x\t%#x\n", virt, phys)
	}
	return unmapped, tw.Flush()
}
