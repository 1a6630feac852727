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
	"tvm.dev/loader/vaspace/cmd/util"
	"tvm.dev/loader/vaspace/config"
)

// Free implements subcommands.Command for the "free" command.
type Free struct{}

// Name implements subcommands.Command.Name.
func (*Free) Name() string {
	return "free"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Free) Synopsis() string {
	return "list the free virtual regions of a built plan"
}

// Usage implements subcommands.Command.Usage.
func (*Free) Usage() string {
	return `free <plan> - build the plan, then list the virtual regions that are
still available for mapping.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Free) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Free) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	s, _, err := loadSpace(conf, f.Arg(0))
	if err != nil {
		return util.Errorf("free failed: %v", err)
	}
	defer s.release()

	if err := printFree(os.Stdout, s); err != nil {
		return util.Errorf("free failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func printFree(w io.Writer, s *space) error {
	regions, ok := s.freeRegions()
	if !ok {
		fmt.Fprintf(w, "Paging is %v: every address up to %#x maps to itself.\n", s.as.PagingMode(), s.as.MaxAddress())
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "START\tLAST\tLENGTH\n")
	for _, r := range regions {
		fmt.Fprintf(tw, "%#x\t%#x\t%#x\n", r.Start, r.Last(), r.Length)
	}
	return tw.Flush()
}
