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

// Package util groups helpers shared by vaspace commands.
package util

import (
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"tvm.dev/loader/pkg/log"
)

// ErrorLogger is where error messages are written, in addition to the debug
// log.
var ErrorLogger io.Writer = os.Stderr

// Fatalf logs the same message to the error logger and to the debug log, and
// exits with status 1.
func Fatalf(format string, args ...any) {
	writeError(format, args...)
	os.Exit(1)
}

// Errorf is like Fatalf but returns subcommands.ExitFailure so that commands
// can return it directly from Execute.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	writeError(format, args...)
	return subcommands.ExitFailure
}

func writeError(format string, args ...any) {
	log.Warningf(format, args...)
	fmt.Fprintf(ErrorLogger, "vaspace: "+format+"\n", args...)
}
