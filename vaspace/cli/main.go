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

// Package cli is the main entrypoint for vaspace.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"tvm.dev/loader/pkg/log"
	"tvm.dev/loader/vaspace/cmd"
	"tvm.dev/loader/vaspace/cmd/util"
	"tvm.dev/loader/vaspace/config"
)

// Main is the main entrypoint.
func Main() {
	start := time.Now()

	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	if conf.Debug {
		log.SetLevel(log.Debug)
	} else {
		log.SetLevel(log.Warning)
	}

	subcommand := flag.CommandLine.Arg(0)
	var logFile io.Writer = os.Stderr
	if conf.DebugLog != "" {
		f, err := log.OpenFile(conf.DebugLog, config.LogFile{Command: subcommand, Start: start})
		if err != nil {
			util.Fatalf("error opening debug log file in %q: %v", conf.DebugLog, err)
		}
		defer f.Close()
		logFile = f
		util.ErrorLogger = io.MultiWriter(os.Stderr, f)
	}
	log.SetTarget(newEmitter(conf.DebugLogFormat, logFile))

	const delimString = `**************** vaspace ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, %d CPUs, %s, PID %d", runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid())
	log.Debugf("Host page size: %#x (%d bytes)", os.Getpagesize(), os.Getpagesize())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	var ws subcommands.ExitStatus
	ws = subcommands.Execute(context.Background(), conf)
	log.Infof("Exiting with status: %v", ws)
	os.Exit(int(ws))
}

// forEachCmd invokes the passed callback for each command supported by
// vaspace.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Probe), "")
	cb(new(cmd.Build), "")
	cb(new(cmd.Translate), "")
	cb(new(cmd.Free), "")
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	util.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}
