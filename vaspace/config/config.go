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

// Package config holds the configuration of vaspace: global flags and build
// plans.
package config

import (
	"flag"
	"fmt"
	"reflect"
	"strings"
	"time"

	"tvm.dev/loader/pkg/bits"
	"tvm.dev/loader/pkg/cpuid"
	"tvm.dev/loader/pkg/log"
	"tvm.dev/loader/pkg/pma"
	"tvm.dev/loader/pkg/x86"
)

// CPUKind selects the processor address spaces are built for.
type CPUKind int

const (
	// CPUHost uses the processor vaspace is running on.
	CPUHost CPUKind = iota

	// CPUSimulated uses a processor described by --sim-features and
	// --sim-mode.
	CPUSimulated
)

func cpuKindPtr(v CPUKind) *CPUKind {
	return &v
}

// Set implements flag.Value.
func (c *CPUKind) Set(v string) error {
	switch v {
	case "host":
		*c = CPUHost
	case "simulated":
		*c = CPUSimulated
	default:
		return fmt.Errorf("invalid cpu %q, must be host or simulated", v)
	}
	return nil
}

// Get implements flag.Getter.
func (c *CPUKind) Get() any {
	return *c
}

// String implements flag.Value.
func (c CPUKind) String() string {
	switch c {
	case CPUHost:
		return "host"
	case CPUSimulated:
		return "simulated"
	}
	panic(fmt.Sprintf("Invalid CPU kind %d", c))
}

// Config holds the values of the global flags.
type Config struct {
	// Debug enables debug logging.
	Debug bool `flag:"debug"`

	// DebugLog is the pattern of the debug log file. %COMMAND% and
	// %TIMESTAMP% are expanded. Empty means stderr.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is text or json.
	DebugLogFormat string `flag:"debug-log-format"`

	// MemoryBase is the physical address of the simulated memory holding
	// page tables.
	MemoryBase uint64 `flag:"memory-base"`

	// MemorySize is the size of the simulated memory in bytes.
	MemorySize uint64 `flag:"memory-size"`

	CPU CPUKind `flag:"cpu"`

	// SimFeatures is a comma-separated list of CPUID flags reported by the
	// simulated CPU.
	SimFeatures string `flag:"sim-features"`

	// SimMode is the paging mode the simulated CPU is running in.
	SimMode string `flag:"sim-mode"`
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "file path where debug logs are written, default is stderr. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.String("debug-log-format", "text", "log format: text (default) or json.")
	flagSet.Uint64("memory-base", 0x100000, "physical address of the simulated memory that page tables are allocated from.")
	flagSet.Uint64("memory-size", 16<<20, "size in bytes of the simulated memory that page tables are allocated from.")
	flagSet.Var(cpuKindPtr(CPUHost), "cpu", "processor to build for: host (default) or simulated.")
	flagSet.String("sim-features", "pae,nx,lm", "comma-separated CPUID flags of the simulated CPU: "+strings.Join(featureNames(), ", ")+".")
	flagSet.String("sim-mode", "level4", "active paging mode of the simulated CPU: disabled, bits32, pae, level4 or level5.")
}

func featureNames() []string {
	var names []string
	for _, f := range cpuid.AllFeatures() {
		names = append(names, f.String())
	}
	return names
}

// NewFromFlags creates a new Config with values coming from the given flag
// set.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) validate() error {
	switch c.DebugLogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.DebugLogFormat)
	}
	if c.MemorySize == 0 || !bits.IsAligned(c.MemorySize, pma.FrameSize) {
		return fmt.Errorf("--memory-size=%#x must be a non-zero multiple of %#x", c.MemorySize, pma.FrameSize)
	}
	if !bits.IsAligned(c.MemoryBase, pma.FrameSize) {
		return fmt.Errorf("--memory-base=%#x must be aligned to %#x", c.MemoryBase, pma.FrameSize)
	}
	if _, ok := bits.LastAddress(c.MemoryBase, c.MemorySize); !ok {
		return fmt.Errorf("--memory-base=%#x with --memory-size=%#x passes 2^64", c.MemoryBase, c.MemorySize)
	}
	if c.CPU == CPUSimulated {
		if _, err := c.simulatedFeatures(); err != nil {
			return err
		}
		if _, err := x86.ParsePagingMode(c.SimMode); err != nil {
			return fmt.Errorf("--sim-mode: %w", err)
		}
	}
	return nil
}

func (c *Config) simulatedFeatures() ([]cpuid.Feature, error) {
	if c.SimFeatures == "" {
		return nil, nil
	}
	fs, err := cpuid.ParseFeatures(strings.Split(c.SimFeatures, ","))
	if err != nil {
		return nil, fmt.Errorf("--sim-features: %w", err)
	}
	return fs, nil
}

// NewCPU returns the processor selected by the configuration.
func (c *Config) NewCPU() (x86.CPU, error) {
	if c.CPU == CPUHost {
		return x86.HostCPU(), nil
	}
	fs, err := c.simulatedFeatures()
	if err != nil {
		return nil, err
	}
	mode, err := x86.ParsePagingMode(c.SimMode)
	if err != nil {
		return nil, err
	}
	return x86.NewSimulatedCPU(mode, fs...), nil
}

// NewArena maps the simulated memory described by the configuration.
func (c *Config) NewArena() (*pma.Arena, error) {
	return pma.NewArena(c.MemoryBase, c.MemorySize)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.Debug: %t", c.Debug)
	log.Infof("Config.DebugLogFormat: %s", c.DebugLogFormat)
	log.Infof("Config.Memory: [%#x, +%#x)", c.MemoryBase, c.MemorySize)
	log.Infof("Config.CPU: %v", c.CPU)
	if c.CPU == CPUSimulated {
		log.Infof("Config.SimFeatures: %s", c.SimFeatures)
		log.Infof("Config.SimMode: %s", c.SimMode)
	}
}

// LogFile expands variables in the --debug-log pattern.
//
// LogFile implements log.FileOpts.
type LogFile struct {
	Command string
	Start   time.Time
}

// Build implements log.FileOpts.Build.
func (l LogFile) Build(logPattern string) string {
	logPattern = strings.ReplaceAll(logPattern, "%TIMESTAMP%", fmt.Sprintf("%d", l.Start.UnixNano()))
	return strings.ReplaceAll(logPattern, "%COMMAND%", l.Command)
}
