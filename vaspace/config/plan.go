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

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"tvm.dev/loader/pkg/pagetables"
	"tvm.dev/loader/pkg/vm"
	"tvm.dev/loader/pkg/x86"
)

// Address is a 64-bit address. It decodes from integers or from strings in
// any base strconv accepts, since TOML integers cannot hold the upper half of
// the address space.
type Address uint64

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", text, err)
	}
	*a = Address(v)
	return nil
}

// UnmarshalTOML implements toml.Unmarshaler.
func (a *Address) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case int64:
		if v < 0 {
			return fmt.Errorf("invalid address %d", v)
		}
		*a = Address(v)
		return nil
	case string:
		return a.UnmarshalText([]byte(v))
	default:
		return fmt.Errorf("invalid address of type %T", v)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: address must be a scalar", value.Line)
	}
	return a.UnmarshalText([]byte(value.Value))
}

// String implements fmt.Stringer.String.
func (a Address) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Mapping is one planned mapping.
type Mapping struct {
	Virtual    Address `toml:"virt" yaml:"virt"`
	Physical   Address `toml:"phys" yaml:"phys"`
	Pages      uint64  `toml:"pages" yaml:"pages"`
	Protection string  `toml:"prot" yaml:"prot"`
}

// Prot parses the mapping's protection, "rwx" style.
func (m *Mapping) Prot() (vm.Protection, error) {
	return vm.ParseProtection(m.Protection)
}

// Scheme selectors that are not paging modes.
const (
	SchemeMax     = "max"
	SchemeCurrent = "current"
)

// Plan describes an address space to build.
type Plan struct {
	// Scheme is max, current, or a paging mode name.
	Scheme string `toml:"scheme" yaml:"scheme"`

	// NXE requests the no-execute bit when Scheme names a paging mode.
	NXE bool `toml:"nxe" yaml:"nxe"`

	Mappings []Mapping `toml:"mapping" yaml:"mappings"`
}

// LoadPlan reads a plan from a .toml, .yaml or .yml file.
func LoadPlan(path string) (*Plan, error) {
	var p Plan
	switch ext := filepath.Ext(path); ext {
	case ".toml":
		md, err := toml.DecodeFile(path, &p)
		if err != nil {
			return nil, fmt.Errorf("decoding %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decoding %q: unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read plan: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unknown plan format %q, must be .toml, .yaml or .yml", ext)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("plan %q: %w", path, err)
	}
	return &p, nil
}

func (p *Plan) validate() error {
	if p.Scheme == "" {
		p.Scheme = SchemeMax
	}
	switch p.Scheme {
	case SchemeMax, SchemeCurrent:
	default:
		if _, err := x86.ParsePagingMode(p.Scheme); err != nil {
			return err
		}
	}
	for i := range p.Mappings {
		if _, err := p.Mappings[i].Prot(); err != nil {
			return fmt.Errorf("mapping %d: %w", i, err)
		}
	}
	return nil
}

// NewAddressSpace builds the empty address space selected by the plan.
func (p *Plan) NewAddressSpace(b pagetables.Backend) (pagetables.AddressSpace, error) {
	switch p.Scheme {
	case SchemeMax:
		return pagetables.NewMaxSupported(b)
	case SchemeCurrent:
		return pagetables.NewCurrent(b)
	}
	mode, err := x86.ParsePagingMode(p.Scheme)
	if err != nil {
		return nil, err
	}
	return pagetables.New(b, mode, pagetables.Options{NXE: p.NXE})
}

// Apply maps every planned mapping into as, in order.
func (p *Plan) Apply(as vm.AddressSpace) error {
	for i, m := range p.Mappings {
		prot, err := m.Prot()
		if err != nil {
			return fmt.Errorf("mapping %d: %w", i, err)
		}
		if err := as.Map(uint64(m.Virtual), uint64(m.Physical), m.Pages, prot); err != nil {
			return fmt.Errorf("mapping %d (%v -> %v, %d pages): %w", i, m.Virtual, m.Physical, m.Pages, err)
		}
	}
	return nil
}
