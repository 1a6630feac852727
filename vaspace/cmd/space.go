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

// Package cmd holds implementations of the vaspace commands.
package cmd

import (
	"fmt"

	"tvm.dev/loader/pkg/cleanup"
	"tvm.dev/loader/pkg/freeregion"
	"tvm.dev/loader/pkg/log"
	"tvm.dev/loader/pkg/pagetables"
	"tvm.dev/loader/pkg/pma"
	"tvm.dev/loader/vaspace/config"
)

// space is an address space built from a plan, together with the memory its
// tables live in.
type space struct {
	arena *pma.Arena
	as    pagetables.AddressSpace
}

// buildSpace maps the configured memory, builds the address space the plan
// selects and applies its mappings.
func buildSpace(conf *config.Config, plan *config.Plan) (*space, error) {
	cpu, err := conf.NewCPU()
	if err != nil {
		return nil, err
	}
	arena, err := conf.NewArena()
	if err != nil {
		return nil, fmt.Errorf("creating memory: %w", err)
	}
	cu := cleanup.Make(func() { arena.Release() })
	defer cu.Clean()

	b := pagetables.Backend{
		Frames: arena,
		Loader: arena.Loader(),
		CPU:    cpu,
	}
	as, err := plan.NewAddressSpace(b)
	if err != nil {
		return nil, fmt.Errorf("creating address space: %w", err)
	}
	log.Infof("Built %v address space, root table at %#x", as.PagingMode(), as.PhysicalAddress())
	if err := plan.Apply(as); err != nil {
		return nil, err
	}
	log.Debugf("Applied %d mappings, %d frames of page tables in use", len(plan.Mappings), arena.UsedFrames())

	cu.Release()
	return &space{arena: arena, as: as}, nil
}

// loadSpace loads the plan at path and builds it.
func loadSpace(conf *config.Config, path string) (*space, *config.Plan, error) {
	plan, err := config.LoadPlan(path)
	if err != nil {
		return nil, nil, err
	}
	s, err := buildSpace(conf, plan)
	if err != nil {
		return nil, nil, err
	}
	return s, plan, nil
}

// release unmaps the memory backing the space.
func (s *space) release() {
	if err := s.arena.Release(); err != nil {
		log.Warningf("Releasing memory: %v", err)
	}
}

// freeRegions returns the unreserved virtual regions of the space. Spaces
// without translation tables track no reservations.
func (s *space) freeRegions() ([]freeregion.Region, bool) {
	fr, ok := s.as.(interface {
		FreeRegions() []freeregion.Region
	})
	if !ok {
		return nil, false
	}
	return fr.FreeRegions(), true
}
