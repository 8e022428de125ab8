// Copyright 2018 The gVisor Authors.
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

// Package pfalloc provides a free-list-backed implementation of the
// physical-frame-allocator and physmap contracts that the page-table
// engine consumes (pagetables.Allocator). It carves table-sized
// frames out of a fixed Go-heap arena and tracks their liveness with
// a frameFreeList, playing the role that a real kernel's page
// allocator and kernel-virtual physmap play for the engine under test
// or in a hosted (non-bare-metal) environment.
package pfalloc

import (
	"sync"
	"time"
	"unsafe"

	"golang.org/x/time/rate"

	"github.com/zircon-go/pagetables/pkg/log"
	"github.com/zircon-go/pagetables/pkg/pagetables"
)

const frameSize = 4096

// exhaustionLimiter throttles the out-of-frames warning to once per
// second: a caller hammering a full arena (e.g. retrying Map in a
// loop) should not flood the log once per attempt.
var exhaustionLimiter = rate.NewLimiter(rate.Every(time.Second), 1)

// Arena is a free-list-backed pool of frame-sized, frame-aligned
// storage. Its zero value is not usable; construct with NewArena.
type Arena struct {
	mu sync.Mutex

	// base is the arbitrary "physical address" assigned to frame 0.
	// Real addresses are synthetic; only relative layout matters to
	// the engine.
	base uintptr

	// storage backs every frame; frame i occupies
	// storage[i*frameSize : (i+1)*frameSize].
	storage []byte

	free frameFreeList

	// used tracks which frames have been handed out, for the
	// MMU-owned-on-free assertion.
	used map[uintptr]bool
}

// NewArena creates an Arena with room for n frames, based at an
// arbitrary non-zero synthetic physical address.
func NewArena(n uint32) *Arena {
	return &Arena{
		base:    0x1000,
		storage: make([]byte, uintptr(n)*frameSize),
		free:    newFrameFreeList(n),
		used:    make(map[uintptr]bool),
	}
}

// Allocator returns a pagetables.Allocator backed by this arena.
func (a *Arena) Allocator() pagetables.Allocator {
	return (*frameAllocator)(a)
}

type frameAllocator Arena

var _ pagetables.Allocator = (*frameAllocator)(nil)

func (f *frameAllocator) arena() *Arena { return (*Arena)(f) }

// NewPTEs implements pagetables.Allocator.NewPTEs.
func (f *frameAllocator) NewPTEs() (*pagetables.PTEs, uintptr, error) {
	a := f.arena()
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, err := a.free.claim()
	if err != nil {
		if exhaustionLimiter.Allow() {
			log.Warningf("pfalloc: out of frames")
		}
		return nil, 0, err
	}

	paddr := a.base + uintptr(idx)*frameSize
	a.used[paddr] = true

	start := uintptr(idx) * frameSize
	block := a.storage[start : start+frameSize]
	for i := range block {
		block[i] = 0
	}
	return (*pagetables.PTEs)(unsafe.Pointer(&block[0])), paddr, nil
}

// LookupPTEs implements pagetables.Allocator.LookupPTEs.
func (f *frameAllocator) LookupPTEs(physical uintptr) *pagetables.PTEs {
	a := f.arena()
	idx := (physical - a.base) / frameSize
	start := idx * frameSize
	return (*pagetables.PTEs)(unsafe.Pointer(&a.storage[start]))
}

// FreePTEs implements pagetables.Allocator.FreePTEs.
func (f *frameAllocator) FreePTEs(physical uintptr) {
	a := f.arena()
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.used[physical] {
		panic("pfalloc: freeing a frame that was not MMU-owned")
	}
	delete(a.used, physical)

	idx := uint32((physical - a.base) / frameSize)
	a.free.release(idx)
}
