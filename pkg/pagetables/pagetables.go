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

// Package pagetables implements an x86-64 multi-level page-table manager:
// a radix tree of hardware translation tables (PML4, PDP, PD, PT) that
// installs, removes and reprotects virtual-to-physical mappings, and
// answers translation queries, while keeping cache lines and the TLB
// coherent with a non-coherent hardware page walker.
package pagetables

import (
	"sync"

	"github.com/zircon-go/pagetables/pkg/pterrors"
)

// Level identifies one of the four hardware translation-table levels.
//
// Levels are ordered PT < PD < PDP < PML4, matching the direction of a
// page walk from leaf to root.
type Level int

const (
	// PT is the lowest level; every entry is terminal.
	PT Level = iota
	// PD may hold 2 MiB terminal entries or point at a PT.
	PD
	// PDP may hold 1 GiB terminal entries or point at a PD.
	PDP
	// PML4 never holds terminal entries.
	PML4
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case PT:
		return "PT"
	case PD:
		return "PD"
	case PDP:
		return "PDP"
	case PML4:
		return "PML4"
	default:
		return "invalid"
	}
}

// shift is the number of low bits of a virtual address consumed below
// this level; it is also the bit position of the index field for this
// level's entries.
func (l Level) shift() uint {
	switch l {
	case PT:
		return pteShift
	case PD:
		return pmdShift
	case PDP:
		return pudShift
	case PML4:
		return pgdShift
	}
	panic("invalid level")
}

// PageSize returns the size in bytes of a terminal mapping at this level.
// PML4 has no terminal size and returns 0.
func (l Level) PageSize() uintptr {
	switch l {
	case PT:
		return pteSize
	case PD:
		return pmdSize
	case PDP:
		return pudSize
	default:
		return 0
	}
}

// CanBeLarge reports whether a terminal (large) entry is permitted at
// this level. PT entries are always terminal but are never "large" in
// the split/promote sense; PML4 entries are never terminal.
func (l Level) CanBeLarge() bool {
	return l == PD || l == PDP
}

// lower returns the next level down the tree. It panics at PT.
func (l Level) lower() Level {
	if l == PT {
		panic("no level below PT")
	}
	return l - 1
}

// index returns the entry index within this level's table for vaddr.
func (l Level) index(vaddr uintptr) uintptr {
	return (vaddr >> l.shift()) & (entriesPerPage - 1)
}

// entryVaddr reconstructs the virtual address of the first byte covered
// by slot i of a table at this level, given the virtual address that
// selected the table itself (i.e. the high bits above this level).
func (l Level) entryVaddr(base uintptr, i uintptr) uintptr {
	return base + (i << l.shift())
}

// MMUFlags is the caller-facing, architecture-neutral permission and
// caching request passed to Map/Protect. It is translated to hardware
// entry bits by a Policy's TerminalFlags hook.
type MMUFlags uint32

const (
	// Read grants load access. It is implied by every mapping.
	Read MMUFlags = 1 << iota
	// Write grants store access.
	Write
	// Execute grants instruction-fetch access.
	Execute
	// User grants ring-3 (guest-supervisor, for nested tables) access.
	User
	// Global marks the mapping as valid across address-space switches.
	Global
	// CacheDisable disables caching, e.g. for MMIO.
	CacheDisable
	// WriteThrough forces write-through caching.
	WriteThrough
)

// PageTables is the unit of ownership exposed to callers: one hardware
// radix tree plus the bookkeeping needed to mutate it safely.
type PageTables struct {
	mu sync.Mutex

	// root is the physical address of the top-level table.
	root uintptr

	// pages is the number of physical frames currently held as table
	// storage: the root plus every live intermediate table.
	pages uintptr

	// policy specializes the engine for host or guest (nested) paging.
	policy Policy

	// allocator supplies and reclaims table-frame storage and maps
	// between physical addresses and kernel-accessible pointers.
	allocator Allocator
}

// New creates a PageTables instance with a freshly allocated, zeroed
// root table.
func New(allocator Allocator, policy Policy) *PageTables {
	_, root, err := allocator.NewPTEs()
	if err != nil {
		// The root allocation is not expected to fail in practice;
		// callers that need graceful handling should pre-reserve a
		// frame before calling New.
		panic(err)
	}
	return &PageTables{
		root:      root,
		pages:     1,
		policy:    policy,
		allocator: allocator,
	}
}

// Pages returns the number of physical frames currently held as table
// storage (root plus intermediates), for accounting and testing.
func (p *PageTables) Pages() uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages
}

// Root returns the physical address of the top-level table, for
// consumption by the CR3-load or nested-paging-pointer collaborator.
func (p *PageTables) Root() uintptr {
	return p.root
}

func (p *PageTables) rootPTEs() *PTEs {
	return p.allocator.LookupPTEs(p.root)
}

// MapPages installs a mapping from va to each of paddrs in turn, one
// 4 KiB page per frame. Because each frame gets its own single-page
// cursor, no large-page promotion is possible; this is the price of
// supporting non-contiguous physical backing. On any error the prefix
// already installed is unmapped before the error is returned, so a
// failed call leaves the address space exactly as it was found.
func (p *PageTables) MapPages(va uintptr, paddrs []uintptr, flags MMUFlags) (int, error) {
	if len(paddrs) == 0 {
		return 0, nil
	}
	if err := p.policy.CheckVaddr(va, uintptr(len(paddrs))*pteSize); err != nil {
		return 0, err
	}
	for _, pa := range paddrs {
		if err := p.policy.CheckPaddr(pa, pteSize); err != nil {
			return 0, err
		}
	}
	if !p.policy.AllowedFlags(flags) {
		return 0, pterrors.New(pterrors.InvalidArgs, "flags not permitted by policy")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	flusher := newCacheLineFlusher(p.policy.CacheLineBytes(), p.policy.NeedsCacheFlushes())
	defer flusher.Release()

	for i, pa := range paddrs {
		cursor := MappingCursor{vaddr: va + uintptr(i)*pteSize, paddr: pa, size: pteSize}
		if err := p.mapLocked(&cursor, flags, flusher); err != nil {
			// Undo exactly the prefix already installed.
			if i > 0 {
				p.unmapLocked(&MappingCursor{vaddr: va, size: uintptr(i) * pteSize}, flusher)
			}
			return 0, err
		}
	}
	return len(paddrs), nil
}

// MapPagesContiguous installs a single mapping covering n pages of
// physically contiguous memory starting at pa. Unlike MapPages, this
// uses one cursor for the whole range, so the engine may promote to
// 2 MiB or 1 GiB terminal entries whenever alignment and remaining
// size permit.
func (p *PageTables) MapPagesContiguous(va, pa uintptr, n uintptr, flags MMUFlags) (uintptr, error) {
	if n == 0 {
		return 0, nil
	}
	size := n * pteSize
	if err := p.policy.CheckVaddr(va, size); err != nil {
		return 0, err
	}
	if err := p.policy.CheckPaddr(pa, size); err != nil {
		return 0, err
	}
	if !p.policy.AllowedFlags(flags) {
		return 0, pterrors.New(pterrors.InvalidArgs, "flags not permitted by policy")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	flusher := newCacheLineFlusher(p.policy.CacheLineBytes(), p.policy.NeedsCacheFlushes())
	defer flusher.Release()

	cursor := MappingCursor{vaddr: va, paddr: pa, size: size}
	original := cursor
	if err := p.mapLocked(&cursor, flags, flusher); err != nil {
		completed := original.size - cursor.size
		if completed > 0 {
			p.unmapLocked(&MappingCursor{vaddr: original.vaddr, size: completed}, flusher)
		}
		return 0, err
	}
	return n, nil
}

// UnmapPages removes any mapping covering [va, va+n*4KiB). Missing
// slots are silently skipped; this is not an error.
func (p *PageTables) UnmapPages(va uintptr, n uintptr) (uintptr, error) {
	if n == 0 {
		return 0, nil
	}
	size := n * pteSize
	if err := p.policy.CheckVaddr(va, size); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	flusher := newCacheLineFlusher(p.policy.CacheLineBytes(), p.policy.NeedsCacheFlushes())
	defer flusher.Release()

	cursor := MappingCursor{vaddr: va, size: size}
	p.unmapLocked(&cursor, flusher)
	return n, nil
}

// ProtectPages rewrites the permission/caching flags of every mapped
// page in [va, va+n*4KiB), preserving physical backing. Holes in the
// range are skipped, not errors.
func (p *PageTables) ProtectPages(va uintptr, n uintptr, flags MMUFlags) error {
	if n == 0 {
		return nil
	}
	size := n * pteSize
	if err := p.policy.CheckVaddr(va, size); err != nil {
		return err
	}
	if !p.policy.AllowedFlags(flags) {
		return pterrors.New(pterrors.InvalidArgs, "flags not permitted by policy")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	flusher := newCacheLineFlusher(p.policy.CacheLineBytes(), p.policy.NeedsCacheFlushes())
	defer flusher.Release()

	cursor := MappingCursor{vaddr: va, size: size}
	p.protectLocked(&cursor, flags, flusher)
	return nil
}

// QueryVaddr returns the physical address and flags of the page
// covering va, or a NotFound error if no terminal entry covers it.
func (p *PageTables) QueryVaddr(va uintptr) (uintptr, MMUFlags, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queryLocked(va)
}

// Destroy releases the root table. The caller must have already
// unmapped every range it owns within [base, base+size); when
// debugAssertionsEnabled is set (the default), Destroy checks this by
// scanning only the top-level slots fully contained in that window,
// and panics if one of them is live.
//
// The scan deliberately excludes the window's boundary slots unless
// they are fully covered: a host PML4's upper half is commonly shared
// with other address spaces (kernel mappings installed once and
// visible from every user aspace), so a user aspace's Destroy must
// never inspect slots it doesn't exclusively own.
func (p *PageTables) Destroy(base, size uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if debugAssertionsEnabled && size > 0 {
		top := p.policy.TopLevel()
		slotSize := uintptr(1) << top.shift()
		first := (base + slotSize - 1) / slotSize // round up: exclude a partial leading slot
		last := (base + size) / slotSize           // round down: exclude a partial trailing slot

		root := p.rootPTEs()
		for raw := first; raw < last; raw++ {
			i := raw & (entriesPerPage - 1)
			if root[i].Valid() {
				panic("Destroy called with a live top-level entry inside its window")
			}
		}
	}
	p.allocator.FreePTEs(p.root)
	p.pages--
}
