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

package pagetables

// Policy is the set of hooks the engine consults so that one engine
// implementation serves both host paging structures and guest
// (nested) paging structures. An implementation may dispatch through
// this interface, through a sum type, or through monomorphization; the
// engine only depends on the interface.
type Policy interface {
	// TopLevel returns the highest level of this instance's tree.
	// Host tables use PML4; some nested formats top out at PDP.
	TopLevel() Level

	// CheckVaddr validates that [vaddr, vaddr+size) is an acceptable
	// virtual range for a mapping, returning InvalidArgs if not (e.g.
	// crosses the non-canonical gap, misaligned, or reaches into a
	// range reserved by policy).
	CheckVaddr(vaddr, size uintptr) error

	// CheckPaddr validates that [paddr, paddr+size) is an acceptable
	// physical range to map, returning InvalidArgs if not.
	CheckPaddr(paddr, size uintptr) error

	// AllowedFlags reports whether flags is a permission set this
	// instance is willing to install.
	AllowedFlags(flags MMUFlags) bool

	// IsKernelAddress reports whether vaddr lies in the kernel-owned
	// half of the address space. The engine does not enforce a
	// kernel/user split and does not call this hook itself; it is
	// available to callers (e.g. to decide global-bit eligibility).
	IsKernelAddress(vaddr uintptr) bool

	// NeedsCacheFlushes reports whether this instance's hardware page
	// walker is non-coherent and therefore requires explicit
	// cache-line writebacks before a TLB invalidation.
	NeedsCacheFlushes() bool

	// CacheLineBytes returns the processor's cache-line width, used to
	// size the flusher's coalescing mask.
	CacheLineBytes() uintptr

	// SupportsPageSize reports whether a terminal entry is permitted
	// at level for this instance.
	SupportsPageSize(level Level) bool

	// IntermediateFlags returns the entry bits used for an entry that
	// points at a sub-table.
	IntermediateFlags() IntermediateFlags

	// TerminalFlags translates an abstract MMU permission set into the
	// hardware bits for a terminal entry at level. The PS bit, if
	// applicable, is added separately by the entry-encoding layer.
	TerminalFlags(level Level, flags MMUFlags) TerminalFlags

	// SplitFlags derives the terminal flags for the 512 children
	// produced when a large entry at level is split. Both policies
	// return the parent's bits with PS cleared; the entry-encoding layer
	// then adds PS for a non-PT child level, so the children of a PDP
	// split are 2 MiB large entries and the children of a PD split are
	// 4 KiB terminals.
	SplitFlags(level Level, entryFlags TerminalFlags) TerminalFlags

	// PTFlagsToMMUFlags translates the hardware bits of a present
	// entry back into the abstract permission set reported by Query.
	PTFlagsToMMUFlags(entry PTE, level Level) MMUFlags

	// TLBInvalidatePage requests that the TLB driver shoot down any
	// cached translation for vaddr at level. isGlobal indicates the
	// prior entry carried the global bit; wasTerminal indicates the
	// prior entry mapped a page directly rather than pointing at a
	// sub-table. The engine guarantees the corresponding entry store
	// has already reached memory (via the cache-line flusher) before
	// calling this hook.
	TLBInvalidatePage(level Level, vaddr uintptr, isGlobal, wasTerminal bool)
}
