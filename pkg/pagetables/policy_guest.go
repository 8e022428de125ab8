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

import "github.com/zircon-go/pagetables/pkg/pterrors"

// GuestPolicy implements Policy for second-level (nested/EPT-style)
// address translation. It shares the engine with HostPolicy but
// differs in the particulars the engine consults through the Policy
// interface: the guest-physical address space has no non-canonical
// gap to avoid, 1 GiB translations are not assumed supported, and
// invalidation goes through an INVEPT-style collaborator rather than
// a local INVLPG, since the structures are walked only by the
// hypervisor's second-level translation and not by ordinary CPU
// instruction fetch/load/store on this core.
type GuestPolicy struct {
	// Invalidate receives nested-TLB invalidation requests. May be
	// nil, in which case TLBInvalidatePage is a no-op (acceptable only
	// when the caller flushes the entire nested TLB out of band, e.g.
	// around a VM-entry).
	Invalidate ShootdownFunc

	// MaxGuestPhysical bounds the guest-physical address space size;
	// zero means unbounded.
	MaxGuestPhysical uintptr
}

var _ Policy = (*GuestPolicy)(nil)

// TopLevel implements Policy.TopLevel.
func (g *GuestPolicy) TopLevel() Level { return PML4 }

// CheckVaddr implements Policy.CheckVaddr. Guest-physical addresses
// have no non-canonical gap; only page alignment and the optional
// upper bound are enforced.
func (g *GuestPolicy) CheckVaddr(vaddr, size uintptr) error {
	if size == 0 {
		return nil
	}
	if vaddr%pteSize != 0 || size%pteSize != 0 {
		return pterrors.New(pterrors.InvalidArgs, "vaddr or size not page-aligned")
	}
	end := vaddr + size - 1
	if end < vaddr {
		return pterrors.New(pterrors.InvalidArgs, "vaddr range overflows")
	}
	if g.MaxGuestPhysical != 0 && end >= g.MaxGuestPhysical {
		return pterrors.New(pterrors.InvalidArgs, "vaddr range exceeds guest-physical limit")
	}
	return nil
}

// CheckPaddr implements Policy.CheckPaddr.
func (g *GuestPolicy) CheckPaddr(paddr, size uintptr) error {
	if size == 0 {
		return nil
	}
	if paddr%pteSize != 0 || size%pteSize != 0 {
		return pterrors.New(pterrors.InvalidArgs, "paddr or size not page-aligned")
	}
	if paddr+size < paddr {
		return pterrors.New(pterrors.InvalidArgs, "paddr range overflows")
	}
	return nil
}

// AllowedFlags implements Policy.AllowedFlags. The guest may request
// any combination; the host's own policy is what actually restricts
// the backing memory.
func (g *GuestPolicy) AllowedFlags(flags MMUFlags) bool { return true }

// IsKernelAddress implements Policy.IsKernelAddress. There is no
// kernel/user split at the nested level.
func (g *GuestPolicy) IsKernelAddress(vaddr uintptr) bool { return false }

// NeedsCacheFlushes implements Policy.NeedsCacheFlushes. Nested
// translation structures are walked by the same coherent memory
// hierarchy as ordinary guest memory, so no explicit writeback is
// required before invalidation.
func (g *GuestPolicy) NeedsCacheFlushes() bool { return false }

// CacheLineBytes implements Policy.CacheLineBytes.
func (g *GuestPolicy) CacheLineBytes() uintptr { return 64 }

// SupportsPageSize implements Policy.SupportsPageSize. 1 GiB nested
// pages are not assumed available.
func (g *GuestPolicy) SupportsPageSize(level Level) bool {
	return level == PT || level == PD
}

// IntermediateFlags implements Policy.IntermediateFlags.
func (g *GuestPolicy) IntermediateFlags() IntermediateFlags {
	return IntermediateFlags(writable | user)
}

// TerminalFlags implements Policy.TerminalFlags.
func (g *GuestPolicy) TerminalFlags(level Level, flags MMUFlags) TerminalFlags {
	var bits uintptr
	if flags&Write != 0 {
		bits |= writable
	}
	bits |= user // every nested entry is guest-accessible by construction
	if flags&Execute == 0 {
		bits |= executeDisable
	}
	if flags&CacheDisable != 0 {
		bits |= cacheDisable
	}
	return TerminalFlags(bits)
}

// SplitFlags implements Policy.SplitFlags.
func (g *GuestPolicy) SplitFlags(level Level, entryFlags TerminalFlags) TerminalFlags {
	return entryFlags &^ TerminalFlags(psBit)
}

// PTFlagsToMMUFlags implements Policy.PTFlagsToMMUFlags.
func (g *GuestPolicy) PTFlagsToMMUFlags(entry PTE, level Level) MMUFlags {
	raw := uintptr(entry)
	flags := Read
	if raw&writable != 0 {
		flags |= Write
	}
	if raw&executeDisable == 0 {
		flags |= Execute
	}
	if raw&cacheDisable != 0 {
		flags |= CacheDisable
	}
	return flags
}

// TLBInvalidatePage implements Policy.TLBInvalidatePage.
func (g *GuestPolicy) TLBInvalidatePage(level Level, vaddr uintptr, isGlobal, wasTerminal bool) {
	if g.Invalidate != nil {
		g.Invalidate(level, vaddr, isGlobal, wasTerminal)
	}
}
