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

// ShootdownFunc is the external TLB driver's remote-invalidation
// collaborator. It is invoked after the corresponding entry store has
// reached memory. A nil ShootdownFunc means only the local CPU's TLB
// is invalidated, appropriate for a single-CPU test harness.
type ShootdownFunc func(level Level, vaddr uintptr, isGlobal, wasTerminal bool)

// HostPolicy implements Policy for the primary, four-level host
// address space: PML4 at the top, the canonical kernel/user split at
// the non-canonical gap, and a caller-supplied predicate deciding
// which half of the split counts as "kernel".
type HostPolicy struct {
	// KernelPredicate reports whether vaddr belongs to the kernel.
	// The engine does not use this to enforce a split; it is only
	// consulted by IsKernelAddress for callers that need it (e.g. to
	// decide eligibility for the global bit). If nil, addresses at or
	// above upperBottom are treated as kernel.
	KernelPredicate func(vaddr uintptr) bool

	// AllowExecutableWritable permits a single mapping to request both
	// Write and Execute. Most kernels refuse this; it defaults to
	// false.
	AllowExecutableWritable bool

	// Shootdown receives TLB invalidation requests for propagation to
	// other CPUs. May be nil.
	Shootdown ShootdownFunc
}

var _ Policy = (*HostPolicy)(nil)

// TopLevel implements Policy.TopLevel.
func (h *HostPolicy) TopLevel() Level { return PML4 }

// CheckVaddr implements Policy.CheckVaddr.
func (h *HostPolicy) CheckVaddr(vaddr, size uintptr) error {
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
	if vaddr <= lowerTop {
		if end > lowerTop {
			return pterrors.New(pterrors.InvalidArgs, "vaddr range crosses the non-canonical gap")
		}
		return nil
	}
	if vaddr >= upperBottom {
		return nil
	}
	return pterrors.New(pterrors.InvalidArgs, "vaddr lies in the non-canonical gap")
}

// CheckPaddr implements Policy.CheckPaddr.
func (h *HostPolicy) CheckPaddr(paddr, size uintptr) error {
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

// AllowedFlags implements Policy.AllowedFlags.
func (h *HostPolicy) AllowedFlags(flags MMUFlags) bool {
	if !h.AllowExecutableWritable && flags&Write != 0 && flags&Execute != 0 {
		return false
	}
	return true
}

// IsKernelAddress implements Policy.IsKernelAddress.
func (h *HostPolicy) IsKernelAddress(vaddr uintptr) bool {
	if h.KernelPredicate != nil {
		return h.KernelPredicate(vaddr)
	}
	return vaddr >= upperBottom
}

// NeedsCacheFlushes implements Policy.NeedsCacheFlushes. The host page
// walker is not guaranteed cache-coherent, so this is always true.
func (h *HostPolicy) NeedsCacheFlushes() bool { return true }

// CacheLineBytes implements Policy.CacheLineBytes.
func (h *HostPolicy) CacheLineBytes() uintptr { return 64 }

// SupportsPageSize implements Policy.SupportsPageSize.
func (h *HostPolicy) SupportsPageSize(level Level) bool {
	return level == PT || level == PD || level == PDP
}

// IntermediateFlags implements Policy.IntermediateFlags. Intermediate
// entries are maximally permissive; the leaf terminal entry is what
// actually restricts access.
func (h *HostPolicy) IntermediateFlags() IntermediateFlags {
	return IntermediateFlags(writable | user)
}

// TerminalFlags implements Policy.TerminalFlags.
func (h *HostPolicy) TerminalFlags(level Level, flags MMUFlags) TerminalFlags {
	var bits uintptr
	if flags&Write != 0 {
		bits |= writable
	}
	if flags&User != 0 {
		bits |= user
	}
	if flags&Global != 0 {
		bits |= global
	}
	if flags&CacheDisable != 0 {
		bits |= cacheDisable
	}
	if flags&WriteThrough != 0 {
		bits |= writeThrough
	}
	if flags&Execute == 0 {
		bits |= executeDisable
	}
	return TerminalFlags(bits)
}

// SplitFlags implements Policy.SplitFlags. A split never changes
// permissions, so the children inherit the parent's flag bits
// verbatim; the PS bit appropriate to the child level is added
// separately by the entry-encoding layer.
func (h *HostPolicy) SplitFlags(level Level, entryFlags TerminalFlags) TerminalFlags {
	return entryFlags &^ TerminalFlags(psBit)
}

// PTFlagsToMMUFlags implements Policy.PTFlagsToMMUFlags.
func (h *HostPolicy) PTFlagsToMMUFlags(entry PTE, level Level) MMUFlags {
	raw := uintptr(entry)
	flags := Read
	if raw&writable != 0 {
		flags |= Write
	}
	if raw&executeDisable == 0 {
		flags |= Execute
	}
	if raw&user != 0 {
		flags |= User
	}
	if raw&global != 0 {
		flags |= Global
	}
	if raw&cacheDisable != 0 {
		flags |= CacheDisable
	}
	if raw&writeThrough != 0 {
		flags |= WriteThrough
	}
	return flags
}

// TLBInvalidatePage implements Policy.TLBInvalidatePage.
func (h *HostPolicy) TLBInvalidatePage(level Level, vaddr uintptr, isGlobal, wasTerminal bool) {
	invlpg(vaddr)
	if h.Shootdown != nil {
		h.Shootdown(level, vaddr, isGlobal, wasTerminal)
	}
}
