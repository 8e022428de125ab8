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

// debugAssertionsEnabled gates Destroy's check of its precondition (no
// live top-level entry inside its window). It is left on by default.
// It is the only assertion the package makes: input alignment is
// validated by the Policy checks regardless of this flag, and the
// engine does not assert cursor monotonicity or page-count conservation.
var debugAssertionsEnabled = true

// updateEntryTerminal installs a page-mapping entry, flushing the
// write and invalidating the TLB if (and only if) the entry was
// previously present, per the UpdateEntry primitive.
func (p *PageTables) updateEntryTerminal(flusher *cacheLineFlusher, level Level, vaddr uintptr, entry *PTE, paddr uintptr, flags TerminalFlags, wasTerminal bool) {
	wasPresent := entry.Valid()
	wasGlobal := PTE(*entry)&global != 0
	entry.setTerminal(level, paddr, flags)
	flusher.Track(entry)
	if wasPresent {
		flusher.Force()
		p.policy.TLBInvalidatePage(level, vaddr, wasGlobal, wasTerminal)
	}
}

// updateEntryIntermediate installs an entry pointing at a sub-table,
// under the same UpdateEntry rules as updateEntryTerminal.
func (p *PageTables) updateEntryIntermediate(flusher *cacheLineFlusher, level Level, vaddr uintptr, entry *PTE, paddr uintptr, flags IntermediateFlags, wasTerminal bool) {
	wasPresent := entry.Valid()
	wasGlobal := PTE(*entry)&global != 0
	entry.setIntermediate(paddr, flags)
	flusher.Track(entry)
	if wasPresent {
		flusher.Force()
		p.policy.TLBInvalidatePage(level, vaddr, wasGlobal, wasTerminal)
	}
}

// unmapEntry clears entry, flushing and invalidating exactly like the
// update primitives. entry must currently be present.
func (p *PageTables) unmapEntry(flusher *cacheLineFlusher, level Level, vaddr uintptr, entry *PTE, wasTerminal bool) {
	wasGlobal := PTE(*entry)&global != 0
	entry.clear()
	flusher.Track(entry)
	flusher.Force()
	p.policy.TLBInvalidatePage(level, vaddr, wasGlobal, wasTerminal)
}

// allEmpty reports whether every entry in t is not present.
func allEmpty(t *PTEs) bool {
	for i := range t {
		if t[i].Valid() {
			return false
		}
	}
	return true
}

// slotSpan computes, for the entry at c.vaddr's index within level's
// table, the offset of c.vaddr within that slot and how much of the
// cursor's remaining size falls within it.
func slotSpan(level Level, c *MappingCursor) (offset, remaining uintptr) {
	slotSize := uintptr(1) << level.shift()
	offset = c.vaddr & (slotSize - 1)
	remaining = slotSize - offset
	if remaining > c.size {
		remaining = c.size
	}
	return offset, remaining
}

// mapLocked drives the Map engine from the top level, given the
// caller already holds p.mu.
func (p *PageTables) mapLocked(c *MappingCursor, flags MMUFlags, flusher *cacheLineFlusher) error {
	return p.mapLevel(p.policy.TopLevel(), p.rootPTEs(), c, flags, flusher)
}

// mapLevel installs terminal mappings for c's range within table, at
// level, recursing into sub-tables as needed. It implements §4.4.1.
func (p *PageTables) mapLevel(level Level, table *PTEs, c *MappingCursor, flags MMUFlags, flusher *cacheLineFlusher) error {
	for i := level.index(c.vaddr); i < entriesPerPage && !c.empty(); i++ {
		entry := &table[i]

		if level == PT {
			if entry.Valid() {
				return pterrors.New(pterrors.AlreadyExists, "page already mapped")
			}
			p.updateEntryTerminal(flusher, PT, c.vaddr, entry, c.paddr, p.policy.TerminalFlags(PT, flags), true)
			c.consume(pteSize)
			continue
		}

		if entry.Valid() && entry.Large() {
			return pterrors.New(pterrors.AlreadyExists, "large page already mapped")
		}

		pageSize := level.PageSize()
		if !entry.Valid() && level.CanBeLarge() && p.policy.SupportsPageSize(level) &&
			c.vaddr%pageSize == 0 && c.paddr%pageSize == 0 && c.size >= pageSize {
			p.updateEntryTerminal(flusher, level, c.vaddr, entry, c.paddr, p.policy.TerminalFlags(level, flags), true)
			c.consume(pageSize)
			continue
		}

		var subTable *PTEs
		fresh := !entry.Valid()
		if fresh {
			newTable, newPaddr, err := p.allocator.NewPTEs()
			if err != nil {
				return err
			}
			p.updateEntryIntermediate(flusher, level, c.vaddr, entry, newPaddr, p.policy.IntermediateFlags(), false)
			p.pages++
			subTable = newTable
		} else {
			subTable = p.allocator.LookupPTEs(entry.Address())
		}

		offset, remaining := slotSpan(level, c)
		sub := MappingCursor{vaddr: c.vaddr, paddr: c.paddr, size: remaining}
		err := p.mapLevel(level.lower(), subTable, &sub, flags, flusher)
		consumed := remaining - sub.size
		c.consume(consumed)
		if err != nil {
			if fresh && allEmpty(subTable) {
				// Nothing was installed beneath the table this call just
				// allocated; release it so the failure leaves no empty
				// intermediate table behind.
				childAddr := entry.Address()
				p.unmapEntry(flusher, level, c.vaddr-offset, entry, false)
				p.allocator.FreePTEs(childAddr)
				p.pages--
			}
			return err
		}
	}
	return nil
}

// splitLarge converts the large entry at level (present at *entry,
// covering baseVaddr) into an intermediate entry pointing at 512
// children at level.lower(), per §4.4.4. It returns the new sub-table,
// or a NoMemory error if the child frame could not be allocated (in
// which case entry is left unmodified).
func (p *PageTables) splitLarge(level Level, entry *PTE, flusher *cacheLineFlusher, baseVaddr uintptr) (*PTEs, error) {
	newTable, newPaddr, err := p.allocator.NewPTEs()
	if err != nil {
		return nil, err
	}

	lower := level.lower()
	origAddr := entry.Address()
	origFlags := p.policy.SplitFlags(level, entry.terminalFlags())
	childSize := lower.PageSize()

	for i := 0; i < entriesPerPage; i++ {
		childAddr := origAddr + uintptr(i)*childSize
		newTable[i].setTerminal(lower, childAddr, origFlags)
	}

	p.updateEntryIntermediate(flusher, level, baseVaddr, entry, newPaddr, p.policy.IntermediateFlags(), true)
	p.pages++
	return newTable, nil
}

// unmapLocked drives the Unmap engine from the top level.
func (p *PageTables) unmapLocked(c *MappingCursor, flusher *cacheLineFlusher) bool {
	return p.unmapLevel(p.policy.TopLevel(), p.rootPTEs(), c, flusher)
}

// unmapLevel clears terminal mappings for c's range within table, at
// level, freeing intermediate tables that become empty. It implements
// §4.4.2 and reports whether it unmapped anything at or below level.
func (p *PageTables) unmapLevel(level Level, table *PTEs, c *MappingCursor, flusher *cacheLineFlusher) bool {
	unmappedAny := false

	for i := level.index(c.vaddr); i < entriesPerPage && !c.empty(); i++ {
		entry := &table[i]
		offset, remaining := slotSpan(level, c)
		alignedFull := offset == 0 && remaining == (uintptr(1)<<level.shift())

		if !entry.Valid() {
			c.SkipEntry(remaining)
			continue
		}

		if level == PT {
			p.unmapEntry(flusher, PT, c.vaddr, entry, true)
			c.consume(pteSize)
			unmappedAny = true
			continue
		}

		if entry.Large() {
			if alignedFull {
				p.unmapEntry(flusher, level, c.vaddr-offset, entry, true)
				c.consume(remaining)
				unmappedAny = true
				continue
			}
			if _, err := p.splitLarge(level, entry, flusher, c.vaddr-offset); err != nil {
				// Deliberate best-effort degradation: clear the whole
				// large entry and let a subsequent fault refill it.
				p.unmapEntry(flusher, level, c.vaddr-offset, entry, true)
				c.SkipEntry(remaining)
				unmappedAny = true
				continue
			}
			// entry is now intermediate; fall through to recurse.
		}

		childAddr := entry.Address()
		subTable := p.allocator.LookupPTEs(childAddr)
		sub := MappingCursor{vaddr: c.vaddr, size: remaining}
		childUnmapped := p.unmapLevel(level.lower(), subTable, &sub, flusher)
		unmappedAny = unmappedAny || childUnmapped

		freeSubtable := alignedFull || (childUnmapped && allEmpty(subTable))
		if freeSubtable {
			p.unmapEntry(flusher, level, c.vaddr-offset, entry, false)
			p.allocator.FreePTEs(childAddr)
			p.pages--
		}
		c.consume(remaining)
	}

	return unmappedAny
}

// protectLocked drives the Protect engine from the top level.
func (p *PageTables) protectLocked(c *MappingCursor, flags MMUFlags, flusher *cacheLineFlusher) {
	p.protectLevel(p.policy.TopLevel(), p.rootPTEs(), c, flags, flusher)
}

// protectLevel rewrites the flags of every present terminal entry in
// c's range within table, at level, splitting large entries that are
// only partially covered. It implements §4.4.3.
func (p *PageTables) protectLevel(level Level, table *PTEs, c *MappingCursor, flags MMUFlags, flusher *cacheLineFlusher) {
	for i := level.index(c.vaddr); i < entriesPerPage && !c.empty(); i++ {
		entry := &table[i]
		offset, remaining := slotSpan(level, c)
		alignedFull := offset == 0 && remaining == (uintptr(1)<<level.shift())

		if !entry.Valid() {
			c.SkipEntry(remaining)
			continue
		}

		if level == PT || entry.Large() {
			if alignedFull {
				p.updateEntryTerminal(flusher, level, c.vaddr-offset, entry, entry.Address(), p.policy.TerminalFlags(level, flags), true)
				c.consume(remaining)
				continue
			}
			if _, err := p.splitLarge(level, entry, flusher, c.vaddr-offset); err != nil {
				// Degrade: drop just this one page; a subsequent
				// fault can refill it under the new policy.
				p.unmapEntry(flusher, level, c.vaddr-offset, entry, true)
				c.SkipEntry(remaining)
				continue
			}
			// entry is now intermediate; fall through to recurse.
		}

		subTable := p.allocator.LookupPTEs(entry.Address())
		sub := MappingCursor{vaddr: c.vaddr, size: remaining}
		p.protectLevel(level.lower(), subTable, &sub, flags, flusher)
		c.consume(remaining)
	}
}

// queryLocked implements §4.4.5.
func (p *PageTables) queryLocked(va uintptr) (uintptr, MMUFlags, error) {
	level := p.policy.TopLevel()
	table := p.rootPTEs()

	for {
		entry := &table[level.index(va)]
		if !entry.Valid() {
			return 0, 0, pterrors.New(pterrors.NotFound, "no mapping for address")
		}
		if level == PT || entry.Large() {
			frame := entry.Address()
			pa := frame | (va & (level.PageSize() - 1))
			return pa, p.policy.PTFlagsToMMUFlags(*entry, level), nil
		}
		table = p.allocator.LookupPTEs(entry.Address())
		level = level.lower()
	}
}
