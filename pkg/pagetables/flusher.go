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

import "unsafe"

// cacheLineFlusher is a scoped accumulator that coalesces cache-line
// writebacks of modified page-table entries. It tracks at most one
// dirty cache-line address; touching a different line forces a flush
// of the previous one, and Release forces a final flush. When disabled
// (the hardware page walker is cache-coherent), every operation is a
// no-op.
type cacheLineFlusher struct {
	enabled  bool
	lineMask uintptr
	dirty    uintptr
	hasDirty bool
}

// newCacheLineFlusher constructs a flusher for the given cache-line
// width. lineBytes must be a power of two; it is queried from the
// policy's CacheLineBytes hook.
func newCacheLineFlusher(lineBytes uintptr, enabled bool) *cacheLineFlusher {
	return &cacheLineFlusher{
		enabled:  enabled,
		lineMask: lineBytes - 1,
	}
}

// Track records that entry has been written and needs a writeback
// before the next TLB invalidation that depends on it. If entry falls
// on a different cache line than the currently tracked one, the
// previous line is flushed immediately.
func (f *cacheLineFlusher) Track(entry *PTE) {
	if !f.enabled {
		return
	}
	addr := uintptr(unsafe.Pointer(entry)) &^ f.lineMask
	if f.hasDirty && addr == f.dirty {
		return
	}
	if f.hasDirty {
		f.flushLine(f.dirty)
	}
	f.dirty = addr
	f.hasDirty = true
}

// Force flushes the currently dirty line, if any, immediately. It must
// be called after any entry write and before the TLB invalidation for
// that entry, to keep a non-coherent page walker from racing ahead of
// the shootdown.
func (f *cacheLineFlusher) Force() {
	if !f.enabled || !f.hasDirty {
		return
	}
	f.flushLine(f.dirty)
	f.hasDirty = false
}

// Release runs the flusher's exit action; it must be called on every
// path out of the mutation region it scopes (normal return, error
// return, or panic via a deferred call).
func (f *cacheLineFlusher) Release() {
	f.Force()
}

func (f *cacheLineFlusher) flushLine(addr uintptr) {
	clflushopt(addr)
	mfence()
}
