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

// MappingCursor is the mutable (vaddr, paddr, size) triple threaded
// through the recursive engine. size is always a multiple of 4 KiB and
// vaddr is always 4 KiB-aligned; on entry to any engine call the
// cursor describes exactly the work remaining.
type MappingCursor struct {
	vaddr uintptr
	paddr uintptr
	size  uintptr
}

// SkipEntry advances the cursor past a not-present entry covering
// entrySize bytes, clamping the advance to the cursor's remaining size
// so the cursor never overshoots the caller's requested range.
func (c *MappingCursor) SkipEntry(entrySize uintptr) {
	if entrySize > c.size {
		entrySize = c.size
	}
	c.vaddr += entrySize
	c.paddr += entrySize
	c.size -= entrySize
}

// consume advances the cursor by exactly entrySize, used after
// installing or clearing a mapping. entrySize must not exceed the
// cursor's remaining size.
func (c *MappingCursor) consume(entrySize uintptr) {
	c.vaddr += entrySize
	c.paddr += entrySize
	c.size -= entrySize
}

// empty reports whether the cursor has no remaining work.
func (c *MappingCursor) empty() bool {
	return c.size == 0
}
