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

// Allocator is the external physical-frame-allocator and physmap
// contract the engine consumes when it needs table storage. It
// combines "allocate/free a table frame" with "translate a physical
// address owned by this instance back to a kernel-accessible
// pointer", since every caller of LookupPTEs already holds a physical
// address obtained from this same allocator.
type Allocator interface {
	// NewPTEs allocates and zeroes a fresh table frame, returning both
	// a kernel-virtual pointer usable to read/write the table and its
	// physical address. It returns a NoMemory error if no frame is
	// available.
	NewPTEs() (*PTEs, uintptr, error)

	// LookupPTEs returns the kernel-virtual pointer to the table at
	// physical address physical. physical must have been returned by
	// a prior NewPTEs call on this allocator that has not since been
	// freed.
	LookupPTEs(physical uintptr) *PTEs

	// FreePTEs returns the frame at physical to the allocator. The
	// frame must currently be marked MMU-owned; the allocator is
	// responsible for asserting that invariant.
	FreePTEs(physical uintptr)
}
