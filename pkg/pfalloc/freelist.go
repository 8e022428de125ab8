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

package pfalloc

import (
	"math/bits"

	"github.com/zircon-go/pagetables/pkg/pterrors"
)

// frameFreeList tracks which frames of an Arena are unallocated, one
// bit per frame, word-packed for a fast first-fit scan. It is the
// whole of what Arena needs from a bitmap: find-and-claim the first
// free index, and give an index back.
type frameFreeList struct {
	words []uint64
}

// newFrameFreeList returns a free list with every one of the first n
// frames marked free.
func newFrameFreeList(n uint32) frameFreeList {
	l := frameFreeList{words: make([]uint64, (n+63)/64)}
	for i := uint32(0); i < n; i++ {
		l.words[i/64] |= 1 << (i % 64)
	}
	return l
}

// claim finds the lowest-indexed free frame, marks it used, and
// returns its index.
func (l *frameFreeList) claim() (uint32, error) {
	for i, w := range l.words {
		if w == 0 {
			continue
		}
		bit := bits.TrailingZeros64(w)
		l.words[i] &^= 1 << uint(bit)
		return uint32(i)*64 + uint32(bit), nil
	}
	return 0, pterrors.New(pterrors.NoMemory, "no free frame")
}

// release marks frame i free again.
func (l *frameFreeList) release(i uint32) {
	l.words[i/64] |= 1 << (i % 64)
}
