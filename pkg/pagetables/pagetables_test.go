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

package pagetables_test

import (
	"testing"

	"github.com/zircon-go/pagetables/pkg/pagetables"
	"github.com/zircon-go/pagetables/pkg/pfalloc"
	"github.com/zircon-go/pagetables/pkg/pterrors"
)

func newTestPageTables(frames uint32) *pagetables.PageTables {
	arena := pfalloc.NewArena(frames)
	return pagetables.New(arena.Allocator(), &pagetables.HostPolicy{})
}

func TestMapQueryUnmapSinglePage(t *testing.T) {
	pt := newTestPageTables(64)

	const va = uintptr(0x0000700000000000)
	const pa = uintptr(0x0000000010000000)

	base := pt.Pages()
	if n, err := pt.MapPagesContiguous(va, pa, 1, pagetables.Read|pagetables.Write); err != nil || n != 1 {
		t.Fatalf("MapPagesContiguous: n=%d err=%v", n, err)
	}
	if got := pt.Pages(); got != base+3 {
		t.Fatalf("pages after single-page map = %d, want %d", got, base+3)
	}

	gotPa, flags, err := pt.QueryVaddr(va)
	if err != nil {
		t.Fatalf("QueryVaddr: %v", err)
	}
	if gotPa != pa {
		t.Fatalf("QueryVaddr paddr = %#x, want %#x", gotPa, pa)
	}
	if flags&pagetables.Write == 0 {
		t.Fatalf("QueryVaddr flags = %#x, want Write set", flags)
	}

	if _, err := pt.UnmapPages(va, 1); err != nil {
		t.Fatalf("UnmapPages: %v", err)
	}
	if got := pt.Pages(); got != base {
		t.Fatalf("pages after unmap = %d, want %d", got, base)
	}
	if _, _, err := pt.QueryVaddr(va); !pterrors.Is(err, pterrors.NotFound) {
		t.Fatalf("QueryVaddr after unmap = %v, want NotFound", err)
	}
}

func TestMapContiguousPromotesToLargePage(t *testing.T) {
	pt := newTestPageTables(64)

	const va = uintptr(0x0000000000200000) // 2 MiB aligned
	const pa = uintptr(0x0000000100000000) // 4 GiB, 2 MiB aligned

	base := pt.Pages()
	if n, err := pt.MapPagesContiguous(va, pa, 512, pagetables.Read|pagetables.Write); err != nil || n != 512 {
		t.Fatalf("MapPagesContiguous: n=%d err=%v", n, err)
	}
	// One PDP entry, one PD large entry; no PT.
	if got := pt.Pages(); got != base+2 {
		t.Fatalf("pages after 2MiB promotion = %d, want %d", got, base+2)
	}

	first, _, err := pt.QueryVaddr(va)
	if err != nil || first != pa {
		t.Fatalf("QueryVaddr(first) = (%#x, %v), want %#x", first, err, pa)
	}
	last, _, err := pt.QueryVaddr(va + 511*pagetables.PteSizeForTest)
	if err != nil || last != pa+511*pagetables.PteSizeForTest {
		t.Fatalf("QueryVaddr(last) = (%#x, %v), want %#x", last, err, pa+511*pagetables.PteSizeForTest)
	}

	if _, err := pt.UnmapPages(va, 512); err != nil {
		t.Fatalf("UnmapPages: %v", err)
	}
	if got := pt.Pages(); got != base {
		t.Fatalf("pages after unmapping large page = %d, want %d", got, base)
	}
}

func TestMapOverlapRejected(t *testing.T) {
	pt := newTestPageTables(64)

	const va = uintptr(0x0000000000200000)
	const pa = uintptr(0x0000000100000000)

	if _, err := pt.MapPagesContiguous(va, pa, 512, pagetables.Read|pagetables.Write); err != nil {
		t.Fatalf("initial map: %v", err)
	}
	before := pt.Pages()

	if _, err := pt.MapPagesContiguous(va, 0, 1, pagetables.Read|pagetables.Write); !pterrors.Is(err, pterrors.AlreadyExists) {
		t.Fatalf("overlapping map = %v, want AlreadyExists", err)
	}
	if got := pt.Pages(); got != before {
		t.Fatalf("pages changed after rejected map: got %d, want %d", got, before)
	}
}

func TestProtectSplitsLargePage(t *testing.T) {
	pt := newTestPageTables(64)

	const va = uintptr(0x0000000000200000)
	const pa = uintptr(0x0000000100000000)

	if _, err := pt.MapPagesContiguous(va, pa, 512, pagetables.Read|pagetables.Write); err != nil {
		t.Fatalf("initial map: %v", err)
	}
	before := pt.Pages()

	if err := pt.ProtectPages(va+3*pagetables.PteSizeForTest, 2, pagetables.Read); err != nil {
		t.Fatalf("ProtectPages: %v", err)
	}
	if got := pt.Pages(); got != before+1 {
		t.Fatalf("pages after split-protect = %d, want %d", got, before+1)
	}

	for i := uintptr(3); i < 5; i++ {
		gotPa, flags, err := pt.QueryVaddr(va + i*pagetables.PteSizeForTest)
		if err != nil {
			t.Fatalf("QueryVaddr(%d): %v", i, err)
		}
		if gotPa != pa+i*pagetables.PteSizeForTest {
			t.Fatalf("QueryVaddr(%d) paddr = %#x, want %#x", i, gotPa, pa+i*pagetables.PteSizeForTest)
		}
		if flags&pagetables.Write != 0 {
			t.Fatalf("QueryVaddr(%d) flags = %#x, want Write cleared", i, flags)
		}
	}

	gotPa, flags, err := pt.QueryVaddr(va + 5*pagetables.PteSizeForTest)
	if err != nil {
		t.Fatalf("QueryVaddr(5): %v", err)
	}
	if gotPa != pa+5*pagetables.PteSizeForTest {
		t.Fatalf("QueryVaddr(5) paddr = %#x, want %#x", gotPa, pa+5*pagetables.PteSizeForTest)
	}
	if flags&pagetables.Write == 0 {
		t.Fatalf("QueryVaddr(5) flags = %#x, want Write still set", flags)
	}
}

func TestIdempotentUnmap(t *testing.T) {
	pt := newTestPageTables(64)

	const va = uintptr(0x0000700000000000)
	const pa = uintptr(0x0000000010000000)

	if _, err := pt.MapPagesContiguous(va, pa, 4, pagetables.Read|pagetables.Write); err != nil {
		t.Fatalf("map: %v", err)
	}
	if _, err := pt.UnmapPages(va, 4); err != nil {
		t.Fatalf("first unmap: %v", err)
	}
	afterFirst := pt.Pages()
	if _, err := pt.UnmapPages(va, 4); err != nil {
		t.Fatalf("second unmap: %v", err)
	}
	if got := pt.Pages(); got != afterFirst {
		t.Fatalf("pages changed on idempotent unmap: got %d, want %d", got, afterFirst)
	}
}

func TestMapPagesAllOrNothing(t *testing.T) {
	// MapPages drives one single-page cursor per frame, with va
	// advancing by 4 KiB per frame, so the first 512 pages share one
	// PDP/PD/PT chain and page 513 spills into the next 2 MiB region,
	// which shares the same PD table but needs a fresh PT. Size the
	// arena so the root plus the first chain's PDP, PD and PT exactly
	// fit, leaving nothing for that PT, and force a NoMemory failure
	// partway through the batch.
	pt := newTestPageTables(4)

	const va = uintptr(0x0000000000200000) // 2 MiB aligned
	const n = 520
	paddrs := make([]uintptr, n)
	for i := range paddrs {
		paddrs[i] = uintptr(0x0000000010000000) + uintptr(i)*pagetables.PteSizeForTest
	}

	base := pt.Pages()
	if _, err := pt.MapPages(va, paddrs, pagetables.Read|pagetables.Write); !pterrors.Is(err, pterrors.NoMemory) {
		t.Fatalf("MapPages over-subscribed arena = %v, want NoMemory", err)
	}
	if got := pt.Pages(); got != base {
		t.Fatalf("pages after failed MapPages = %d, want %d", got, base)
	}
	for i := range paddrs {
		if _, _, err := pt.QueryVaddr(va + uintptr(i)*pagetables.PteSizeForTest); !pterrors.Is(err, pterrors.NotFound) {
			t.Fatalf("QueryVaddr(%d) after failed MapPages = %v, want NotFound", i, err)
		}
	}
}

func TestZeroLengthOperationsAreNoops(t *testing.T) {
	pt := newTestPageTables(8)
	base := pt.Pages()

	if n, err := pt.MapPages(0x1000, nil, pagetables.Read); err != nil || n != 0 {
		t.Fatalf("MapPages(nil) = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := pt.MapPagesContiguous(0x1000, 0x2000, 0, pagetables.Read); err != nil || n != 0 {
		t.Fatalf("MapPagesContiguous(0) = (%d, %v), want (0, nil)", n, err)
	}
	if n, err := pt.UnmapPages(0x1000, 0); err != nil || n != 0 {
		t.Fatalf("UnmapPages(0) = (%d, %v), want (0, nil)", n, err)
	}
	if err := pt.ProtectPages(0x1000, 0, pagetables.Read); err != nil {
		t.Fatalf("ProtectPages(0) = %v, want nil", err)
	}
	if got := pt.Pages(); got != base {
		t.Fatalf("pages changed after no-op calls: got %d, want %d", got, base)
	}
}

func TestNonCanonicalVaddrRejected(t *testing.T) {
	pt := newTestPageTables(8)
	if _, err := pt.MapPagesContiguous(pagetables.LowerTopForTest+1-pagetables.PteSizeForTest, 0x1000, 2, pagetables.Read); !pterrors.Is(err, pterrors.InvalidArgs) {
		t.Fatalf("map crossing the canonical gap = %v, want InvalidArgs", err)
	}
}

func TestDestroyAfterFullUnmapSucceeds(t *testing.T) {
	pt := newTestPageTables(16)
	const va = uintptr(0x0000700000000000)
	if _, err := pt.MapPagesContiguous(va, 0x1000, 4, pagetables.Read); err != nil {
		t.Fatalf("map: %v", err)
	}
	if _, err := pt.UnmapPages(va, 4); err != nil {
		t.Fatalf("unmap: %v", err)
	}
	pt.Destroy(0, pagetables.LowerTopForTest+1) // must not panic
}

func TestDestroyIgnoresLiveEntriesOutsideItsWindow(t *testing.T) {
	pt := newTestPageTables(16)

	// Simulate a shared kernel half: a mapping left live above
	// pagetables.UpperBottomForTest that this aspace does not own and must not scan.
	const kernelVA = pagetables.UpperBottomForTest
	if _, err := pt.MapPagesContiguous(kernelVA, 0x1000, 1, pagetables.Read); err != nil {
		t.Fatalf("map: %v", err)
	}

	const userVA = uintptr(0x0000700000000000)
	if _, err := pt.MapPagesContiguous(userVA, 0x2000, 1, pagetables.Read); err != nil {
		t.Fatalf("map: %v", err)
	}
	if _, err := pt.UnmapPages(userVA, 1); err != nil {
		t.Fatalf("unmap: %v", err)
	}

	// The kernelVA mapping is still live, but it lies outside
	// [0, pagetables.LowerTopForTest+1); scanning only the user half must not panic.
	pt.Destroy(0, pagetables.LowerTopForTest+1)
}
