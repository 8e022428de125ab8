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

//go:build amd64
// +build amd64

package pagetables

// clflushopt writes back and invalidates the cache line containing
// addr. It does not fence; callers must follow with mfence before
// relying on the writeback being globally visible.
//
//go:noescape
func clflushopt(addr uintptr)

// mfence issues a store fence, ordering all prior stores (including
// the writeback issued by clflushopt) ahead of whatever follows.
//
//go:noescape
func mfence()
