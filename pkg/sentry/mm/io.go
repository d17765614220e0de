// Copyright 2026 The gVisor Authors.
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

package mm

import (
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/sentry/platform"
)

// CopyOut copies len(src) bytes from src to the memory mapped at addr. It
// returns the number of bytes copied. If the number of bytes copied is <
// len(src), it returns the *platform.FaultError that stopped it. CopyOut
// does not resolve faults; that is the trap path's job.
func (mm *MemoryManager) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	return mm.withPages(addr, len(src), true, func(dst []byte, done int) {
		copy(dst, src[done:])
	})
}

// CopyIn copies len(dst) bytes from the memory mapped at addr to dst. It
// returns the number of bytes copied. If the number of bytes copied is <
// len(dst), it returns the *platform.FaultError that stopped it.
func (mm *MemoryManager) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	return mm.withPages(addr, len(dst), false, func(src []byte, done int) {
		copy(dst[done:], src)
	})
}

// withPages calls fn for each page-bounded piece of [addr, addr+length) with
// the frame bytes backing it and the number of bytes already processed.
func (mm *MemoryManager) withPages(addr hostarch.Addr, length int, write bool, fn func(b []byte, done int)) (int, error) {
	done := 0
	for done < length {
		cur := addr + hostarch.Addr(done)
		off := cur.PageOffset()
		n := min(uint64(length-done), hostarch.PageSize-off)
		if err := mm.withPage(cur, write, func(b []byte) { fn(b[off:off+n], done) }); err != nil {
			return done, err
		}
		done += int(n)
	}
	return done, nil
}

// withPage calls fn with the contents of the frame mapped at the page
// containing addr. The page's entry stays locked until fn returns, so the
// frame cannot be evicted and reused underneath it.
func (mm *MemoryManager) withPage(addr hostarch.Addr, write bool, fn func(b []byte)) error {
	e, ok := mm.spt.Lookup(addr)
	if !ok {
		// A mapping without an entry belongs to a stack page that is still
		// being added. Report it as absent; resolving the fault waits for
		// the entry.
		return &platform.FaultError{Addr: addr, Write: write}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fr, err := mm.as.Access(addr, write)
	if err != nil {
		return err
	}
	fn(mm.mem.Bytes(fr))
	return nil
}
