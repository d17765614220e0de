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

// Package mm provides a process's user address space: the supplemental page
// table describing every page the process may touch, and the logic that
// materializes those pages on demand.
//
// Pages are materialized lazily. A page starts out as an Entry in the
// SupplementalPageTable backed by a file region, a swap slot or zeroes, and
// becomes resident when a fault on it is resolved: a frame is obtained from
// the FrameProvider, filled from the backing, and only then mapped into the
// platform.AddressSpace. Faults below the stack on pages with no entry may
// instead grow the stack.
//
// Lock order:
//
//	Entry.mu
//	  SupplementalPageTable.mu
//	  FrameProvider internal locks
//	  platform.AddressSpace internal locks
//
// The FrameProvider may evict pages while allocating. Eviction only
// try-locks entries, so holding an Entry.mu across Allocate is safe.
package mm

import (
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/metric"
	"vmfault.dev/vmfault/pkg/sentry/arch"
	"vmfault.dev/vmfault/pkg/sentry/platform"
	"vmfault.dev/vmfault/pkg/sync"
)

var (
	pageInsMetric = metric.MustCreateNewUint64Metric("/mm/page_ins", true, "Pages made resident by resolving a fault, by backing.",
		metric.NewField("backing", "file", "swap", "zero"))
	stackPagesMetric = metric.MustCreateNewUint64Metric("/mm/stack_pages", true, "Pages added by stack growth.")
	pageOutsMetric   = metric.MustCreateNewUint64Metric("/mm/page_outs", true, "Resident pages evicted, by destination.",
		metric.NewField("to", "swap", "discard"))
)

// Opts holds the collaborators of a MemoryManager.
type Opts struct {
	// Layout bounds user space and the stack.
	Layout arch.Layout

	// Frames allocates frames. Memory gives access to their contents, and
	// is usually the same object.
	Frames FrameProvider
	Memory FrameMemory

	// Store loads and stores page content.
	Store BackingStore

	// AddressSpace receives mappings for resident pages.
	AddressSpace platform.AddressSpace

	// AtomicStackGrowth makes a stack growth that fails partway undo the
	// pages it already added. By default they are kept.
	AtomicStackGrowth bool
}

// MemoryManager implements a process's virtual address space.
type MemoryManager struct {
	// The following fields are immutable.
	layout            arch.Layout
	frames            FrameProvider
	mem               FrameMemory
	store             BackingStore
	as                platform.AddressSpace
	atomicStackGrowth bool

	// spt is the supplemental page table.
	spt *SupplementalPageTable

	// releaseOnce guards Release.
	releaseOnce sync.Once
}

// NewMemoryManager returns a MemoryManager with an empty supplemental page
// table.
func NewMemoryManager(opts Opts) *MemoryManager {
	return &MemoryManager{
		layout:            opts.Layout,
		frames:            opts.Frames,
		mem:               opts.Memory,
		store:             opts.Store,
		as:                opts.AddressSpace,
		atomicStackGrowth: opts.AtomicStackGrowth,
		spt:               NewSupplementalPageTable(),
	}
}

// Layout returns the address space layout.
func (mm *MemoryManager) Layout() arch.Layout {
	return mm.layout
}

// PageTable returns the supplemental page table.
func (mm *MemoryManager) PageTable() *SupplementalPageTable {
	return mm.spt
}

// AddressSpace returns the address space pages are mapped into.
func (mm *MemoryManager) AddressSpace() platform.AddressSpace {
	return mm.as
}

// IsReadOnly returns true if the page containing addr has an entry that is
// resident and not writable.
func (mm *MemoryManager) IsReadOnly(addr hostarch.Addr) bool {
	e, ok := mm.spt.Lookup(addr)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resident && !e.writable
}

// Stats summarizes the address space.
type Stats struct {
	Entries  int
	Resident int
	Swapped  int
}

// Stats returns a summary of the supplemental page table.
func (mm *MemoryManager) Stats() Stats {
	var s Stats
	for _, st := range mm.spt.Snapshot() {
		s.Entries++
		if st.Resident {
			s.Resident++
		}
		if _, ok := st.Backing.(SwapBacking); ok {
			s.Swapped++
		}
	}
	return s
}

// Release tears down the address space: every resident page is unmapped and
// its frame freed, every reserved swap slot is released, and the table is
// emptied. Faults racing with or following Release fail with ErrReleased and
// leave nothing behind. Release is idempotent.
func (mm *MemoryManager) Release() {
	mm.releaseOnce.Do(func() {
		// The table is closed before any entry is locked, so a fault that
		// takes an entry's lock after its discard sees the release.
		for _, e := range mm.spt.release() {
			e.mu.Lock()
			mm.discardLocked(e)
			e.mu.Unlock()
		}
		mm.as.Release()
	})
}

// discardLocked drops whatever e holds: its frame and mapping if resident,
// or its swap slot.
//
// +checklocks:e.mu
func (mm *MemoryManager) discardLocked(e *Entry) {
	if e.resident {
		mm.as.Unmap(e.page)
		mm.frames.Free(e.frame)
		e.resident = false
		e.frame = 0
		return
	}
	if b, ok := e.backing.(SwapBacking); ok {
		mm.store.ReleaseSwap(b.Slot)
		e.backing = ZeroFill{}
	}
}
