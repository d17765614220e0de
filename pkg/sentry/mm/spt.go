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
	"fmt"

	"github.com/google/btree"
	"vmfault.dev/vmfault/pkg/errors/linuxerr"
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/sentry/pgalloc"
	"vmfault.dev/vmfault/pkg/sync"
)

// Entry is the supplemental page table entry for one user page.
//
// Lock order: Entry.mu is taken before SupplementalPageTable.mu and before
// any lock in the frame provider or address space.
type Entry struct {
	// mm is the owning MemoryManager. page is the page-aligned address of
	// the entry. Both are immutable.
	mm   *MemoryManager
	page hostarch.Addr

	// writable is the permission the page is mapped with. It is immutable.
	writable bool

	// mu serializes resolution and eviction of this page.
	mu sync.Mutex

	// backing is how to materialize the page while it is not resident.
	//
	// +checklocks:mu
	backing Backing

	// resident is true while frame holds the page's content and the page
	// is mapped.
	//
	// +checklocks:mu
	resident bool

	// frame is valid only while resident.
	//
	// +checklocks:mu
	frame pgalloc.Frame
}

var _ pgalloc.Owner = (*Entry)(nil)

func newEntry(mm *MemoryManager, page hostarch.Addr, b Backing, writable bool) *Entry {
	return &Entry{
		mm:       mm,
		page:     page,
		writable: writable,
		backing:  b,
	}
}

// Page implements pgalloc.Owner.Page.
func (e *Entry) Page() hostarch.Addr {
	return e.page
}

// Writable returns the entry's mapping permission.
func (e *Entry) Writable() bool {
	return e.writable
}

// Evict implements pgalloc.Owner.Evict. It returns EBUSY rather than wait
// if the entry is being resolved or evicted by another thread.
func (e *Entry) Evict() error {
	if !e.mu.TryLock() {
		return linuxerr.EBUSY
	}
	defer e.mu.Unlock()
	return e.mm.evictLocked(e)
}

// State returns a copy of the entry's mutable state.
func (e *Entry) State() EntryState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// +checklocks:e.mu
func (e *Entry) stateLocked() EntryState {
	s := EntryState{
		Page:     e.page,
		Backing:  e.backing,
		Writable: e.writable,
		Resident: e.resident,
	}
	if e.resident {
		s.Frame = e.frame
	}
	return s
}

// EntryState is a snapshot of an Entry.
type EntryState struct {
	Page     hostarch.Addr
	Backing  Backing
	Writable bool
	Resident bool
	Frame    pgalloc.Frame
}

// String implements fmt.Stringer.
func (s EntryState) String() string {
	perm := "r-"
	if s.Writable {
		perm = "rw"
	}
	if s.Resident {
		return fmt.Sprintf("%s %s %s resident in %s", s.Page, perm, s.Backing, s.Frame)
	}
	return fmt.Sprintf("%s %s %s", s.Page, perm, s.Backing)
}

// btreeDegree is the degree of the SPT's B-tree.
const btreeDegree = 16

// SupplementalPageTable maps user pages to entries. It is ordered by page
// address.
//
// Insert is the only way an entry for a page comes into existence, and fails
// if the page already has one.
type SupplementalPageTable struct {
	mu sync.RWMutex

	// +checklocks:mu
	entries *btree.BTreeG[*Entry]

	// released is set by release. No entry is inserted afterwards.
	//
	// +checklocks:mu
	released bool
}

func entryLess(a, b *Entry) bool {
	return a.page < b.page
}

// NewSupplementalPageTable returns an empty table.
func NewSupplementalPageTable() *SupplementalPageTable {
	return &SupplementalPageTable{
		entries: btree.NewG(btreeDegree, entryLess),
	}
}

// key returns a probe for the page containing addr.
func key(addr hostarch.Addr) *Entry {
	return &Entry{page: addr.RoundDown()}
}

// Lookup returns the entry for the page containing addr.
func (t *SupplementalPageTable) Lookup(addr hostarch.Addr) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries.Get(key(addr))
}

// Insert adds e. It returns EINVAL if e's page is not aligned, EEXIST if
// the page already has an entry and ErrReleased if the table was released.
// On success the table owns e.
func (t *SupplementalPageTable) Insert(e *Entry) error {
	if !e.page.IsPageAligned() {
		return linuxerr.EINVAL
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return ErrReleased
	}
	if t.entries.Has(e) {
		return linuxerr.EEXIST
	}
	t.entries.ReplaceOrInsert(e)
	return nil
}

// Remove deletes the entry for the page containing addr and returns it.
func (t *SupplementalPageTable) Remove(addr hostarch.Addr) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Delete(key(addr))
}

// NextAtOrAbove returns the lowest-addressed entry whose page is at or
// above the page containing addr.
func (t *SupplementalPageTable) NextAtOrAbove(addr hostarch.Addr) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var next *Entry
	t.entries.AscendGreaterOrEqual(key(addr), func(e *Entry) bool {
		next = e
		return false
	})
	return next, next != nil
}

// Len returns the number of entries.
func (t *SupplementalPageTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries.Len()
}

// Entries returns all entries in ascending page order.
func (t *SupplementalPageTable) Entries() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	es := make([]*Entry, 0, t.entries.Len())
	t.entries.Ascend(func(e *Entry) bool {
		es = append(es, e)
		return true
	})
	return es
}

// Snapshot returns the state of every entry in ascending page order.
func (t *SupplementalPageTable) Snapshot() []EntryState {
	es := t.Entries()
	states := make([]EntryState, len(es))
	for i, e := range es {
		states[i] = e.State()
	}
	return states
}

// Released returns true once the table has been released.
func (t *SupplementalPageTable) Released() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.released
}

// release removes every entry and returns them in ascending page order.
// Later inserts fail.
func (t *SupplementalPageTable) release() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	es := make([]*Entry, 0, t.entries.Len())
	t.entries.Ascend(func(e *Entry) bool {
		es = append(es, e)
		return true
	})
	t.entries.Clear(false)
	t.released = true
	return es
}
