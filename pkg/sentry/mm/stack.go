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
	"context"
	"fmt"

	"vmfault.dev/vmfault/pkg/cleanup"
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/log"
)

// stackEligible returns true if a fault at addr with stack pointer sp may be
// satisfied by growing the stack.
func (mm *MemoryManager) stackEligible(addr, sp hostarch.Addr) bool {
	if addr < mm.layout.StackLimit() || addr >= mm.layout.StackTop() {
		return false
	}
	// Instructions like PUSHA fault up to StackMargin bytes below SP.
	if margin := hostarch.Addr(mm.layout.StackMargin); sp >= margin && addr < sp-margin {
		return false
	}
	return true
}

// growStack populates every page from the one containing addr up to the
// lowest page that already has an entry, or the top of the stack.
//
// Pages that another thread adds while the walk is in progress count as
// grown. If a page cannot be added, growStack fails; the pages it added
// before that stay in place unless AtomicStackGrowth is set.
func (mm *MemoryManager) growStack(ctx context.Context, addr, sp hostarch.Addr) error {
	if !mm.stackEligible(addr, sp) {
		return fmt.Errorf("%w: %s is outside the stack (sp %s, limit %s)", ErrIllegalAccess, addr, sp, mm.layout.StackLimit())
	}

	start := addr.RoundDown()
	end := mm.layout.StackTop()
	if next, ok := mm.spt.NextAtOrAbove(start); ok && next.page < end {
		end = next.page
	}

	var (
		grown cleanup.Cleanup
		added uint64
	)
	defer grown.Clean()
	for page := start; page < end; page += hostarch.PageSize {
		e, err := mm.growStackPage(page)
		if isExist(err) {
			continue
		}
		if err != nil {
			if !mm.atomicStackGrowth {
				grown.Release()
				stackPagesMetric.IncrementBy(added)
			}
			return fmt.Errorf("growing stack at %s after %d pages: %w", page, added, err)
		}
		added++
		grown.Add(func() { mm.removeEntry(e) })
	}
	grown.Release()
	stackPagesMetric.IncrementBy(added)
	log.FromContext(ctx).Debugf("Grew stack by %d pages to %s", added, start)
	return nil
}

// growStackPage adds a resident, writable, zero-filled page at page. It
// returns an error wrapping EEXIST if the page is already mapped or has an
// entry.
//
// The caller owns the frame and the new entry until Insert succeeds; any
// failure before that frees the frame and drops the mapping. Insert fails
// with ErrReleased if Release ran in the meantime.
func (mm *MemoryManager) growStackPage(page hostarch.Addr) (*Entry, error) {
	if mm.spt.Released() {
		return nil, ErrReleased
	}
	fr, err := mm.frames.Allocate(true)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { mm.frames.Free(fr) })
	defer cu.Clean()

	if err := mm.as.MapFile(page, fr, true); err != nil {
		return nil, err
	}
	cu.Add(func() { mm.as.Unmap(page) })

	e := newEntry(mm, page, ZeroFill{}, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resident = true
	e.frame = fr
	if err := mm.spt.Insert(e); err != nil {
		return nil, err
	}
	cu.Release()
	mm.frames.SetOwner(fr, e)
	return e, nil
}

// removeEntry deletes e from the table and drops what it holds.
func (mm *MemoryManager) removeEntry(e *Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mm.spt.Remove(e.page)
	mm.discardLocked(e)
}

// SetupStack maps the top page of the stack and returns the initial stack
// pointer.
func (mm *MemoryManager) SetupStack() (hostarch.Addr, error) {
	top := mm.layout.StackTop()
	if _, err := mm.growStackPage(top - hostarch.PageSize); err != nil {
		return 0, fmt.Errorf("setting up stack: %w", err)
	}
	stackPagesMetric.Increment()
	return top, nil
}
