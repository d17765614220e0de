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
	"errors"
	"fmt"

	"vmfault.dev/vmfault/pkg/cleanup"
	"vmfault.dev/vmfault/pkg/errors/linuxerr"
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/log"
	"vmfault.dev/vmfault/pkg/sentry/pgalloc"
)

var (
	// ErrIllegalAccess is returned for a fault on an address the process has
	// no right to touch. It terminates the process without a fault report.
	ErrIllegalAccess = errors.New("illegal access")

	// ErrResidentFault is returned for a fault on a page whose entry is
	// resident but which is not mapped by its frame.
	ErrResidentFault = errors.New("fault on resident page")

	// ErrReleased is returned for a fault on an address space that has
	// been torn down.
	ErrReleased = errors.New("address space released")
)

// HandleUserFault resolves a not-present fault at user address addr. sp is
// the faulting context's stack pointer, used to decide whether a fault on a
// page with no entry is stack growth.
//
// It returns nil if the page is now mapped, an error wrapping
// ErrIllegalAccess if the address is not part of the address space,
// ErrReleased if the address space was released, and any other error if
// resolution failed.
//
// Preconditions: addr is a user address.
func (mm *MemoryManager) HandleUserFault(ctx context.Context, addr hostarch.Addr, at hostarch.AccessType, sp hostarch.Addr) error {
	if !mm.layout.IsUserAddr(addr) {
		return fmt.Errorf("%w: %s is a kernel address", ErrIllegalAccess, addr)
	}
	if mm.spt.Released() {
		return ErrReleased
	}
	e, ok := mm.spt.Lookup(addr)
	if !ok {
		return mm.growStack(ctx, addr, sp)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return mm.faultInLocked(ctx, e, at)
}

// faultInLocked makes e resident.
//
// +checklocks:e.mu
func (mm *MemoryManager) faultInLocked(ctx context.Context, e *Entry, at hostarch.AccessType) error {
	if mm.spt.Released() {
		// Release discarded e, or will once we drop e.mu.
		return ErrReleased
	}
	if e.resident {
		// Another thread resolved the page between our fault and taking
		// e.mu. That is only benign if the mapping it installed is there.
		if m, ok := mm.as.Translate(e.page); ok && m.Frame == e.frame {
			log.FromContext(ctx).Debugf("Fault on %s (%s) already resolved in %s", e.page, at, e.frame)
			return nil
		}
		return fmt.Errorf("%w: %s", ErrResidentFault, e.stateLocked())
	}

	fr, err := mm.frames.Allocate(false)
	if err != nil {
		return fmt.Errorf("allocating frame for %s: %w", e.page, err)
	}
	cu := cleanup.Make(func() { mm.frames.Free(fr) })
	defer cu.Clean()

	kind := backingKind(e.backing)
	if err := mm.load(e, fr); err != nil {
		return fmt.Errorf("loading %s from %s: %w", e.page, e.backing, err)
	}
	if err := mm.as.MapFile(e.page, fr, e.writable); err != nil {
		return fmt.Errorf("mapping %s: %w", e.page, err)
	}
	cu.Release()

	if b, ok := e.backing.(SwapBacking); ok {
		// The frame now holds the only copy.
		mm.store.ReleaseSwap(b.Slot)
		e.backing = ZeroFill{}
	}
	e.resident = true
	e.frame = fr
	mm.frames.SetOwner(fr, e)
	pageInsMetric.Increment(kind)
	log.FromContext(ctx).Debugf("Paged in %s from %s into %s", e.page, kind, fr)
	return nil
}

// load fills fr with e's content. This is the only place that dispatches on
// the kind of backing to materialize a page.
//
// +checklocks:e.mu
func (mm *MemoryManager) load(e *Entry, fr pgalloc.Frame) error {
	switch b := e.backing.(type) {
	case FileBacking:
		return mm.store.LoadFile(b, fr)
	case SwapBacking:
		return mm.store.LoadSwap(b, fr)
	case ZeroFill:
		clear(mm.mem.Bytes(fr))
		return nil
	default:
		panic(fmt.Sprintf("unknown backing %T", b))
	}
}

// isExist returns true if err reports that a page already has an entry or
// mapping.
func isExist(err error) bool {
	return errors.Is(err, linuxerr.EEXIST)
}
