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

	"vmfault.dev/vmfault/pkg/errors/linuxerr"
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/log"
)

// Evict moves the content of the resident page containing addr out of its
// frame and frees the frame. The next access to the page faults it back in.
//
// It returns ENOENT if the page has no entry and EINVAL if it is not
// resident.
func (mm *MemoryManager) Evict(addr hostarch.Addr) error {
	e, ok := mm.spt.Lookup(addr)
	if !ok {
		return linuxerr.ENOENT
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return mm.evictLocked(e)
}

// evictLocked evicts e. A file page that was never written is dropped and
// reloaded from its file later; anything else is written to swap.
//
// +checklocks:e.mu
func (mm *MemoryManager) evictLocked(e *Entry) error {
	if !e.resident {
		return linuxerr.EINVAL
	}

	// Unmap first so that nothing writes the frame while it is copied out.
	m, _ := mm.as.Translate(e.page)
	mm.as.Unmap(e.page)

	to := "discard"
	if _, ok := e.backing.(FileBacking); !ok || m.Dirty {
		// A written file page no longer matches its file. The dirty bit
		// is lost if the page is remapped below, so forget the file now.
		e.backing = ZeroFill{}
		slot, err := mm.store.StoreSwap(e.frame)
		if err != nil {
			if merr := mm.as.MapFile(e.page, e.frame, e.writable); merr != nil {
				panic(fmt.Sprintf("remapping %s after failed eviction: %v", e.page, merr))
			}
			return fmt.Errorf("evicting %s: %w", e.page, err)
		}
		e.backing = SwapBacking{Slot: slot}
		to = "swap"
	}

	fr := e.frame
	mm.frames.Free(fr)
	e.resident = false
	e.frame = 0
	pageOutsMetric.Increment(to)
	log.Debugf("Evicted %s from %s to %s", e.page, fr, to)
	return nil
}
