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

package platform

import (
	"vmfault.dev/vmfault/pkg/errors/linuxerr"
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/sentry/pgalloc"
	"vmfault.dev/vmfault/pkg/sync"
)

// PageTable is a software AddressSpace.
type PageTable struct {
	mu sync.RWMutex

	// ptes maps page addresses to entries.
	ptes map[hostarch.Addr]*Mapping
}

var _ AddressSpace = (*PageTable)(nil)

// NewPageTable returns an empty PageTable.
func NewPageTable() *PageTable {
	return &PageTable{ptes: make(map[hostarch.Addr]*Mapping)}
}

// MapFile implements AddressSpace.MapFile.
func (pt *PageTable) MapFile(addr hostarch.Addr, frame pgalloc.Frame, writable bool) error {
	if !addr.IsPageAligned() {
		return linuxerr.EINVAL
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if _, ok := pt.ptes[addr]; ok {
		return linuxerr.EEXIST
	}
	pt.ptes[addr] = &Mapping{Frame: frame, Writable: writable}
	return nil
}

// Unmap implements AddressSpace.Unmap.
func (pt *PageTable) Unmap(addr hostarch.Addr) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.ptes, addr)
}

// Translate implements AddressSpace.Translate.
func (pt *PageTable) Translate(addr hostarch.Addr) (Mapping, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	m, ok := pt.ptes[addr.RoundDown()]
	if !ok {
		return Mapping{}, false
	}
	return *m, true
}

// Release implements AddressSpace.Release.
func (pt *PageTable) Release() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	clear(pt.ptes)
}

// Len returns the number of installed mappings.
func (pt *PageTable) Len() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.ptes)
}

// Access implements AddressSpace.Access.
func (pt *PageTable) Access(addr hostarch.Addr, write bool) (pgalloc.Frame, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	m, ok := pt.ptes[addr.RoundDown()]
	if !ok {
		return 0, &FaultError{Addr: addr, Write: write}
	}
	if write && !m.Writable {
		return 0, &FaultError{Addr: addr, Present: true, Write: true}
	}
	m.Accessed = true
	if write {
		m.Dirty = true
	}
	return m.Frame, nil
}
