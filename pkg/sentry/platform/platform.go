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

// Package platform provides the address-space abstraction through which
// resolved pages become visible to user code.
package platform

import (
	"fmt"

	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/sentry/arch"
	"vmfault.dev/vmfault/pkg/sentry/pgalloc"
)

// AddressSpace represents a virtual address space in which application
// memory accesses are translated.
type AddressSpace interface {
	// MapFile installs a mapping of frame at addr. It fails with EEXIST if
	// addr is already mapped.
	//
	// Preconditions: addr is page-aligned.
	MapFile(addr hostarch.Addr, frame pgalloc.Frame, writable bool) error

	// Unmap removes the mapping at addr, if any.
	//
	// Preconditions: addr is page-aligned.
	Unmap(addr hostarch.Addr)

	// Translate returns the mapping of the page containing addr.
	Translate(addr hostarch.Addr) (Mapping, bool)

	// Access performs the MMU's checks for an access to addr, setting the
	// accessed and dirty bits of the mapping. It returns the frame backing
	// addr, or a *FaultError if the access faults.
	Access(addr hostarch.Addr, write bool) (pgalloc.Frame, error)

	// Release removes all mappings. The AddressSpace may not be used
	// afterward.
	Release()
}

// Mapping is a page table entry.
type Mapping struct {
	// Frame backs the page.
	Frame pgalloc.Frame

	// Writable is the permission the page is mapped with.
	Writable bool

	// Accessed is set by any access through the mapping.
	Accessed bool

	// Dirty is set by a write through the mapping.
	Dirty bool
}

// FaultError is returned by accesses that the address space cannot
// translate. It carries what the MMU would report for the access.
type FaultError struct {
	// Addr is the address at which the fault occurred.
	Addr hostarch.Addr

	// Present is true if a mapping existed but did not permit the access.
	Present bool

	// Write is true if the access was a write.
	Write bool
}

// Error implements error.Error.
func (f *FaultError) Error() string {
	return fmt.Sprintf("page fault at %#x", uintptr(f.Addr))
}

// ErrorCode returns the page-fault error code for f taken in user mode if
// user is true, and in kernel mode otherwise.
func (f *FaultError) ErrorCode(user bool) uint64 {
	var code uint64
	if f.Present {
		code |= arch.ErrorCodePresent
	}
	if f.Write {
		code |= arch.ErrorCodeWrite
	}
	if user {
		code |= arch.ErrorCodeUser
	}
	return code
}
