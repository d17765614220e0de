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

// Package fault decodes a page-fault trap into a Descriptor.
//
// A Descriptor is built once per trap from the error code in the trap frame
// and the fault address captured at entry. Nothing downstream looks at the
// hardware again.
package fault

import (
	"fmt"

	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/sentry/arch"
)

// Cause is why translation failed.
type Cause int

const (
	// NotPresent means no translation existed for the page.
	NotPresent Cause = iota

	// ProtectionViolation means a translation existed but forbade the access.
	ProtectionViolation
)

// String implements fmt.Stringer.
func (c Cause) String() string {
	switch c {
	case NotPresent:
		return "not present"
	case ProtectionViolation:
		return "rights violation"
	default:
		return fmt.Sprintf("Cause(%d)", int(c))
	}
}

// Access is the direction of the faulting access.
type Access int

const (
	// Read is a load or instruction fetch.
	Read Access = iota

	// Write is a store.
	Write
)

// String implements fmt.Stringer.
func (a Access) String() string {
	switch a {
	case Read:
		return "reading"
	case Write:
		return "writing"
	default:
		return fmt.Sprintf("Access(%d)", int(a))
	}
}

// Context is the privilege level at fault time.
type Context int

const (
	// User is a fault taken while running user code.
	User Context = iota

	// Kernel is a fault taken while running kernel code.
	Kernel
)

// String implements fmt.Stringer.
func (c Context) String() string {
	switch c {
	case User:
		return "user"
	case Kernel:
		return "kernel"
	default:
		return fmt.Sprintf("Context(%d)", int(c))
	}
}

// Descriptor is a classified page fault. It is a value type; use WithSP to
// derive a descriptor with a recovered stack pointer.
type Descriptor struct {
	// Addr is the faulting virtual address.
	Addr hostarch.Addr

	Cause   Cause
	Access  Access
	Context Context

	// SP is the stack pointer of the faulting context.
	SP hostarch.Addr
}

// Classify decodes regs and the captured fault address. Every error code
// value produces a descriptor.
func Classify(regs *arch.Registers, addr hostarch.Addr) Descriptor {
	code := regs.ErrorCode
	d := Descriptor{
		Addr:    addr,
		Cause:   NotPresent,
		Access:  Read,
		Context: Kernel,
		SP:      regs.SP,
	}
	if code&arch.ErrorCodePresent != 0 {
		d.Cause = ProtectionViolation
	}
	if code&arch.ErrorCodeWrite != 0 {
		d.Access = Write
	}
	if code&arch.ErrorCodeUser != 0 {
		d.Context = User
	}
	return d
}

// WithSP returns a copy of d with SP replaced.
func (d Descriptor) WithSP(sp hostarch.Addr) Descriptor {
	d.SP = sp
	return d
}

// Page returns the page-aligned address containing d.Addr.
func (d Descriptor) Page() hostarch.Addr {
	return d.Addr.RoundDown()
}

// AccessType returns the access as a hostarch.AccessType.
func (d Descriptor) AccessType() hostarch.AccessType {
	if d.Access == Write {
		return hostarch.Write
	}
	return hostarch.Read
}

// String implements fmt.Stringer. The format matches the kernel's fault
// report.
func (d Descriptor) String() string {
	return fmt.Sprintf("Page fault at %s: %s error %s page in %s context.", d.Addr, d.Cause, d.Access, d.Context)
}
