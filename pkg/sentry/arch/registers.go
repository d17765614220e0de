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

// Package arch provides abstractions around architecture-dependent details:
// the trap frame delivered on an exception, exception vectors, the fault
// address register and the virtual address space layout.
package arch

import (
	"fmt"
	"io"

	"vmfault.dev/vmfault/pkg/hostarch"
)

// Segment selectors found in Registers.CS.
const (
	// KernelCS is the kernel code segment selector.
	KernelCS = 0x08

	// UserCS is the user code segment selector (RPL 3).
	UserCS = 0x1b
)

// Page-fault error-code bits.
const (
	// ErrorCodePresent is set when the fault was a protection violation on a
	// present page, and clear when the page was not present.
	ErrorCodePresent = 1 << 0

	// ErrorCodeWrite is set when the faulting access was a write.
	ErrorCodeWrite = 1 << 1

	// ErrorCodeUser is set when the access originated in user mode.
	ErrorCodeUser = 1 << 2
)

// Registers is the trap frame pushed on exception entry.
//
// Only the fields the fault path needs are modeled.
type Registers struct {
	// Vector is the exception vector that was raised.
	Vector Vector

	// ErrorCode is the hardware error code, if the vector pushes one.
	ErrorCode uint64

	// CS is the code segment selector of the interrupted context.
	CS uint16

	// IP is the instruction pointer of the interrupted context.
	IP hostarch.Addr

	// SP is the stack pointer of the interrupted context. It may be stale
	// for faults taken in kernel mode.
	SP hostarch.Addr
}

// UserMode returns true if the interrupted context was running user code.
func (r *Registers) UserMode() bool {
	return r.CS == UserCS
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "Interrupt 0x%02x (%s) at eip=%#x\n", uint8(r.Vector), r.Vector, uint64(r.IP))
	fmt.Fprintf(w, " error=%08x cs=%04x esp=%#x\n", r.ErrorCode, r.CS, uint64(r.SP))
}
