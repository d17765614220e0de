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

package arch

import (
	"fmt"

	"vmfault.dev/vmfault/pkg/hostarch"
)

const (
	// DefaultKernelBase is the first kernel address. User space occupies
	// [0, DefaultKernelBase).
	DefaultKernelBase hostarch.Addr = 0xc0000000

	// DefaultMaxStack is the default ceiling on user stack size.
	DefaultMaxStack = 8 << 20

	// DefaultStackMargin is how far below the stack pointer a fault may land
	// and still count as stack growth. PUSHA writes 32 bytes below SP
	// before the stack pointer is updated.
	DefaultStackMargin = 32
)

// Layout describes the virtual address space split and the bounds the stack
// may grow within.
type Layout struct {
	// KernelBase is the lowest kernel address, and the top of the user
	// stack.
	KernelBase hostarch.Addr

	// MaxStack is the maximum size of the user stack in bytes.
	MaxStack uint64

	// StackMargin is the largest distance below SP that a fault may be and
	// still be treated as a stack access.
	StackMargin uint64
}

// DefaultLayout returns the layout used when no overrides are configured.
func DefaultLayout() Layout {
	return Layout{
		KernelBase:  DefaultKernelBase,
		MaxStack:    DefaultMaxStack,
		StackMargin: DefaultStackMargin,
	}
}

// IsKernelAddr returns true if addr lies in the kernel's reserved range.
func (l *Layout) IsKernelAddr(addr hostarch.Addr) bool {
	return addr >= l.KernelBase
}

// IsUserAddr returns true if addr lies in user space.
func (l *Layout) IsUserAddr(addr hostarch.Addr) bool {
	return addr < l.KernelBase
}

// StackTop returns the exclusive top of the user stack.
func (l *Layout) StackTop() hostarch.Addr {
	return l.KernelBase
}

// StackLimit returns the lowest address the stack may grow down to.
func (l *Layout) StackLimit() hostarch.Addr {
	return l.KernelBase - hostarch.Addr(l.MaxStack)
}

// Valid returns an error if this layout is inconsistent.
func (l *Layout) Valid() error {
	if !l.KernelBase.IsPageAligned() {
		return fmt.Errorf("kernel base %s is not page aligned", l.KernelBase)
	}
	if l.MaxStack == 0 || l.MaxStack%hostarch.PageSize != 0 {
		return fmt.Errorf("max stack %d is not a positive multiple of the page size", l.MaxStack)
	}
	if l.MaxStack > uint64(l.KernelBase) {
		return fmt.Errorf("max stack %d exceeds kernel base %s", l.MaxStack, l.KernelBase)
	}
	if l.StackMargin >= hostarch.PageSize {
		return fmt.Errorf("stack margin %d must be smaller than a page", l.StackMargin)
	}
	return nil
}
