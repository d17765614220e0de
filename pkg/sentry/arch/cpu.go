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
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/sync"
)

// CPU is the per-processor state the trap path touches.
type CPU interface {
	// FaultAddress returns the contents of the fault address register. The
	// register is overwritten by every subsequent fault, so it must be read
	// with interrupts disabled and only once per trap.
	FaultAddress() hostarch.Addr

	// DisableInterrupts masks interrupt delivery on this CPU.
	DisableInterrupts()

	// EnableInterrupts unmasks interrupt delivery on this CPU.
	EnableInterrupts()
}

// SimCPU is a software CPU. The fault address register is written by
// RaiseFault, the way the MMU writes it before delivering #PF.
type SimCPU struct {
	mu sync.Mutex

	// cr2 is the fault address register.
	cr2 hostarch.Addr

	// masked is true while interrupts are disabled.
	masked bool

	// reads counts FaultAddress calls, and unmaskedReads the subset made
	// with interrupts enabled.
	reads         int
	unmaskedReads int
}

// NewSimCPU returns a SimCPU with interrupts enabled.
func NewSimCPU() *SimCPU {
	return &SimCPU{}
}

// RaiseFault latches addr into the fault address register.
func (c *SimCPU) RaiseFault(addr hostarch.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cr2 = addr
}

// FaultAddress implements CPU.FaultAddress.
func (c *SimCPU) FaultAddress() hostarch.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if !c.masked {
		c.unmaskedReads++
	}
	return c.cr2
}

// DisableInterrupts implements CPU.DisableInterrupts.
func (c *SimCPU) DisableInterrupts() {
	c.mu.Lock()
	c.masked = true
	c.mu.Unlock()
}

// EnableInterrupts implements CPU.EnableInterrupts.
func (c *SimCPU) EnableInterrupts() {
	c.mu.Lock()
	c.masked = false
	c.mu.Unlock()
}

// InterruptsEnabled returns true if interrupts are currently unmasked.
func (c *SimCPU) InterruptsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.masked
}

// FaultAddressReads returns the number of times the fault address register
// was read, and how many of those reads happened with interrupts enabled.
func (c *SimCPU) FaultAddressReads() (total, unmasked int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads, c.unmaskedReads
}
