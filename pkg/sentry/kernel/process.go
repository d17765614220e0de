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

package kernel

import (
	"fmt"

	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/sentry/arch"
	"vmfault.dev/vmfault/pkg/sentry/mm"
	"vmfault.dev/vmfault/pkg/sentry/platform"
	"vmfault.dev/vmfault/pkg/sync"
)

// Terminator ends a process.
type Terminator interface {
	// Exit terminates the process with the given status. Only the first
	// call has an effect.
	Exit(status int)
}

// newAddressSpace is the hardware page table constructor for new processes.
var newAddressSpace = func() platform.AddressSpace {
	return platform.NewPageTable()
}

// Process is a user address space and the tasks running in it.
type Process struct {
	// The following fields are immutable.
	k    *Kernel
	pid  int32
	name string
	mm   *mm.MemoryManager

	// mu protects the following fields.
	mu         sync.Mutex
	exited     bool
	exitStatus int
}

var _ Terminator = (*Process)(nil)

// PID returns the process ID.
func (p *Process) PID() int32 {
	return p.pid
}

// Name returns the process name.
func (p *Process) Name() string {
	return p.name
}

// MemoryManager returns the process's memory manager.
func (p *Process) MemoryManager() *mm.MemoryManager {
	return p.mm
}

// NewTask returns a task in p whose user stack pointer is sp.
func (p *Process) NewTask(sp hostarch.Addr) *Task {
	return &Task{
		k:         p.k,
		p:         p,
		cpu:       arch.NewSimCPU(),
		sp:        sp,
		logPrefix: fmt.Sprintf("[% 4d:%s] ", p.pid, p.name),
	}
}

// Exit implements Terminator.Exit. It prints the exit message to the
// console and tears down the address space.
func (p *Process) Exit(status int) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.exitStatus = status
	p.mu.Unlock()

	fmt.Fprintf(p.k.console, "%s: exit(%d)\n", p.name, status)
	p.mm.Release()
	p.k.removeProcess(p)
}

// Exited returns true if p has exited.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// ExitStatus returns p's exit status, and false if p has not exited.
func (p *Process) ExitStatus() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitStatus, p.exited
}
