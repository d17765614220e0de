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
	"context"
	"errors"

	"vmfault.dev/vmfault/pkg/errors/linuxerr"
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/log"
	"vmfault.dev/vmfault/pkg/sentry/arch"
	"vmfault.dev/vmfault/pkg/sentry/platform"
)

// kernelStackOffset is where the kernel's stack pointer sits above the
// kernel base while it runs on behalf of a task.
const kernelStackOffset = 0x7000

// maxFaultsPerPage bounds how many faults a copy takes without making
// progress before it gives up.
const maxFaultsPerPage = 2

// Task is a thread of execution in a process.
//
// A Task is used by one goroutine at a time.
type Task struct {
	// The following fields are immutable.
	k         *Kernel
	p         *Process
	logPrefix string

	// cpu is the CPU t runs on. Each task has its own, so the fault
	// address register is never shared between tasks.
	cpu *arch.SimCPU

	// sp is the user stack pointer.
	sp hostarch.Addr

	// savedSP is the user stack pointer saved at the most recent entry into
	// the kernel. Faults taken in kernel mode use it, because their trap
	// frame holds the kernel's stack pointer.
	savedSP hostarch.Addr
}

// Process returns the process t belongs to.
func (t *Task) Process() *Process {
	return t.p
}

// Kernel returns the kernel t runs on.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// CPU returns the CPU t runs on.
func (t *Task) CPU() *arch.SimCPU {
	return t.cpu
}

// StackPointer returns t's user stack pointer.
func (t *Task) StackPointer() hostarch.Addr {
	return t.sp
}

// SetStackPointer sets t's user stack pointer.
func (t *Task) SetStackPointer(sp hostarch.Addr) {
	t.sp = sp
}

// EnterKernel records a transition from user to kernel mode, saving the
// user stack pointer.
func (t *Task) EnterKernel() {
	t.savedSP = t.sp
}

// SavedStackPointer returns the user stack pointer saved by EnterKernel.
func (t *Task) SavedStackPointer() hostarch.Addr {
	return t.savedSP
}

// AsyncContext returns a context for work done on behalf of t. Logging
// through it carries t's prefix.
func (t *Task) AsyncContext() context.Context {
	return log.WithLogger(t.k.SupervisorContext(), t)
}

// Debugf implements log.Logger.Debugf.
func (t *Task) Debugf(format string, v ...any) {
	if log.IsLogging(log.Debug) {
		log.Log().DebugfAtDepth(1, t.logPrefix+format, v...)
	}
}

// Infof implements log.Logger.Infof.
func (t *Task) Infof(format string, v ...any) {
	if log.IsLogging(log.Info) {
		log.Log().InfofAtDepth(1, t.logPrefix+format, v...)
	}
}

// Warningf implements log.Logger.Warningf.
func (t *Task) Warningf(format string, v ...any) {
	if log.IsLogging(log.Warning) {
		log.Log().WarningfAtDepth(1, t.logPrefix+format, v...)
	}
}

// IsLogging implements log.Logger.IsLogging.
func (t *Task) IsLogging(level log.Level) bool {
	return log.IsLogging(level)
}

// SetupStack maps the top page of t's user stack and points t at it.
func (t *Task) SetupStack() error {
	sp, err := t.p.mm.SetupStack()
	if err != nil {
		return err
	}
	t.sp = sp
	return nil
}

// CopyOut writes src to user memory at addr from user mode. Faults are
// delivered to t as the hardware would.
func (t *Task) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	return t.copyWithFaults(true, func(done int) (int, error) {
		return t.p.mm.CopyOut(addr+hostarch.Addr(done), src[done:])
	})
}

// CopyIn reads len(dst) bytes of user memory at addr from user mode.
func (t *Task) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	return t.copyWithFaults(true, func(done int) (int, error) {
		return t.p.mm.CopyIn(addr+hostarch.Addr(done), dst[done:])
	})
}

// KernelCopyOut writes src to user memory at addr from kernel mode, as a
// system call would. The caller must have called EnterKernel.
func (t *Task) KernelCopyOut(addr hostarch.Addr, src []byte) (int, error) {
	return t.copyWithFaults(false, func(done int) (int, error) {
		return t.p.mm.CopyOut(addr+hostarch.Addr(done), src[done:])
	})
}

// KernelCopyIn reads user memory at addr from kernel mode.
func (t *Task) KernelCopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	return t.copyWithFaults(false, func(done int) (int, error) {
		return t.p.mm.CopyIn(addr+hostarch.Addr(done), dst[done:])
	})
}

// copyWithFaults runs op until it completes. Each fault op reports is raised
// on the CPU and handled by HandlePageFault, and op is retried from where it
// stopped. It returns EFAULT if the process dies or op stops making
// progress.
func (t *Task) copyWithFaults(user bool, op func(done int) (int, error)) (int, error) {
	done := 0
	faults := 0
	for {
		if t.p.Exited() {
			return done, linuxerr.EFAULT
		}
		n, err := op(done)
		done += n
		var fe *platform.FaultError
		if err == nil || !errors.As(err, &fe) {
			return done, err
		}
		if n > 0 {
			faults = 0
		}
		if faults++; faults > maxFaultsPerPage {
			t.Warningf("Giving up on %s after %d faults", fe.Addr, faults-1)
			return done, linuxerr.EFAULT
		}

		regs := arch.Registers{
			Vector:    arch.PageFault,
			ErrorCode: fe.ErrorCode(user),
			CS:        arch.KernelCS,
			SP:        t.k.layout.KernelBase + kernelStackOffset,
		}
		if user {
			regs.CS = arch.UserCS
			regs.SP = t.sp
		}
		t.cpu.RaiseFault(fe.Addr)
		t.HandlePageFault(&regs)
	}
}
