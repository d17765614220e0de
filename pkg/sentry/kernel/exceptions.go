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
	"errors"
	"fmt"

	"vmfault.dev/vmfault/pkg/sentry/arch"
	"vmfault.dev/vmfault/pkg/sentry/fault"
	"vmfault.dev/vmfault/pkg/sentry/mm"
)

// errUnresolved is returned by resolvePageFault for faults that no rule
// resolves.
var errUnresolved = errors.New("no resolution")

// HandleException handles a CPU exception raised while t was running.
// Page faults go to HandlePageFault; every other exception kills the
// process, or halts the kernel if it was raised in kernel code.
func (t *Task) HandleException(regs *arch.Registers) {
	if regs.Vector == arch.PageFault {
		t.HandlePageFault(regs)
		return
	}
	t.kill(regs)
}

// Interrupt simulates user code executing an INT instruction for v. Vectors
// user code may not raise become a general protection fault.
func (t *Task) Interrupt(v arch.Vector) {
	regs := &arch.Registers{
		Vector: v,
		CS:     arch.UserCS,
		SP:     t.sp,
	}
	if !v.UserRaisable() {
		regs.Vector = arch.GeneralProtectionFault
	}
	t.HandleException(regs)
}

// HandlePageFault handles a page fault taken by t. regs is the trap frame;
// its SP may be replaced by the saved user stack pointer.
//
// On return the faulting access can be retried, or the process has exited.
// If kernel code faulted, HandlePageFault halts the kernel and does not
// return.
func (t *Task) HandlePageFault(regs *arch.Registers) {
	// The fault address register is overwritten by the next fault, so it is
	// read exactly once, before anything else can fault.
	t.cpu.DisableInterrupts()
	addr := t.cpu.FaultAddress()
	t.cpu.EnableInterrupts()

	t.k.pageFaults.Add(1)
	pageFaultsMetric.Increment()

	d := fault.Classify(regs, addr)
	err := t.resolvePageFault(regs, &d)
	if err == nil {
		faultOutcomeMetric.Increment("resolved")
		return
	}
	if errors.Is(err, mm.ErrReleased) {
		// Another task exited the process; there is nothing left to fault
		// in and nobody left to report to.
		t.k.faultLog.Debugf("%s%s: %v", t.logPrefix, d, err)
		faultOutcomeMetric.Increment("killed")
		return
	}
	if errors.Is(err, mm.ErrIllegalAccess) {
		t.k.faultLog.Debugf("%s%s: %v", t.logPrefix, d, err)
		faultOutcomeMetric.Increment("killed")
		t.p.Exit(-1)
		return
	}

	t.k.faultLog.Infof("%s%s: %v", t.logPrefix, d, err)
	fmt.Fprintf(t.k.console, "%s\n", d)
	t.kill(regs)
}

// resolvePageFault applies the page fault rules to d in order. It returns
// nil if the fault was resolved, an error wrapping mm.ErrIllegalAccess if
// the process touched memory it may not, and any other error if the fault
// could not be resolved.
func (t *Task) resolvePageFault(regs *arch.Registers, d *fault.Descriptor) error {
	layout := t.k.layout

	if d.Context == fault.User && layout.IsKernelAddr(d.Addr) {
		return fmt.Errorf("%w: user access to kernel address %s", mm.ErrIllegalAccess, d.Addr)
	}

	// A fault taken in kernel mode, for example while copying to or from
	// user memory, has the kernel's stack pointer in its frame.
	if d.Context == fault.Kernel && d.Cause == fault.NotPresent && (regs.SP <= layout.StackLimit() || regs.SP > layout.StackTop()) {
		t.Debugf("Replacing kernel SP %s with saved user SP %s", regs.SP, t.savedSP)
		regs.SP = t.savedSP
		*d = d.WithSP(t.savedSP)
	}

	if !layout.IsUserAddr(d.Addr) {
		return errUnresolved
	}
	switch d.Cause {
	case fault.ProtectionViolation:
		if d.Access == fault.Write && t.p.mm.IsReadOnly(d.Addr) {
			return fmt.Errorf("%w: write to read-only page %s", mm.ErrIllegalAccess, d.Page())
		}
		return errUnresolved
	default:
		return t.p.mm.HandleUserFault(t.AsyncContext(), d.Addr, d.AccessType(), d.SP)
	}
}

// kill reports an exception that could not be handled. An exception in user
// code kills the process. An exception in kernel code is a kernel bug and
// halts the kernel.
func (t *Task) kill(regs *arch.Registers) {
	switch regs.CS {
	case arch.UserCS:
		fmt.Fprintf(t.k.console, "%s: dying due to interrupt 0x%02x (%s).\n", t.p.name, uint8(regs.Vector), regs.Vector)
		regs.DumpTo(t.k.console)
		t.countKill(regs)
		t.p.Exit(-1)
	case arch.KernelCS:
		regs.DumpTo(t.k.console)
		if regs.Vector == arch.PageFault {
			faultOutcomeMetric.Increment("halted")
		}
		t.k.Halt("Kernel bug - unexpected interrupt in kernel")
	default:
		fmt.Fprintf(t.k.console, "Interrupt 0x%02x (%s) in unknown segment %04x\n", uint8(regs.Vector), regs.Vector, regs.CS)
		t.countKill(regs)
		t.p.Exit(-1)
	}
}

func (t *Task) countKill(regs *arch.Registers) {
	if regs.Vector == arch.PageFault {
		faultOutcomeMetric.Increment("killed")
	}
}
