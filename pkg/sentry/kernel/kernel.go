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

// Package kernel provides the trap path of the kernel: processes, their
// tasks, and the handlers that turn CPU exceptions into resolved page faults,
// process exits or a kernel halt.
//
// Lock order:
//
//	Kernel.mu
//		Process.mu
package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"vmfault.dev/vmfault/pkg/log"
	"vmfault.dev/vmfault/pkg/metric"
	"vmfault.dev/vmfault/pkg/sentry/arch"
	"vmfault.dev/vmfault/pkg/sentry/mm"
	"vmfault.dev/vmfault/pkg/sentry/pgalloc"
	"vmfault.dev/vmfault/pkg/sentry/swap"
	"vmfault.dev/vmfault/pkg/sync"
)

// ErrKernelFault is the value the kernel panics with when it halts because
// kernel code faulted.
var ErrKernelFault = errors.New("kernel fault")

var (
	pageFaultsMetric   = metric.MustCreateNewUint64Metric("/kernel/page_faults", true, "Page faults taken.")
	faultOutcomeMetric = metric.MustCreateNewUint64Metric("/kernel/fault_outcomes", true, "Page faults by outcome.",
		metric.NewField("outcome", "resolved", "killed", "halted"))
)

// haltFn stops the machine. It does not return.
var haltFn = func(reason string) {
	panic(fmt.Errorf("%w: %s", ErrKernelFault, reason))
}

// InitKernelArgs holds arguments to Init.
type InitKernelArgs struct {
	// Layout is the virtual address space split shared by all processes.
	Layout arch.Layout

	// Frames is the number of physical frames.
	Frames uint32

	// Evict enables evicting resident pages when frames run out.
	Evict bool

	// SwapPath is the path of the swap file. If empty, an anonymous swap
	// device is used.
	SwapPath string

	// SwapSlots is the number of swap slots.
	SwapSlots uint32

	// AtomicStackGrowth makes a failed stack growth undo its pages.
	AtomicStackGrowth bool

	// Console receives kill reports and exit messages. If nil, os.Stdout
	// is used.
	Console io.Writer

	// FaultLogInterval limits how often per-fault diagnostics are logged.
	// Zero disables the limit.
	FaultLogInterval time.Duration
}

// Kernel owns physical memory, swap and the set of processes.
type Kernel struct {
	// The following fields are immutable after Init.
	layout            arch.Layout
	mf                *pgalloc.MemoryFile
	swap              *swap.Device
	store             mm.BackingStore
	atomicStackGrowth bool
	console           io.Writer
	faultLog          log.Logger

	// pageFaults counts page faults taken. It is only used for statistics.
	pageFaults atomic.Uint64

	// mu protects the following fields.
	mu        sync.Mutex
	nextPID   int32
	processes map[int32]*Process
}

// Init initializes the Kernel with no processes.
func (k *Kernel) Init(args InitKernelArgs) error {
	if err := args.Layout.Valid(); err != nil {
		return fmt.Errorf("invalid layout: %w", err)
	}
	if args.Frames == 0 {
		return fmt.Errorf("Frames is 0")
	}

	mf, err := pgalloc.NewMemoryFile("vmfault-memory", pgalloc.MemoryFileOpts{
		Frames: args.Frames,
		Evict:  args.Evict,
	})
	if err != nil {
		return fmt.Errorf("creating memory file: %w", err)
	}
	var dev *swap.Device
	if args.SwapSlots > 0 {
		if args.SwapPath != "" {
			dev, err = swap.Open(args.SwapPath, args.SwapSlots)
		} else {
			dev, err = swap.NewAnonymous(args.SwapSlots)
		}
		if err != nil {
			mf.Destroy()
			return fmt.Errorf("opening swap: %w", err)
		}
	}

	k.layout = args.Layout
	k.mf = mf
	k.swap = dev
	k.store = mm.NewLoader(mf, dev)
	k.atomicStackGrowth = args.AtomicStackGrowth
	k.console = args.Console
	if k.console == nil {
		k.console = os.Stdout
	}
	k.faultLog = log.Log()
	if args.FaultLogInterval > 0 {
		k.faultLog = log.RateLimitedLogger(log.Log(), args.FaultLogInterval)
	}
	k.processes = make(map[int32]*Process)
	log.Infof("Kernel initialized: %d frames, %d swap slots, stack top %s", args.Frames, args.SwapSlots, k.layout.StackTop())
	return nil
}

// Release releases the kernel's physical memory and swap device. All
// processes must have exited.
func (k *Kernel) Release() {
	k.mu.Lock()
	live := len(k.processes)
	k.mu.Unlock()
	if live != 0 {
		log.Warningf("Kernel released with %d live processes", live)
	}
	if k.swap != nil {
		if err := k.swap.Close(); err != nil {
			log.Warningf("Closing swap device: %v", err)
		}
	}
	k.mf.Destroy()
}

// Layout returns the address space layout.
func (k *Kernel) Layout() arch.Layout {
	return k.layout
}

// MemoryFile returns the kernel's physical memory.
func (k *Kernel) MemoryFile() *pgalloc.MemoryFile {
	return k.mf
}

// Swap returns the swap device, or nil if the kernel has none.
func (k *Kernel) Swap() *swap.Device {
	return k.swap
}

// SupervisorContext returns a context for work done by the kernel itself.
func (k *Kernel) SupervisorContext() context.Context {
	return pgalloc.WithMemoryFile(context.Background(), k.mf)
}

// PageFaults returns the number of page faults taken so far.
func (k *Kernel) PageFaults() uint64 {
	return k.pageFaults.Load()
}

// PrintStats writes the kernel's exception statistics to w.
func (k *Kernel) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Exception: %d page faults\n", k.PageFaults())
}

// Halt stops the kernel. It does not return.
func (k *Kernel) Halt(reason string) {
	log.Warningf("Kernel halted: %s", reason)
	haltFn(reason)
}

// NewProcess creates a process with an empty address space.
func (k *Kernel) NewProcess(name string) *Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextPID++
	p := &Process{
		k:    k,
		pid:  k.nextPID,
		name: name,
	}
	p.mm = mm.NewMemoryManager(mm.Opts{
		Layout:            k.layout,
		Frames:            k.mf,
		Memory:            k.mf,
		Store:             k.store,
		AddressSpace:      newAddressSpace(),
		AtomicStackGrowth: k.atomicStackGrowth,
	})
	k.processes[p.pid] = p
	return p
}

// Process returns the live process with the given PID.
func (k *Kernel) Process(pid int32) (*Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.processes[pid]
	return p, ok
}

func (k *Kernel) removeProcess(p *Process) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.processes, p.pid)
}
