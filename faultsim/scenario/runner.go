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

package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"
	"vmfault.dev/vmfault/faultsim/config"
	"vmfault.dev/vmfault/faultsim/flag"
	"vmfault.dev/vmfault/pkg/cleanup"
	"vmfault.dev/vmfault/pkg/errors/linuxerr"
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/log"
	"vmfault.dev/vmfault/pkg/sentry/arch"
	"vmfault.dev/vmfault/pkg/sentry/kernel"
	"vmfault.dev/vmfault/pkg/sync"
)

// ErrExpectation is returned by Run when the scenario ran to completion but
// its outcome differs from what it expects.
var ErrExpectation = errors.New("scenario expectation not met")

// ProcessResult is the outcome of one process.
type ProcessResult struct {
	Name       string
	Exited     bool
	ExitStatus int
	Entries    int
	Resident   int
	Swapped    int
}

// Result is the outcome of a scenario.
type Result struct {
	Name       string
	Halted     bool
	HaltReason string
	PageFaults uint64
	Processes  []ProcessResult

	// Console holds everything the kernel printed.
	Console string
}

// Report writes a summary of r to w.
func (r *Result) Report(w io.Writer) {
	fmt.Fprintf(w, "Scenario %q:\n", r.Name)
	for _, p := range r.Processes {
		state := "running"
		if p.Exited {
			state = fmt.Sprintf("exit(%d)", p.ExitStatus)
		}
		fmt.Fprintf(w, "  %-16s %-10s pages=%d resident=%d swapped=%d\n", p.Name, state, p.Entries, p.Resident, p.Swapped)
	}
	if r.Halted {
		fmt.Fprintf(w, "  kernel halted: %s\n", r.HaltReason)
	}
	fmt.Fprintf(w, "Exception: %d page faults\n", r.PageFaults)
}

// haltError is returned by a thread that halted the kernel.
type haltError struct {
	err error
}

func (e *haltError) Error() string { return e.err.Error() }
func (e *haltError) Unwrap() error { return e.err }

// syncWriter serializes writes from concurrent tasks.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(b)
}

// ApplyOverrides returns a copy of conf with the scenario's config overrides
// applied.
func (s *Scenario) ApplyOverrides(conf *config.Config) (*config.Config, error) {
	conf = conf.Clone()
	names := make([]string, 0, len(s.Config))
	for name := range s.Config {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		flagSet := flag.NewFlagSet("scenario", flag.ContinueOnError)
		config.RegisterFlags(flagSet)
		if err := conf.Override(flagSet, name, s.Config[name]); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
		}
	}
	return conf, nil
}

// Run runs s on a new kernel configured by conf. Console output is copied to
// out if it is not nil.
//
// Run returns an error wrapping ErrExpectation if the outcome differs from
// the one s expects, and other errors if the scenario could not be run. The
// Result is nil if a thread failed before the scenario finished.
func Run(ctx context.Context, conf *config.Config, s *Scenario, out io.Writer) (*Result, error) {
	conf, err := s.ApplyOverrides(conf)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	var console io.Writer = &buf
	if out != nil {
		console = io.MultiWriter(&buf, out)
	}
	console = &syncWriter{w: console}

	k := &kernel.Kernel{}
	if err := k.Init(conf.KernelArgs(console)); err != nil {
		return nil, fmt.Errorf("initializing kernel: %w", err)
	}
	cu := cleanup.Make(k.Release)
	defer cu.Clean()

	procs := make([]*kernel.Process, len(s.Processes))
	for i := range s.Processes {
		p, closeFiles, err := s.newProcess(k, &s.Processes[i])
		cu.Add(closeFiles)
		if err != nil {
			return nil, err
		}
		procs[i] = p
	}

	log.Infof("Running scenario %q with %d processes", s.Name, len(procs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range s.Processes {
		sp := &s.Processes[i]
		for j := range sp.Threads {
			th := &sp.Threads[j]
			p := procs[i]
			g.Go(func() error {
				return runThread(gctx, k, p, th)
			})
		}
	}

	res := &Result{Name: s.Name}
	var halt *haltError
	if err := g.Wait(); err != nil {
		if !errors.As(err, &halt) {
			return nil, err
		}
		res.Halted = true
		res.HaltReason = halt.err.Error()
	}

	for i, p := range procs {
		st := p.MemoryManager().Stats()
		status, exited := p.ExitStatus()
		res.Processes = append(res.Processes, ProcessResult{
			Name:       s.Processes[i].Name,
			Exited:     exited,
			ExitStatus: status,
			Entries:    st.Entries,
			Resident:   st.Resident,
			Swapped:    st.Swapped,
		})
	}
	res.PageFaults = k.PageFaults()

	// Processes still running are torn down before the console is captured.
	if !res.Halted {
		for _, p := range procs {
			p.Exit(0)
		}
	}
	res.Console = buf.String()

	return res, s.check(res)
}

// newProcess creates the process described by sp and maps its segments. The
// returned function closes the files the segments read from.
func (s *Scenario) newProcess(k *kernel.Kernel, sp *Process) (*kernel.Process, func(), error) {
	var files []*os.File
	closeFiles := func() {
		for _, f := range files {
			f.Close()
		}
	}

	p := k.NewProcess(sp.Name)
	mm := p.MemoryManager()
	layout := k.Layout()
	for i, seg := range sp.Segments {
		var r io.ReaderAt
		switch {
		case seg.File != "":
			path := seg.File
			if !filepath.IsAbs(path) {
				path = filepath.Join(s.dir, path)
			}
			f, err := os.Open(path)
			if err != nil {
				return nil, closeFiles, fmt.Errorf("process %q segment %d: %w", sp.Name, i, err)
			}
			files = append(files, f)
			r = f
		default:
			r = bytes.NewReader([]byte(seg.Data))
		}
		if err := mm.MapSegment(r, seg.Offset, seg.Addr.Resolve(layout), seg.ReadBytes, seg.ZeroBytes, seg.Writable); err != nil {
			return nil, closeFiles, fmt.Errorf("process %q segment %d: %w", sp.Name, i, err)
		}
	}
	if sp.stack() {
		if _, err := mm.SetupStack(); err != nil {
			return nil, closeFiles, fmt.Errorf("process %q: %w", sp.Name, err)
		}
	}
	return p, closeFiles, nil
}

// runThread runs th's steps on a new task in p until they are done or p
// exits. A kernel halt is returned as a *haltError.
func runThread(ctx context.Context, k *kernel.Kernel, p *kernel.Process, th *Thread) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok && errors.Is(err, kernel.ErrKernelFault) {
				retErr = &haltError{err: err}
				return
			}
			panic(r)
		}
	}()

	layout := k.Layout()
	sp := layout.StackTop()
	if th.SP != nil {
		sp = th.SP.Resolve(layout)
	}
	t := p.NewTask(sp)
	for i := range th.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Exited() {
			return nil
		}
		if err := runStep(t, &th.Steps[i], layout); err != nil {
			return fmt.Errorf("process %q step %d (%s): %w", p.Name(), i, th.Steps[i].Op, err)
		}
	}
	return nil
}

func runStep(t *kernel.Task, st *Step, layout arch.Layout) error {
	addr := st.Addr.Resolve(layout)
	switch st.Op {
	case OpWrite:
		_, err := t.CopyOut(addr, []byte(st.Data))
		return ignoreFault(err)
	case OpKernelWrite:
		t.EnterKernel()
		_, err := t.KernelCopyOut(addr, []byte(st.Data))
		return ignoreFault(err)
	case OpRead, OpKernelRead:
		buf := make([]byte, st.length())
		var err error
		if st.Op == OpRead {
			_, err = t.CopyIn(addr, buf)
		} else {
			t.EnterKernel()
			_, err = t.KernelCopyIn(addr, buf)
		}
		if err != nil {
			return ignoreFault(err)
		}
		if st.Expect != nil && string(buf) != *st.Expect {
			return fmt.Errorf("%w: read %q at %s, want %q", ErrExpectation, buf, addr, *st.Expect)
		}
		return nil
	case OpSetSP:
		t.SetStackPointer(addr)
		return nil
	case OpEvict:
		return t.Process().MemoryManager().Evict(addr)
	case OpFault:
		regs := arch.Registers{
			Vector: arch.PageFault,
			CS:     arch.UserCS,
			SP:     t.StackPointer(),
		}
		if st.Present {
			regs.ErrorCode |= arch.ErrorCodePresent
		}
		if st.Write {
			regs.ErrorCode |= arch.ErrorCodeWrite
		}
		if st.Kernel {
			regs.CS = arch.KernelCS
			regs.SP = layout.KernelBase + hostarch.PageSize
			t.EnterKernel()
		} else {
			regs.ErrorCode |= arch.ErrorCodeUser
		}
		t.CPU().RaiseFault(addr)
		t.HandlePageFault(&regs)
		return nil
	case OpException:
		t.HandleException(&arch.Registers{
			Vector: arch.Vector(st.Vector),
			CS:     arch.UserCS,
			SP:     t.StackPointer(),
		})
		return nil
	case OpInterrupt:
		t.Interrupt(arch.Vector(st.Vector))
		return nil
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
}

// ignoreFault drops EFAULT, which a copy returns when the process was killed
// by the fault. Whether that was expected is checked at the end.
func ignoreFault(err error) error {
	if errors.Is(err, linuxerr.EFAULT) {
		return nil
	}
	return err
}

// check compares res with the outcome s expects.
func (s *Scenario) check(res *Result) error {
	if res.Halted != s.ExpectHalt {
		return fmt.Errorf("%w: halted=%t, want %t", ErrExpectation, res.Halted, s.ExpectHalt)
	}
	if res.Halted {
		return nil
	}
	for i, p := range s.Processes {
		got := res.Processes[i]
		switch {
		case p.ExpectExit == nil && got.Exited:
			return fmt.Errorf("%w: process %q exited with %d, want running", ErrExpectation, p.Name, got.ExitStatus)
		case p.ExpectExit != nil && !got.Exited:
			return fmt.Errorf("%w: process %q is running, want exit(%d)", ErrExpectation, p.Name, *p.ExpectExit)
		case p.ExpectExit != nil && got.ExitStatus != *p.ExpectExit:
			return fmt.Errorf("%w: process %q exited with %d, want %d", ErrExpectation, p.Name, got.ExitStatus, *p.ExpectExit)
		}
	}
	return nil
}

func dirOf(path string) string {
	return filepath.Dir(path)
}
