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

// Package scenario describes and runs fault simulation scenarios. A scenario
// is a YAML document listing processes, the segments mapped into them, and
// the memory accesses their threads make.
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/sentry/arch"
)

// Op is a step operation.
type Op string

// Step operations.
const (
	// OpWrite writes Data at Addr from user mode.
	OpWrite Op = "write"

	// OpRead reads Length bytes at Addr from user mode, and compares them
	// with Expect if it is set.
	OpRead Op = "read"

	// OpKernelWrite and OpKernelRead are OpWrite and OpRead done by the
	// kernel on the thread's behalf, as in a system call.
	OpKernelWrite Op = "kwrite"
	OpKernelRead  Op = "kread"

	// OpSetSP moves the thread's stack pointer to Addr.
	OpSetSP Op = "setsp"

	// OpEvict evicts the page containing Addr.
	OpEvict Op = "evict"

	// OpFault delivers a raw page fault at Addr.
	OpFault Op = "fault"

	// OpException raises Vector in user mode.
	OpException Op = "exception"

	// OpInterrupt executes an INT instruction for Vector.
	OpInterrupt Op = "interrupt"
)

var ops = map[Op]struct{}{
	OpWrite:       {},
	OpRead:        {},
	OpKernelWrite: {},
	OpKernelRead:  {},
	OpSetSP:       {},
	OpEvict:       {},
	OpFault:       {},
	OpException:   {},
	OpInterrupt:   {},
}

// Scenario is a complete simulation.
type Scenario struct {
	// Name names the scenario in reports.
	Name string `yaml:"name"`

	// Config holds flag overrides applied for this scenario only.
	Config map[string]string `yaml:"config"`

	Processes []Process `yaml:"processes"`

	// ExpectHalt is true if the scenario must halt the kernel.
	ExpectHalt bool `yaml:"expect_halt"`

	// dir is the directory relative file paths are resolved against.
	dir string
}

// Process is a process and its address space.
type Process struct {
	Name string `yaml:"name"`

	// Stack maps the top stack page before any thread runs. It defaults to
	// true.
	Stack *bool `yaml:"stack"`

	Segments []Segment `yaml:"segments"`
	Threads  []Thread  `yaml:"threads"`

	// ExpectExit is the exit status the process must end with. If nil, the
	// process must still be running when its threads finish.
	ExpectExit *int `yaml:"expect_exit"`
}

// Segment is a lazily loaded region of a file.
type Segment struct {
	// File is the path of the backing file. Data may be given instead.
	File string `yaml:"file"`
	Data string `yaml:"data"`

	Offset    int64   `yaml:"offset"`
	Addr      Address `yaml:"addr"`
	ReadBytes uint64  `yaml:"read_bytes"`
	ZeroBytes uint64  `yaml:"zero_bytes"`
	Writable  bool    `yaml:"writable"`
}

// Thread is a sequence of steps run by one task.
type Thread struct {
	// SP is the initial stack pointer. It defaults to the stack top.
	SP    *Address `yaml:"sp"`
	Steps []Step   `yaml:"steps"`
}

// Step is one operation made by a thread.
type Step struct {
	Op     Op      `yaml:"op"`
	Addr   Address `yaml:"addr"`
	Data   string  `yaml:"data"`
	Length int     `yaml:"length"`
	Expect *string `yaml:"expect"`

	// Vector is the exception raised by OpException and OpInterrupt.
	Vector uint8 `yaml:"vector"`

	// Error code bits and mode for OpFault.
	Present bool `yaml:"present"`
	Write   bool `yaml:"write"`
	Kernel  bool `yaml:"kernel"`
}

// Address is a virtual address, written either as a number or relative to
// the kernel base, e.g. "kernel_base + 0x10" or "stack_top - 4".
type Address struct {
	// Relative is true if the address is an offset from the kernel base.
	Relative bool
	Offset   int64
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Address) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: address must be a scalar", node.Line)
	}
	v, err := ParseAddress(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*a = v
	return nil
}

// ParseAddress parses an address expression.
func ParseAddress(s string) (Address, error) {
	expr := strings.ReplaceAll(s, " ", "")
	for _, base := range []string{"stack_top", "kernel_base"} {
		rest, ok := strings.CutPrefix(expr, base)
		if !ok {
			continue
		}
		if rest == "" {
			return Address{Relative: true}, nil
		}
		off, err := strconv.ParseInt(rest, 0, 64)
		if err != nil {
			return Address{}, fmt.Errorf("invalid offset in address %q: %w", s, err)
		}
		return Address{Relative: true, Offset: off}, nil
	}
	v, err := strconv.ParseUint(expr, 0, 64)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return Address{Offset: int64(v)}, nil
}

// Resolve returns the address in layout l.
func (a Address) Resolve(l arch.Layout) hostarch.Addr {
	if a.Relative {
		return l.KernelBase + hostarch.Addr(a.Offset)
	}
	return hostarch.Addr(a.Offset)
}

// Load reads the scenario in the YAML file at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.dir = dirOf(path)
	return s, nil
}

// Parse decodes a scenario. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	s := &Scenario{}
	if err := dec.Decode(s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks s for errors that do not depend on the configuration.
func (s *Scenario) Validate() error {
	if len(s.Processes) == 0 {
		return fmt.Errorf("scenario %q has no processes", s.Name)
	}
	names := make(map[string]struct{})
	for i, p := range s.Processes {
		if p.Name == "" {
			return fmt.Errorf("process %d has no name", i)
		}
		if _, ok := names[p.Name]; ok {
			return fmt.Errorf("duplicate process name %q", p.Name)
		}
		names[p.Name] = struct{}{}

		for j, seg := range p.Segments {
			if (seg.File == "") == (seg.Data == "") && seg.ReadBytes > 0 {
				return fmt.Errorf("process %q segment %d: exactly one of file and data is required", p.Name, j)
			}
			if (seg.ReadBytes+seg.ZeroBytes)%hostarch.PageSize != 0 {
				return fmt.Errorf("process %q segment %d: read_bytes + zero_bytes must be a multiple of the page size", p.Name, j)
			}
		}
		for j, th := range p.Threads {
			for k, st := range th.Steps {
				if err := st.validate(); err != nil {
					return fmt.Errorf("process %q thread %d step %d: %w", p.Name, j, k, err)
				}
			}
		}
	}
	return nil
}

func (st *Step) validate() error {
	if _, ok := ops[st.Op]; !ok {
		return fmt.Errorf("unknown op %q", st.Op)
	}
	switch st.Op {
	case OpWrite, OpKernelWrite:
		if st.Data == "" {
			return fmt.Errorf("%s needs data", st.Op)
		}
	case OpRead, OpKernelRead:
		if st.Length <= 0 && st.Expect == nil {
			return fmt.Errorf("%s needs length or expect", st.Op)
		}
		if st.Expect != nil && st.Length != 0 && st.Length != len(*st.Expect) {
			return fmt.Errorf("%s length %d does not match expect", st.Op, st.Length)
		}
	}
	return nil
}

// length returns the number of bytes a read step reads.
func (st *Step) length() int {
	if st.Length > 0 {
		return st.Length
	}
	return len(*st.Expect)
}

// stack returns true if p's stack is mapped up front.
func (p *Process) stack() bool {
	return p.Stack == nil || *p.Stack
}
