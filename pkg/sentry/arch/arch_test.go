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
	"bytes"
	"strings"
	"testing"

	"vmfault.dev/vmfault/pkg/hostarch"
)

func TestLayoutValid(t *testing.T) {
	for _, tc := range []struct {
		name    string
		layout  Layout
		wantErr bool
	}{
		{
			name:   "default",
			layout: DefaultLayout(),
		},
		{
			name:    "unaligned base",
			layout:  Layout{KernelBase: 0xc0000010, MaxStack: DefaultMaxStack},
			wantErr: true,
		},
		{
			name:    "zero stack",
			layout:  Layout{KernelBase: DefaultKernelBase},
			wantErr: true,
		},
		{
			name:    "stack larger than user space",
			layout:  Layout{KernelBase: 0x10000, MaxStack: 0x20000},
			wantErr: true,
		},
		{
			name:    "margin too large",
			layout:  Layout{KernelBase: DefaultKernelBase, MaxStack: DefaultMaxStack, StackMargin: hostarch.PageSize},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.layout.Valid()
			if gotErr := err != nil; gotErr != tc.wantErr {
				t.Errorf("Valid() = %v, wantErr %t", err, tc.wantErr)
			}
		})
	}
}

func TestLayoutRanges(t *testing.T) {
	l := DefaultLayout()
	if !l.IsKernelAddr(DefaultKernelBase + 0x10) {
		t.Errorf("IsKernelAddr(base+0x10) = false")
	}
	if l.IsUserAddr(DefaultKernelBase) {
		t.Errorf("IsUserAddr(base) = true")
	}
	if got, want := l.StackLimit(), hostarch.Addr(0xbf800000); got != want {
		t.Errorf("StackLimit() = %s, want %s", got, want)
	}
	if got := l.StackTop(); got != DefaultKernelBase {
		t.Errorf("StackTop() = %s, want %s", got, DefaultKernelBase)
	}
}

func TestSimCPUFaultAddress(t *testing.T) {
	c := NewSimCPU()
	c.RaiseFault(0x1234)
	c.DisableInterrupts()
	if c.InterruptsEnabled() {
		t.Fatalf("interrupts enabled after DisableInterrupts")
	}
	if got := c.FaultAddress(); got != 0x1234 {
		t.Errorf("FaultAddress() = %s, want 0x1234", got)
	}
	c.EnableInterrupts()
	c.RaiseFault(0x5678)
	c.FaultAddress()
	total, unmasked := c.FaultAddressReads()
	if total != 2 || unmasked != 1 {
		t.Errorf("FaultAddressReads() = %d, %d; want 2, 1", total, unmasked)
	}
}

func TestVectorString(t *testing.T) {
	if got, want := PageFault.String(), "#PF Page-Fault Exception"; got != want {
		t.Errorf("PageFault.String() = %q, want %q", got, want)
	}
	if got := Vector(2).String(); !strings.HasPrefix(got, "unknown") {
		t.Errorf("Vector(2).String() = %q", got)
	}
	if !Breakpoint.UserRaisable() || PageFault.UserRaisable() {
		t.Errorf("UserRaisable mismatch")
	}
}

func TestDumpTo(t *testing.T) {
	r := Registers{Vector: PageFault, ErrorCode: 6, CS: UserCS, IP: 0x8048000, SP: 0xbffffffc}
	var buf bytes.Buffer
	r.DumpTo(&buf)
	for _, want := range []string{"0x0e", "#PF", "error=00000006", "cs=001b", "esp=0xbffffffc"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("DumpTo output %q missing %q", buf.String(), want)
		}
	}
	if !r.UserMode() {
		t.Errorf("UserMode() = false for CS %#x", r.CS)
	}
}
