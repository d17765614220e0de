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

import "fmt"

// Vector describes an x86 exception slot.
type Vector uint8

// Exception vectors that can be raised by user or kernel code.
const (
	DivideError            Vector = 0
	Debug                  Vector = 1
	Breakpoint             Vector = 3
	Overflow               Vector = 4
	BoundRangeExceeded     Vector = 5
	InvalidOpcode          Vector = 6
	DeviceNotAvailable     Vector = 7
	SegmentNotPresent      Vector = 11
	StackFault             Vector = 12
	GeneralProtectionFault Vector = 13
	PageFault              Vector = 14
	X87FloatingPointError  Vector = 16
	SIMDFloatingPointError Vector = 19
)

var vectorNames = map[Vector]string{
	DivideError:            "#DE Divide Error",
	Debug:                  "#DB Debug Exception",
	Breakpoint:             "#BP Breakpoint Exception",
	Overflow:               "#OF Overflow Exception",
	BoundRangeExceeded:     "#BR BOUND Range Exceeded Exception",
	InvalidOpcode:          "#UD Invalid Opcode Exception",
	DeviceNotAvailable:     "#NM Device Not Available Exception",
	SegmentNotPresent:      "#NP Segment Not Present",
	StackFault:             "#SS Stack Fault Exception",
	GeneralProtectionFault: "#GP General Protection Exception",
	PageFault:              "#PF Page-Fault Exception",
	X87FloatingPointError:  "#MF x87 FPU Floating-Point Error",
	SIMDFloatingPointError: "#XF SIMD Floating-Point Exception",
}

// String implements fmt.Stringer.
func (v Vector) String() string {
	if name, ok := vectorNames[v]; ok {
		return name
	}
	return fmt.Sprintf("unknown vector %d", uint8(v))
}

// UserRaisable returns true if user code may raise v directly with an INT,
// INT3, INTO or BOUND instruction.
func (v Vector) UserRaisable() bool {
	switch v {
	case Breakpoint, Overflow, BoundRangeExceeded:
		return true
	default:
		return false
	}
}
