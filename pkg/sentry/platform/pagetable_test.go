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

package platform

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"vmfault.dev/vmfault/pkg/errors/linuxerr"
	"vmfault.dev/vmfault/pkg/hostarch"
)

func TestMapFile(t *testing.T) {
	pt := NewPageTable()
	if err := pt.MapFile(0x1001, 1, true); err != linuxerr.EINVAL {
		t.Errorf("MapFile(unaligned) = %v, want EINVAL", err)
	}
	if err := pt.MapFile(0x1000, 1, false); err != nil {
		t.Fatalf("MapFile: %v", err)
	}
	if err := pt.MapFile(0x1000, 2, true); err != linuxerr.EEXIST {
		t.Errorf("MapFile(mapped) = %v, want EEXIST", err)
	}
	got, ok := pt.Translate(0x1abc)
	if !ok {
		t.Fatalf("Translate(0x1abc) not present")
	}
	if diff := cmp.Diff(Mapping{Frame: 1}, got); diff != "" {
		t.Errorf("Translate mismatch (-want +got):\n%s", diff)
	}
	pt.Unmap(0x1000)
	if _, ok := pt.Translate(0x1000); ok {
		t.Errorf("Translate after Unmap is present")
	}
}

func TestAccess(t *testing.T) {
	pt := NewPageTable()
	pt.MapFile(0x1000, 3, false)
	pt.MapFile(0x2000, 4, true)

	for _, tc := range []struct {
		name      string
		addr      hostarch.Addr
		write     bool
		wantFault *FaultError
		wantCode  uint64
	}{
		{name: "absent read", addr: 0x5000, wantFault: &FaultError{Addr: 0x5000}, wantCode: 4},
		{name: "absent write", addr: 0x5008, write: true, wantFault: &FaultError{Addr: 0x5008, Write: true}, wantCode: 6},
		{name: "read-only write", addr: 0x1010, write: true, wantFault: &FaultError{Addr: 0x1010, Present: true, Write: true}, wantCode: 7},
		{name: "read-only read", addr: 0x1010},
		{name: "writable write", addr: 0x2010, write: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := pt.Access(tc.addr, tc.write)
			if tc.wantFault == nil {
				if err != nil {
					t.Fatalf("Access: %v", err)
				}
				return
			}
			var fe *FaultError
			if !errors.As(err, &fe) {
				t.Fatalf("Access got %v, want *FaultError", err)
			}
			if diff := cmp.Diff(tc.wantFault, fe); diff != "" {
				t.Errorf("fault mismatch (-want +got):\n%s", diff)
			}
			if got := fe.ErrorCode(true); got != tc.wantCode {
				t.Errorf("ErrorCode(true) = %#x, want %#x", got, tc.wantCode)
			}
		})
	}

	m, _ := pt.Translate(0x2000)
	if !m.Accessed || !m.Dirty {
		t.Errorf("write did not set accessed/dirty: %+v", m)
	}
	m, _ = pt.Translate(0x1000)
	if !m.Accessed || m.Dirty {
		t.Errorf("read set wrong bits: %+v", m)
	}
}

func TestRelease(t *testing.T) {
	pt := NewPageTable()
	pt.MapFile(0x1000, 1, true)
	pt.MapFile(0x2000, 2, true)
	pt.Release()
	if got := pt.Len(); got != 0 {
		t.Errorf("Len() after Release = %d, want 0", got)
	}
}
