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

package mm

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"vmfault.dev/vmfault/pkg/errors/linuxerr"
	"vmfault.dev/vmfault/pkg/hostarch"
)

func pages(es []*Entry) []hostarch.Addr {
	var ps []hostarch.Addr
	for _, e := range es {
		ps = append(ps, e.Page())
	}
	return ps
}

func TestSPTInsertLookup(t *testing.T) {
	spt := NewSupplementalPageTable()
	for _, p := range []hostarch.Addr{0x3000, 0x1000, 0x8000} {
		if err := spt.Insert(newEntry(nil, p, ZeroFill{}, true)); err != nil {
			t.Fatalf("Insert(%s): %v", p, err)
		}
	}
	if err := spt.Insert(newEntry(nil, 0x3000, ZeroFill{}, false)); err != linuxerr.EEXIST {
		t.Errorf("Insert(duplicate) = %v, want EEXIST", err)
	}
	if err := spt.Insert(newEntry(nil, 0x3004, ZeroFill{}, false)); err != linuxerr.EINVAL {
		t.Errorf("Insert(unaligned) = %v, want EINVAL", err)
	}

	e, ok := spt.Lookup(0x3ffc)
	if !ok || e.Page() != 0x3000 || !e.Writable() {
		t.Errorf("Lookup(0x3ffc) = %v, %t; want the writable entry at 0x3000", e, ok)
	}
	if _, ok := spt.Lookup(0x4000); ok {
		t.Errorf("Lookup(0x4000) found an entry")
	}

	want := []hostarch.Addr{0x1000, 0x3000, 0x8000}
	if diff := cmp.Diff(want, pages(spt.Entries())); diff != "" {
		t.Errorf("Entries mismatch (-want +got):\n%s", diff)
	}

	for _, tc := range []struct {
		addr hostarch.Addr
		want hostarch.Addr
		ok   bool
	}{
		{0x0, 0x1000, true},
		{0x1000, 0x1000, true},
		{0x1001, 0x1000, true},
		{0x2000, 0x3000, true},
		{0x9000, 0, false},
	} {
		e, ok := spt.NextAtOrAbove(tc.addr)
		if ok != tc.ok || (ok && e.Page() != tc.want) {
			t.Errorf("NextAtOrAbove(%s) = %v, %t; want %s, %t", tc.addr, e, ok, tc.want, tc.ok)
		}
	}

	if _, ok := spt.Remove(0x3010); !ok {
		t.Errorf("Remove(0x3010) found nothing")
	}
	if got := spt.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	if got := len(spt.release()); got != 2 {
		t.Errorf("release() returned %d entries, want 2", got)
	}
	if got := spt.Len(); got != 0 {
		t.Errorf("Len() after release = %d, want 0", got)
	}
	if err := spt.Insert(newEntry(nil, 0x1000, ZeroFill{}, true)); !errors.Is(err, ErrReleased) {
		t.Errorf("Insert after release = %v, want ErrReleased", err)
	}
}

func TestEntryState(t *testing.T) {
	e := newEntry(nil, 0x5000, SwapBacking{Slot: 3}, false)
	want := EntryState{Page: 0x5000, Backing: SwapBacking{Slot: 3}}
	if diff := cmp.Diff(want, e.State()); diff != "" {
		t.Errorf("State mismatch (-want +got):\n%s", diff)
	}
	if got, want := e.State().String(), "0x5000 r- swap[slot#3]"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
