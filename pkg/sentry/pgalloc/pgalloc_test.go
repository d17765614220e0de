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

package pgalloc

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"vmfault.dev/vmfault/pkg/errors/linuxerr"
	"vmfault.dev/vmfault/pkg/hostarch"
)

func newTestFile(t *testing.T, opts MemoryFileOpts) *MemoryFile {
	t.Helper()
	mf, err := NewMemoryFile(t.Name(), opts)
	if err != nil {
		t.Fatalf("NewMemoryFile: %v", err)
	}
	t.Cleanup(mf.Destroy)
	return mf
}

// testOwner frees its frame on Evict unless busy is set.
type testOwner struct {
	mf      *MemoryFile
	frame   Frame
	page    hostarch.Addr
	busy    bool
	evicted bool
}

func (o *testOwner) Page() hostarch.Addr { return o.page }

func (o *testOwner) Evict() error {
	if o.busy {
		return linuxerr.EBUSY
	}
	o.evicted = true
	o.mf.Free(o.frame)
	return nil
}

func TestAllocateExhaustion(t *testing.T) {
	mf := newTestFile(t, MemoryFileOpts{Frames: 3})
	seen := make(map[Frame]bool)
	for i := 0; i < 3; i++ {
		fr, err := mf.Allocate(false)
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		if seen[fr] {
			t.Fatalf("Allocate returned %s twice", fr)
		}
		seen[fr] = true
	}
	if _, err := mf.Allocate(false); !errors.Is(err, linuxerr.ENOMEM) {
		t.Errorf("Allocate on a full pool got err %v, want ENOMEM", err)
	}
	mf.Free(1)
	if fr, err := mf.Allocate(false); err != nil || fr != 1 {
		t.Errorf("Allocate after Free = %s, %v; want frame#1", fr, err)
	}
	want := Stats{Total: 3, Used: 3}
	if diff := cmp.Diff(want, mf.Stats()); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
}

func TestAllocateZero(t *testing.T) {
	mf := newTestFile(t, MemoryFileOpts{Frames: 1})
	fr, err := mf.Allocate(false)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b := mf.Bytes(fr)
	for i := range b {
		b[i] = 0xaa
	}
	mf.Free(fr)

	fr, err = mf.Allocate(true)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for i, c := range mf.Bytes(fr) {
		if c != 0 {
			t.Fatalf("byte %d of zeroed frame = %#x", i, c)
		}
	}
}

func TestFreeTwicePanics(t *testing.T) {
	mf := newTestFile(t, MemoryFileOpts{Frames: 1})
	fr, err := mf.Allocate(false)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	mf.Free(fr)
	defer func() {
		if recover() == nil {
			t.Errorf("second Free did not panic")
		}
	}()
	mf.Free(fr)
}

func TestOwner(t *testing.T) {
	mf := newTestFile(t, MemoryFileOpts{Frames: 2})
	fr, _ := mf.Allocate(false)
	if _, ok := mf.Owner(fr); ok {
		t.Fatalf("new frame has an owner")
	}
	o := &testOwner{mf: mf, frame: fr, page: 0x1000}
	mf.SetOwner(fr, o)
	if got, ok := mf.Owner(fr); !ok || got != o {
		t.Errorf("Owner = %v, %t; want %v", got, ok, o)
	}
	mf.SetOwner(fr, nil)
	if _, ok := mf.Owner(fr); ok {
		t.Errorf("owner not cleared")
	}
	mf.SetOwner(fr, o)
	mf.Free(fr)
	if _, ok := mf.Owner(fr); ok {
		t.Errorf("Free did not clear owner")
	}
}

func TestEvictFIFO(t *testing.T) {
	mf := newTestFile(t, MemoryFileOpts{Frames: 3, Evict: true})
	owners := make([]*testOwner, 3)
	for i := range owners {
		fr, err := mf.Allocate(false)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		owners[i] = &testOwner{mf: mf, frame: fr, page: hostarch.Addr(i) * hostarch.PageSize}
		mf.SetOwner(fr, owners[i])
	}
	// The oldest frame is busy, so the next one goes.
	owners[0].busy = true
	fr, err := mf.Allocate(true)
	if err != nil {
		t.Fatalf("Allocate with eviction: %v", err)
	}
	if fr != owners[1].frame || !owners[1].evicted || owners[0].evicted {
		t.Errorf("evicted frame %s, owners evicted = [%t %t %t]", fr, owners[0].evicted, owners[1].evicted, owners[2].evicted)
	}
	if got := mf.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestEvictNothingOwned(t *testing.T) {
	mf := newTestFile(t, MemoryFileOpts{Frames: 1, Evict: true})
	if _, err := mf.Allocate(false); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := mf.Allocate(false); !errors.Is(err, linuxerr.ENOMEM) {
		t.Errorf("Allocate with no owned frames got err %v, want ENOMEM", err)
	}
}

func TestContext(t *testing.T) {
	mf := newTestFile(t, MemoryFileOpts{Frames: 1})
	if MemoryFileFromContext(context.Background()) != nil {
		t.Errorf("empty context has a MemoryFile")
	}
	if got := MemoryFileFromContext(WithMemoryFile(context.Background(), mf)); got != mf {
		t.Errorf("MemoryFileFromContext = %p, want %p", got, mf)
	}
}
