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

package swap

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
	"vmfault.dev/vmfault/pkg/errors/linuxerr"
)

func page(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, SlotSize)
}

func TestRoundTrip(t *testing.T) {
	d, err := NewAnonymous(4)
	if err != nil {
		t.Fatalf("NewAnonymous: %v", err)
	}
	defer d.Close()

	a, _ := d.Reserve()
	b, _ := d.Reserve()
	if a == b {
		t.Fatalf("Reserve returned %s twice", a)
	}
	if err := d.Write(a, page('a')); err != nil {
		t.Fatalf("Write(%s): %v", a, err)
	}
	if err := d.Write(b, page('b')); err != nil {
		t.Fatalf("Write(%s): %v", b, err)
	}
	got := make([]byte, SlotSize)
	if err := d.Read(a, got); err != nil {
		t.Fatalf("Read(%s): %v", a, err)
	}
	if !bytes.Equal(got, page('a')) {
		t.Errorf("Read(%s) returned content of another slot", a)
	}
	if got := d.InUse(); got != 2 {
		t.Errorf("InUse() = %d, want 2", got)
	}
	d.Release(a)
	if got := d.InUse(); got != 1 {
		t.Errorf("InUse() after Release = %d, want 1", got)
	}
}

func TestReserveFull(t *testing.T) {
	d, err := NewAnonymous(1)
	if err != nil {
		t.Fatalf("NewAnonymous: %v", err)
	}
	defer d.Close()
	if _, err := d.Reserve(); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := d.Reserve(); err != linuxerr.ENOSPC {
		t.Errorf("Reserve on full device got %v, want ENOSPC", err)
	}
}

func TestUnreservedSlot(t *testing.T) {
	d, err := NewAnonymous(2)
	if err != nil {
		t.Fatalf("NewAnonymous: %v", err)
	}
	defer d.Close()
	if err := d.Write(1, page(0)); !errors.Is(err, linuxerr.EINVAL) {
		t.Errorf("Write to unreserved slot got %v, want EINVAL", err)
	}
	s, _ := d.Reserve()
	if err := d.Read(s, make([]byte, 10)); !errors.Is(err, linuxerr.EINVAL) {
		t.Errorf("Read into short buffer got %v, want EINVAL", err)
	}
}

func TestTransientRetry(t *testing.T) {
	d, err := NewAnonymous(1)
	if err != nil {
		t.Fatalf("NewAnonymous: %v", err)
	}
	defer d.Close()
	s, _ := d.Reserve()

	calls := 0
	orig := pwriteFn
	defer func() { pwriteFn = orig }()
	pwriteFn = func(fd int, p []byte, off int64) (int, error) {
		calls++
		if calls < 3 {
			return 0, unix.EINTR
		}
		return orig(fd, p, off)
	}
	if err := d.Write(s, page('x')); err != nil {
		t.Fatalf("Write with transient failures: %v", err)
	}
	if calls != 3 {
		t.Errorf("pwrite called %d times, want 3", calls)
	}
}

func TestPermanentErrorNotRetried(t *testing.T) {
	d, err := NewAnonymous(1)
	if err != nil {
		t.Fatalf("NewAnonymous: %v", err)
	}
	defer d.Close()
	s, _ := d.Reserve()

	calls := 0
	orig := preadFn
	defer func() { preadFn = orig }()
	preadFn = func(int, []byte, int64) (int, error) {
		calls++
		return 0, unix.EIO
	}
	if err := d.Read(s, make([]byte, SlotSize)); !errors.Is(err, linuxerr.EIO) {
		t.Errorf("Read got %v, want EIO", err)
	}
	if calls != 1 {
		t.Errorf("pread called %d times, want 1", calls)
	}
}

func TestOpenLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap")
	d, err := Open(path, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := Open(path, 2); !errors.Is(err, linuxerr.EBUSY) {
		t.Errorf("second Open got %v, want EBUSY", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	d, err = Open(path, 2)
	if err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	d.Close()
}
