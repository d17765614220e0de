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

// Package swap implements a page-granular swap device.
//
// A device is a file divided into page-sized slots. A slot is reserved for
// exactly one page from Reserve until Release.
package swap

import (
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"vmfault.dev/vmfault/pkg/bitmap"
	"vmfault.dev/vmfault/pkg/errors/linuxerr"
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/log"
	"vmfault.dev/vmfault/pkg/sync"
)

// SlotSize is the size of a swap slot.
const SlotSize = hostarch.PageSize

// maxRetries bounds retries of a transiently failing slot transfer.
const maxRetries = 5

// These are variables so tests can inject failures.
var (
	preadFn  = unix.Pread
	pwriteFn = unix.Pwrite
)

// Slot identifies a page-sized region of a swap device.
type Slot uint32

// Offset returns the byte offset of s in the device.
func (s Slot) Offset() int64 {
	return int64(s) * SlotSize
}

// String implements fmt.Stringer.
func (s Slot) String() string {
	return fmt.Sprintf("slot#%d", uint32(s))
}

// Device is a swap device.
type Device struct {
	file *os.File

	// lock is held for the lifetime of a file-backed device. It is nil for
	// anonymous devices.
	lock *flock.Flock

	mu sync.Mutex

	// used tracks reserved slots.
	used bitmap.Bitmap
}

// Open opens or creates a swap file at path with the given number of slots.
// The file is locked so that two devices never share it.
func Open(path string, slots uint32) (*Device, error) {
	if slots == 0 {
		return nil, fmt.Errorf("swap device needs at least one slot")
	}
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("error acquiring lock on swap file %q: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("swap file %q is in use: %w", path, linuxerr.EBUSY)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("opening swap file: %w", err)
	}
	if err := f.Truncate(int64(slots) * SlotSize); err != nil {
		f.Close()
		lock.Unlock()
		return nil, fmt.Errorf("sizing swap file %q: %w", path, err)
	}
	log.Infof("Swap: %d slots in %q", slots, path)
	return &Device{file: f, lock: lock, used: bitmap.New(slots)}, nil
}

// NewAnonymous returns a swap device backed by an anonymous memfd.
func NewAnonymous(slots uint32) (*Device, error) {
	if slots == 0 {
		return nil, fmt.Errorf("swap device needs at least one slot")
	}
	fd, err := unix.MemfdCreate("swap", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	f := os.NewFile(uintptr(fd), "swap")
	if err := f.Truncate(int64(slots) * SlotSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing swap memfd: %w", err)
	}
	return &Device{file: f, used: bitmap.New(slots)}, nil
}

// Close releases the device. Reserved slots are discarded.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.file.Close()
	if d.lock != nil {
		if uerr := d.lock.Unlock(); err == nil {
			err = uerr
		}
	}
	return err
}

// Reserve returns a free slot. It returns ENOSPC if the device is full.
func (d *Device) Reserve() (Slot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, err := d.used.FirstZero(0)
	if err != nil {
		return 0, linuxerr.ENOSPC
	}
	d.used.Add(i)
	return Slot(i), nil
}

// Release frees s.
//
// Preconditions: s is reserved.
func (d *Device) Release(s Slot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.used.Test(uint32(s)) {
		panic(fmt.Sprintf("swap: release of free %s", s))
	}
	d.used.Remove(uint32(s))
}

// InUse returns the number of reserved slots.
func (d *Device) InUse() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used.Count()
}

// Slots returns the capacity of the device.
func (d *Device) Slots() uint32 {
	return d.used.Size()
}

func (d *Device) checkReserved(s Slot, buf []byte) error {
	if len(buf) != SlotSize {
		return fmt.Errorf("swap: %d byte buffer for %s: %w", len(buf), s, linuxerr.EINVAL)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.used.Test(uint32(s)) {
		return fmt.Errorf("swap: %s is not reserved: %w", s, linuxerr.EINVAL)
	}
	return nil
}

// Write stores src, which must be exactly one page, in s.
func (d *Device) Write(s Slot, src []byte) error {
	if err := d.checkReserved(s, src); err != nil {
		return err
	}
	return d.transfer("write", s, func() (int, error) {
		return pwriteFn(int(d.file.Fd()), src, s.Offset())
	})
}

// Read loads the content of s into dst, which must be exactly one page.
func (d *Device) Read(s Slot, dst []byte) error {
	if err := d.checkReserved(s, dst); err != nil {
		return err
	}
	return d.transfer("read", s, func() (int, error) {
		return preadFn(int(d.file.Fd()), dst, s.Offset())
	})
}

// transfer runs op, retrying EINTR and EAGAIN with exponential backoff. Any
// other error, and a short transfer, is returned without retry.
func (d *Device) transfer(name string, s Slot, op func() (int, error)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Microsecond
	b.MaxInterval = 10 * time.Millisecond

	attempt := func() error {
		n, err := op()
		if err != nil {
			if errno, ok := err.(unix.Errno); ok {
				err = linuxerr.ErrorFromUnix(errno)
			}
			if linuxerr.IsTransient(err) {
				log.Debugf("swap: %s of %s interrupted, retrying: %v", name, s, err)
				return err
			}
			return backoff.Permanent(fmt.Errorf("swap: %s of %s: %w", name, s, err))
		}
		if n != SlotSize {
			return backoff.Permanent(fmt.Errorf("swap: short %s of %s (%d bytes): %w", name, s, n, linuxerr.EIO))
		}
		return nil
	}
	return backoff.Retry(attempt, backoff.WithMaxRetries(b, maxRetries))
}
