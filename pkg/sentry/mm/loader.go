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
	"fmt"
	"io"

	"vmfault.dev/vmfault/pkg/errors/linuxerr"
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/sentry/pgalloc"
	"vmfault.dev/vmfault/pkg/sentry/swap"
)

// FrameProvider allocates physical frames and records which page owns each.
// Implementations are safe for concurrent use and never hand out a frame
// twice before it is freed.
type FrameProvider interface {
	// Allocate returns a free frame, zeroed if zero is true.
	Allocate(zero bool) (pgalloc.Frame, error)

	// Owner returns the page owning f.
	Owner(f pgalloc.Frame) (pgalloc.Owner, bool)

	// SetOwner records the page owning f.
	SetOwner(f pgalloc.Frame, o pgalloc.Owner)

	// Free releases f and its owner back-link.
	Free(f pgalloc.Frame)
}

// FrameMemory gives access to frame contents.
type FrameMemory interface {
	// Bytes returns the page-sized contents of f.
	Bytes(f pgalloc.Frame) []byte
}

// BackingStore moves page content between frames and their backing.
type BackingStore interface {
	// LoadFile fills f from b.
	LoadFile(b FileBacking, f pgalloc.Frame) error

	// LoadSwap fills f from b's slot. The slot stays reserved; the caller
	// releases it once f is mapped.
	LoadSwap(b SwapBacking, f pgalloc.Frame) error

	// StoreSwap writes f to a newly reserved slot.
	StoreSwap(f pgalloc.Frame) (swap.Slot, error)

	// ReleaseSwap releases a slot without reading it.
	ReleaseSwap(s swap.Slot)
}

// Loader is the BackingStore for frames in a FrameMemory. Swap operations
// fail with EINVAL if it has no swap device.
type Loader struct {
	mem  FrameMemory
	swap *swap.Device
}

var _ BackingStore = (*Loader)(nil)

// NewLoader returns a Loader. dev may be nil.
func NewLoader(mem FrameMemory, dev *swap.Device) *Loader {
	return &Loader{mem: mem, swap: dev}
}

// LoadFile implements BackingStore.LoadFile.
func (l *Loader) LoadFile(b FileBacking, f pgalloc.Frame) error {
	if b.ReadBytes+b.ZeroBytes != hostarch.PageSize {
		return fmt.Errorf("file backing covers %d bytes: %w", b.ReadBytes+b.ZeroBytes, linuxerr.EINVAL)
	}
	buf := l.mem.Bytes(f)
	n, err := b.File.ReadAt(buf[:b.ReadBytes], b.Offset)
	if uint64(n) != b.ReadBytes {
		if err == nil || err == io.EOF {
			err = linuxerr.EIO
		}
		return fmt.Errorf("read %d of %d bytes at offset %#x: %w", n, b.ReadBytes, b.Offset, err)
	}
	clear(buf[b.ReadBytes:])
	return nil
}

// LoadSwap implements BackingStore.LoadSwap.
func (l *Loader) LoadSwap(b SwapBacking, f pgalloc.Frame) error {
	if l.swap == nil {
		return fmt.Errorf("no swap device: %w", linuxerr.EINVAL)
	}
	return l.swap.Read(b.Slot, l.mem.Bytes(f))
}

// StoreSwap implements BackingStore.StoreSwap.
func (l *Loader) StoreSwap(f pgalloc.Frame) (swap.Slot, error) {
	if l.swap == nil {
		return 0, fmt.Errorf("no swap device: %w", linuxerr.EINVAL)
	}
	s, err := l.swap.Reserve()
	if err != nil {
		return 0, err
	}
	if err := l.swap.Write(s, l.mem.Bytes(f)); err != nil {
		l.swap.Release(s)
		return 0, err
	}
	return s, nil
}

// ReleaseSwap implements BackingStore.ReleaseSwap.
func (l *Loader) ReleaseSwap(s swap.Slot) {
	if l.swap != nil {
		l.swap.Release(s)
	}
}
