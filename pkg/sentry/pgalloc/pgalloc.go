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

// Package pgalloc contains the page frame allocator.
//
// Physical memory is modeled as a memfd of a fixed number of pages, mapped
// once into the simulator's address space. A Frame is the index of a page in
// that file.
package pgalloc

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"vmfault.dev/vmfault/pkg/bitmap"
	"vmfault.dev/vmfault/pkg/errors/linuxerr"
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/log"
	"vmfault.dev/vmfault/pkg/metric"
	"vmfault.dev/vmfault/pkg/sync"
)

var evictionsMetric = metric.MustCreateNewUint64Metric("/pgalloc/evictions", true, "Frames reclaimed by evicting their owner.")

// Frame identifies a physical page frame.
type Frame uint32

// Offset returns the byte offset of f in the backing file.
func (f Frame) Offset() int64 {
	return int64(f) << hostarch.PageShift
}

// String implements fmt.Stringer.
func (f Frame) String() string {
	return fmt.Sprintf("frame#%d", uint32(f))
}

// Owner is the back-link from a frame to the page that holds it. A frame has
// at most one owner.
type Owner interface {
	// Page returns the virtual page the frame backs.
	Page() hostarch.Addr

	// Evict moves the page's content out of the frame and frees it. It
	// returns an error if the page cannot be evicted right now, in which
	// case the frame is left untouched.
	Evict() error
}

// MemoryFileOpts provides options to NewMemoryFile.
type MemoryFileOpts struct {
	// Frames is the number of page frames.
	Frames uint32

	// Evict enables reclaiming owned frames when no free frame is left.
	Evict bool
}

// Stats is a snapshot of allocator state.
type Stats struct {
	Total     uint32
	Used      uint32
	Owned     uint32
	Evictions uint64
}

// MemoryFile is a fixed-size pool of page frames.
type MemoryFile struct {
	opts MemoryFileOpts

	// file is the memfd backing the pool, and mapping is its MAP_SHARED
	// mapping. Both are immutable.
	file    *os.File
	mapping []byte

	mu sync.Mutex

	// used tracks allocated frames.
	used bitmap.Bitmap

	// owners holds the back-link of each owned frame.
	owners map[Frame]Owner

	// hand is the next frame the evictor looks at. Frames are visited in
	// index order, so eviction is FIFO with respect to the frame pool.
	hand uint32

	evictions uint64
	destroyed bool
}

// NewMemoryFile creates a MemoryFile with opts.Frames frames.
func NewMemoryFile(name string, opts MemoryFileOpts) (*MemoryFile, error) {
	if opts.Frames == 0 {
		return nil, fmt.Errorf("memory file needs at least one frame")
	}
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create(%q): %w", name, err)
	}
	file := os.NewFile(uintptr(fd), name)
	size := int64(opts.Frames) << hostarch.PageShift
	if err := unix.Ftruncate(fd, size); err != nil {
		file.Close()
		return nil, fmt.Errorf("ftruncate(%d): %w", size, err)
	}
	m, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap(%d): %w", size, err)
	}
	log.Debugf("pgalloc: %d frames backed by memfd %q", opts.Frames, name)
	return &MemoryFile{
		opts:    opts,
		file:    file,
		mapping: m,
		used:    bitmap.New(opts.Frames),
		owners:  make(map[Frame]Owner),
	}, nil
}

// Destroy releases all resources used by f.
//
// Postconditions: None of f's methods may be called after Destroy.
func (f *MemoryFile) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return
	}
	f.destroyed = true
	if err := unix.Munmap(f.mapping); err != nil {
		log.Warningf("pgalloc: munmap failed: %v", err)
	}
	f.mapping = nil
	f.file.Close()
}

// Allocate returns a free frame, zeroed if zero is true. If no frame is free
// and eviction is enabled, owned frames are evicted in FIFO order until one
// is released. It returns ENOMEM if no frame could be obtained.
func (f *MemoryFile) Allocate(zero bool) (Frame, error) {
	// Every owned frame gets one chance per round.
	for attempt := uint32(0); attempt <= f.opts.Frames; attempt++ {
		f.mu.Lock()
		if fr, ok := f.allocateLocked(); ok {
			f.mu.Unlock()
			if zero {
				clear(f.Bytes(fr))
			}
			return fr, nil
		}
		if !f.opts.Evict {
			f.mu.Unlock()
			return 0, linuxerr.ENOMEM
		}
		victim, owner, ok := f.nextVictimLocked()
		f.mu.Unlock()
		if !ok {
			return 0, linuxerr.ENOMEM
		}

		// owner.Evict calls back into Free, so f.mu is not held.
		if err := owner.Evict(); err != nil {
			log.Debugf("pgalloc: skipping %s (page %s): %v", victim, owner.Page(), err)
			continue
		}
		f.mu.Lock()
		f.evictions++
		f.mu.Unlock()
		evictionsMetric.Increment()
	}
	return 0, linuxerr.ENOMEM
}

// +checklocks:f.mu
func (f *MemoryFile) allocateLocked() (Frame, bool) {
	if f.destroyed {
		panic("pgalloc: Allocate after Destroy")
	}
	i, err := f.used.FirstZero(0)
	if err != nil {
		return 0, false
	}
	f.used.Add(i)
	return Frame(i), true
}

// nextVictimLocked advances the clock hand to the next owned frame.
//
// +checklocks:f.mu
func (f *MemoryFile) nextVictimLocked() (Frame, Owner, bool) {
	for n := uint32(0); n < f.opts.Frames; n++ {
		fr := Frame(f.hand)
		f.hand = (f.hand + 1) % f.opts.Frames
		if o, ok := f.owners[fr]; ok {
			return fr, o, true
		}
	}
	return 0, nil, false
}

// Free returns fr to the pool and drops its owner.
func (f *MemoryFile) Free(fr Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.used.Test(uint32(fr)) {
		panic(fmt.Sprintf("pgalloc: %s freed twice", fr))
	}
	delete(f.owners, fr)
	f.used.Remove(uint32(fr))
}

// Owner returns the owner of fr, if any.
func (f *MemoryFile) Owner(fr Frame) (Owner, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.owners[fr]
	return o, ok
}

// SetOwner records o as the owner of fr. A nil o clears the back-link.
//
// Preconditions: fr is allocated.
func (f *MemoryFile) SetOwner(fr Frame, o Owner) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.used.Test(uint32(fr)) {
		panic(fmt.Sprintf("pgalloc: SetOwner on free %s", fr))
	}
	if o == nil {
		delete(f.owners, fr)
		return
	}
	f.owners[fr] = o
}

// Bytes returns the contents of fr. The slice aliases the frame.
func (f *MemoryFile) Bytes(fr Frame) []byte {
	off := fr.Offset()
	return f.mapping[off : off+hostarch.PageSize : off+hostarch.PageSize]
}

// Stats returns current allocator statistics.
func (f *MemoryFile) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Total:     f.used.Size(),
		Used:      f.used.Count(),
		Owned:     uint32(len(f.owners)),
		Evictions: f.evictions,
	}
}
