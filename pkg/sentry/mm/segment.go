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
)

// MapSegment describes a segment of file starting at offset and loaded at
// upage. The first readBytes bytes of the segment come from the file and the
// following zeroBytes bytes are zero. No content is read; each page is
// loaded on its first fault.
//
// Pages with no file content become ZeroFill. If a page already has an
// entry MapSegment fails with EEXIST, leaving the pages before it in place.
func (mm *MemoryManager) MapSegment(file io.ReaderAt, offset int64, upage hostarch.Addr, readBytes, zeroBytes uint64, writable bool) error {
	length := readBytes + zeroBytes
	if !upage.IsPageAligned() || offset%hostarch.PageSize != 0 || length%hostarch.PageSize != 0 {
		return linuxerr.EINVAL
	}
	if end, ok := upage.AddLength(length); !ok || end > mm.layout.KernelBase {
		return linuxerr.EFAULT
	}

	for readBytes > 0 || zeroBytes > 0 {
		pageRead := min(readBytes, hostarch.PageSize)
		pageZero := hostarch.PageSize - pageRead

		var b Backing = ZeroFill{}
		if pageRead > 0 {
			b = FileBacking{
				File:      file,
				Offset:    offset,
				ReadBytes: pageRead,
				ZeroBytes: pageZero,
			}
		}
		if err := mm.spt.Insert(newEntry(mm, upage, b, writable)); err != nil {
			return fmt.Errorf("mapping segment page %s: %w", upage, err)
		}

		readBytes -= pageRead
		zeroBytes -= pageZero
		offset += int64(pageRead)
		upage += hostarch.PageSize
	}
	return nil
}
