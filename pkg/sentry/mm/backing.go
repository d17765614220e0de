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

	"vmfault.dev/vmfault/pkg/sentry/swap"
)

// Backing describes where a non-resident page's content comes from. It is
// one of FileBacking, SwapBacking or ZeroFill.
type Backing interface {
	fmt.Stringer

	isBacking()
}

// FileBacking is a page read from a file region. The first ReadBytes bytes
// come from File at Offset and the remaining ZeroBytes are zero.
type FileBacking struct {
	File      io.ReaderAt
	Offset    int64
	ReadBytes uint64
	ZeroBytes uint64
}

// SwapBacking is a page held in a swap slot. The slot is reserved for this
// page until it is loaded or the address space is released.
type SwapBacking struct {
	Slot swap.Slot
}

// ZeroFill is an anonymous page. A non-resident ZeroFill page materializes
// as zeroes. A resident page loaded from swap also becomes ZeroFill, since
// its frame is then the only copy of its content.
type ZeroFill struct{}

func (FileBacking) isBacking() {}
func (SwapBacking) isBacking() {}
func (ZeroFill) isBacking()    {}

// String implements fmt.Stringer.
func (b FileBacking) String() string {
	return fmt.Sprintf("file[%#x+%d,zero %d]", b.Offset, b.ReadBytes, b.ZeroBytes)
}

// String implements fmt.Stringer.
func (b SwapBacking) String() string {
	return fmt.Sprintf("swap[%s]", b.Slot)
}

// String implements fmt.Stringer.
func (ZeroFill) String() string {
	return "zero"
}

// backingKind is the metric field value for b.
func backingKind(b Backing) string {
	switch b.(type) {
	case FileBacking:
		return "file"
	case SwapBacking:
		return "swap"
	default:
		return "zero"
	}
}
