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

package bitmap

import (
	"testing"
)

func TestFirstZero(t *testing.T) {
	b := New(130)
	for i := uint32(0); i < 129; i++ {
		got, err := b.FirstZero(0)
		if err != nil {
			t.Fatalf("FirstZero after %d adds: %v", i, err)
		}
		if got != i {
			t.Fatalf("FirstZero = %d, want %d", got, i)
		}
		b.Add(got)
	}
	if got, err := b.FirstZero(0); err != nil || got != 129 {
		t.Fatalf("FirstZero = %d, %v; want 129", got, err)
	}
	b.Add(129)
	if !b.Full() {
		t.Errorf("bitmap with %d of %d bits set is not full", b.Count(), b.Size())
	}
	if _, err := b.FirstZero(0); err == nil {
		t.Errorf("FirstZero on a full bitmap succeeded")
	}
	b.Remove(64)
	if got, err := b.FirstZero(3); err != nil || got != 64 {
		t.Errorf("FirstZero(3) = %d, %v; want 64", got, err)
	}
}

func TestAddRemove(t *testing.T) {
	b := New(10)
	b.Add(3)
	b.Add(3)
	if b.Count() != 1 || !b.Test(3) {
		t.Errorf("after double add: count %d, test %t", b.Count(), b.Test(3))
	}
	b.Remove(3)
	b.Remove(3)
	if !b.IsEmpty() || b.Test(3) {
		t.Errorf("after double remove: count %d", b.Count())
	}
	if b.Test(100) {
		t.Errorf("Test out of range returned true")
	}
}
