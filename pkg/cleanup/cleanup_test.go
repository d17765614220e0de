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

package cleanup

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// acquire takes n resources, recording each release in freed. It fails
// after failAt resources if failAt < n.
func acquire(n, failAt int, freed *[]int) error {
	var cu Cleanup
	defer cu.Clean()
	for i := 0; i < n; i++ {
		if i == failAt {
			return errors.New("out of resources")
		}
		cu.Add(func() { *freed = append(*freed, i) })
	}
	cu.Release()
	return nil
}

func TestOwnershipTransfer(t *testing.T) {
	for _, tc := range []struct {
		name   string
		n      int
		failAt int
		want   []int
	}{
		{
			name:   "success keeps everything",
			n:      3,
			failAt: 3,
		},
		{
			name:   "failure releases in reverse",
			n:      4,
			failAt: 3,
			want:   []int{2, 1, 0},
		},
		{
			name:   "failure before the first",
			n:      2,
			failAt: 0,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var freed []int
			err := acquire(tc.n, tc.failAt, &freed)
			if gotErr, wantErr := err != nil, tc.failAt < tc.n; gotErr != wantErr {
				t.Errorf("acquire() err = %v, want error: %t", err, wantErr)
			}
			if diff := cmp.Diff(tc.want, freed); diff != "" {
				t.Errorf("released mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMakeClean(t *testing.T) {
	calls := 0
	cu := Make(func() { calls++ })
	cu.Clean()
	cu.Clean()
	if calls != 1 {
		t.Errorf("cleaner called %d times, want 1", calls)
	}
}

func TestReleaseReturnsCleaners(t *testing.T) {
	var order []string
	cu := Make(func() { order = append(order, "frame") })
	cu.Add(func() { order = append(order, "mapping") })
	undo := cu.Release()
	cu.Clean()
	if len(order) != 0 {
		t.Fatalf("Clean() after Release() ran %v", order)
	}
	undo()
	if diff := cmp.Diff([]string{"mapping", "frame"}, order); diff != "" {
		t.Errorf("undo order mismatch (-want +got):\n%s", diff)
	}
}
