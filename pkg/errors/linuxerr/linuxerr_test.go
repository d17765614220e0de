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

package linuxerr

import (
	"errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestErrorFromUnix(t *testing.T) {
	if err := ErrorFromUnix(0); err != nil {
		t.Errorf("ErrorFromUnix(0) = %v, want nil", err)
	}
	if err := ErrorFromUnix(unix.ENOMEM); err != ENOMEM {
		t.Errorf("ErrorFromUnix(ENOMEM) = %v, want linuxerr.ENOMEM", err)
	}
	if err := ErrorFromUnix(unix.EPERM); err != unix.EPERM {
		t.Errorf("ErrorFromUnix(EPERM) = %v, want unix.EPERM", err)
	}
}

func TestEquals(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want bool
	}{
		{EFAULT, true},
		{unix.EFAULT, true},
		{EEXIST, false},
		{unix.EEXIST, false},
		{nil, false},
	} {
		if got := Equals(EFAULT, tc.err); got != tc.want {
			t.Errorf("Equals(EFAULT, %v) = %t, want %t", tc.err, got, tc.want)
		}
	}
}

func TestIsWrapped(t *testing.T) {
	err := fmt.Errorf("reading slot 3: %w", EIO)
	if !errors.Is(err, EIO) {
		t.Errorf("errors.Is(%v, EIO) = false", err)
	}
	if !errors.Is(err, unix.EIO) {
		t.Errorf("errors.Is(%v, unix.EIO) = false", err)
	}
	if !IsTransient(EAGAIN) || IsTransient(EIO) {
		t.Errorf("IsTransient misclassified EAGAIN or EIO")
	}
}
