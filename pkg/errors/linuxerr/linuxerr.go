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

// Package linuxerr contains the error codes used by the memory management
// packages, exported as error interface pointers. This allows for fast
// comparison and return operations comperable to unix.Errno constants.
package linuxerr

import (
	"golang.org/x/sys/unix"
	"vmfault.dev/vmfault/pkg/errors"
)

// The following errors are semantically identical to the unix.Errno of the
// same name. They are distinct values, so compare against them directly or
// through Equals.
var (
	EINTR  = errors.New(unix.EINTR, "interrupted system call")
	EIO    = errors.New(unix.EIO, "I/O error")
	EAGAIN = errors.New(unix.EAGAIN, "try again")
	ENOMEM = errors.New(unix.ENOMEM, "out of memory")
	EFAULT = errors.New(unix.EFAULT, "bad address")
	EBUSY  = errors.New(unix.EBUSY, "device or resource busy")
	EEXIST = errors.New(unix.EEXIST, "file exists")
	ENOENT = errors.New(unix.ENOENT, "no such file or directory")
	EINVAL = errors.New(unix.EINVAL, "invalid argument")
	ENOSPC = errors.New(unix.ENOSPC, "no space left on device")
)

var errorMap = map[unix.Errno]*errors.Error{
	unix.EINTR:  EINTR,
	unix.EIO:    EIO,
	unix.EAGAIN: EAGAIN,
	unix.ENOMEM: ENOMEM,
	unix.EFAULT: EFAULT,
	unix.EBUSY:  EBUSY,
	unix.EEXIST: EEXIST,
	unix.ENOENT: ENOENT,
	unix.EINVAL: EINVAL,
	unix.ENOSPC: ENOSPC,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno. Errnos without a
// linuxerr counterpart are returned unchanged.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if e, ok := errorMap[err]; ok {
		return e
	}
	return err
}

// Equals compares a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == nil
	}
	if e == nil {
		return false
	}
	if errno, ok := err.(unix.Errno); ok {
		return e.Errno() == errno
	}
	return e == err
}

// IsTransient returns true for errors that may succeed when retried.
func IsTransient(err error) bool {
	return Equals(EINTR, err) || Equals(EAGAIN, err)
}
