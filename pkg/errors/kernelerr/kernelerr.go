// Copyright 2025 The Krill Authors.
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

// Package kernelerr contains the error values the kernel passes between its
// layers. They are exported as *errors.Error singletons so call sites can
// compare them directly. The system call gate collapses every one of these
// to a plain -1 before user code sees it; the distinctions exist for
// logging and for tests.
package kernelerr

import (
	"krill.dev/krill/pkg/abi/krill/errno"
	"krill.dev/krill/pkg/errors"
)

var (
	EPERM        = errors.New(errno.EPERM, "operation not permitted")
	ENOENT       = errors.New(errno.ENOENT, "no such file or directory")
	ESRCH        = errors.New(errno.ESRCH, "no such process")
	EINTR        = errors.New(errno.EINTR, "interrupted system call")
	EIO          = errors.New(errno.EIO, "I/O error")
	ENXIO        = errors.New(errno.ENXIO, "no such device or address")
	ENOEXEC      = errors.New(errno.ENOEXEC, "exec format error")
	EBADF        = errors.New(errno.EBADF, "bad file number")
	ECHILD       = errors.New(errno.ECHILD, "no child processes")
	EAGAIN       = errors.New(errno.EAGAIN, "try again")
	ENOMEM       = errors.New(errno.ENOMEM, "out of memory")
	EACCES       = errors.New(errno.EACCES, "permission denied")
	EFAULT       = errors.New(errno.EFAULT, "bad address")
	EBUSY        = errors.New(errno.EBUSY, "device or resource busy")
	EEXIST       = errors.New(errno.EEXIST, "file exists")
	ENODEV       = errors.New(errno.ENODEV, "no such device")
	ENOTDIR      = errors.New(errno.ENOTDIR, "not a directory")
	EISDIR       = errors.New(errno.EISDIR, "is a directory")
	EINVAL       = errors.New(errno.EINVAL, "invalid argument")
	ENFILE       = errors.New(errno.ENFILE, "file table overflow")
	EMFILE       = errors.New(errno.EMFILE, "too many open files")
	ENOTTY       = errors.New(errno.ENOTTY, "not a typewriter")
	EFBIG        = errors.New(errno.EFBIG, "file too large")
	ENOSPC       = errors.New(errno.ENOSPC, "no space left on device")
	ESPIPE       = errors.New(errno.ESPIPE, "illegal seek")
	EROFS        = errors.New(errno.EROFS, "read-only file system")
	ERANGE       = errors.New(errno.ERANGE, "math result not representable")
	ENAMETOOLONG = errors.New(errno.ENAMETOOLONG, "file name too long")
	ENOSYS       = errors.New(errno.ENOSYS, "invalid system call number")
	ENOTSUP      = errors.New(errno.ENOTSUP, "operation not supported")
)

var (
	// ErrWouldBlock is an internal error used to indicate that an operation
	// cannot be satisfied immediately, and should be retried at a later
	// time, usually after the next interrupt.
	ErrWouldBlock = errors.New(errno.EAGAIN, "request would block")

	// ErrInterrupted is returned if a request is interrupted before it can
	// complete.
	ErrInterrupted = errors.New(errno.EINTR, "request was interrupted")
)

// Equals compares a *errors.Error to a generic error. Singletons compare by
// pointer; a nil singleton matches only a nil error.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == nil
	}
	return e == err
}
