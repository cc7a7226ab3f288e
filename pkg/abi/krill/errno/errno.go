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

// Package errno holds the kernel-internal error numbers. User programs never
// see these: every failing system call returns -1 at the gate. The numbers
// follow the traditional Unix values so log output reads familiarly.
package errno

// Errno represents a kernel error number.
type Errno uint32

// Errno values.
const (
	EPERM Errno = iota + 1
	ENOENT
	ESRCH
	EINTR
	EIO
	ENXIO

	ENOEXEC Errno = iota + 2

	EBADF Errno = iota + 2
	ECHILD
	EAGAIN
	ENOMEM
	EACCES
	EFAULT

	EBUSY Errno = iota + 3
	EEXIST

	ENODEV Errno = iota + 4
	ENOTDIR
	EISDIR
	EINVAL
	ENFILE
	EMFILE
	ENOTTY

	EFBIG Errno = iota + 5
	ENOSPC
	ESPIPE
	EROFS

	ERANGE Errno = 34

	ENAMETOOLONG Errno = 36

	ENOSYS Errno = 38

	ENOTSUP Errno = 95
)
