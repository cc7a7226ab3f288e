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

package kernel

import (
	"krill.dev/krill/pkg/errors/kernelerr"
)

// MaxFiles is the size of a task's descriptor table. Descriptors 0 and
// 1 are the terminal and are open from birth; open allocates upward
// from 2.
const MaxFiles = 8

// FDFlags records the directions a descriptor permits.
type FDFlags struct {
	Readable bool
	Writable bool
}

// FileOperations is the per-file dispatch behind a descriptor. The
// receiving object carries any per-open state; implementations that
// are shared between descriptors, like the terminal, must tolerate
// repeated Release calls.
type FileOperations interface {
	// Read fills dst from the file and returns the byte count. May
	// block the task.
	Read(t *Task, fd *FileDescription, dst []byte) (int, error)

	// Write consumes src and returns the byte count.
	Write(t *Task, fd *FileDescription, src []byte) (int, error)

	// Release drops whatever the open holds. Called once per close.
	Release(t *Task)
}

// DeviceOpen constructs the file operations for one open of a device
// file.
type DeviceOpen func(t *Task) (FileOperations, FDFlags, error)

// FileDescription is one open file: operations, direction flags and a
// position cursor for the operations that want one.
type FileDescription struct {
	ops   FileOperations
	name  string
	flags FDFlags

	// pos is the file offset for regular files and the listing index
	// for directories. Terminal and device opens ignore it.
	pos uint32
}

// Name returns the name the file was opened under.
func (fd *FileDescription) Name() string {
	return fd.name
}

// Flags returns the descriptor's direction flags.
func (fd *FileDescription) Flags() FDFlags {
	return fd.flags
}

// Read checks the descriptor permits reading and dispatches to its
// operations. May block the task.
func (fd *FileDescription) Read(t *Task, dst []byte) (int, error) {
	if !fd.flags.Readable {
		return 0, kernelerr.EBADF
	}
	return fd.ops.Read(t, fd, dst)
}

// Write checks the descriptor permits writing and dispatches to its
// operations.
func (fd *FileDescription) Write(t *Task, src []byte) (int, error) {
	if !fd.flags.Writable {
		return 0, kernelerr.EBADF
	}
	return fd.ops.Write(t, fd, src)
}

// FDTable is a task's descriptor table.
type FDTable struct {
	files [MaxFiles]*FileDescription
}

// newFDTable builds a table with the terminal pre-opened on 0 and 1.
// A nil ops leaves its slot closed, which only happens in tests that
// never touch stdio.
func newFDTable(stdin, stdout FileOperations) *FDTable {
	ft := &FDTable{}
	if stdin != nil {
		ft.files[0] = &FileDescription{ops: stdin, name: "stdin", flags: FDFlags{Readable: true}}
	}
	if stdout != nil {
		ft.files[1] = &FileDescription{ops: stdout, name: "stdout", flags: FDFlags{Writable: true}}
	}
	return ft
}

// Get resolves a descriptor number.
func (ft *FDTable) Get(fd int32) (*FileDescription, error) {
	if fd < 0 || fd >= MaxFiles || ft.files[fd] == nil {
		return nil, kernelerr.EBADF
	}
	return ft.files[fd], nil
}

// Install places a description in the lowest free slot at or above 2
// and returns the descriptor number.
func (ft *FDTable) Install(file *FileDescription) (int32, error) {
	for fd := int32(2); fd < MaxFiles; fd++ {
		if ft.files[fd] == nil {
			ft.files[fd] = file
			return fd, nil
		}
	}
	return -1, kernelerr.EMFILE
}

// Close releases a descriptor. The terminal descriptors 0 and 1 are
// permanent and refuse to close.
func (ft *FDTable) Close(t *Task, fd int32) error {
	if fd < 2 || fd >= MaxFiles || ft.files[fd] == nil {
		return kernelerr.EBADF
	}
	file := ft.files[fd]
	ft.files[fd] = nil
	file.ops.Release(t)
	return nil
}

// ReleaseAll tears down every open descriptor, the terminal included.
func (ft *FDTable) ReleaseAll(t *Task) {
	for fd, file := range ft.files {
		if file == nil {
			continue
		}
		ft.files[fd] = nil
		file.ops.Release(t)
	}
}
