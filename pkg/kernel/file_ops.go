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
	"krill.dev/krill/pkg/imagefs"
)

// regularFileOps reads a flat file through its inode, advancing the
// descriptor's offset.
type regularFileOps struct {
	fs    *imagefs.Filesystem
	inode uint32
}

func (r *regularFileOps) Read(t *Task, fd *FileDescription, dst []byte) (int, error) {
	n, err := r.fs.ReadData(r.inode, fd.pos, dst)
	fd.pos += uint32(n)
	return n, err
}

func (r *regularFileOps) Write(t *Task, fd *FileDescription, src []byte) (int, error) {
	return 0, kernelerr.EROFS
}

func (r *regularFileOps) Release(t *Task) {
}

// directoryOps lists the flat directory, one name per read. The
// descriptor's offset is the listing index.
type directoryOps struct {
	fs *imagefs.Filesystem
}

func (d *directoryOps) Read(t *Task, fd *FileDescription, dst []byte) (int, error) {
	dent, err := d.fs.DentryByIndex(fd.pos)
	if err != nil {
		// Past the last entry: end of directory, not an error.
		return 0, nil
	}
	fd.pos++
	n := copy(dst, dent.Name)
	return n, nil
}

func (d *directoryOps) Write(t *Task, fd *FileDescription, src []byte) (int, error) {
	return 0, kernelerr.EISDIR
}

func (d *directoryOps) Release(t *Task) {
}

// OpenFile opens a name from the root filesystem into the task's
// descriptor table and returns the new descriptor. The dentry type
// picks the operations: device files dispatch through the registered
// DeviceOpen, directories list themselves, regular files read their
// inode.
func (k *Kernel) OpenFile(t *Task, name string) (int32, error) {
	d, err := k.rootFS.DentryByName(name)
	if err != nil {
		return -1, err
	}
	var (
		ops   FileOperations
		flags FDFlags
	)
	switch d.Type {
	case imagefs.TypeDevice:
		open := k.deviceFile(name)
		if open == nil {
			return -1, kernelerr.ENXIO
		}
		ops, flags, err = open(t)
		if err != nil {
			return -1, err
		}
	case imagefs.TypeDirectory:
		ops = &directoryOps{fs: k.rootFS}
		flags = FDFlags{Readable: true}
	case imagefs.TypeRegular:
		ops = &regularFileOps{fs: k.rootFS, inode: d.Inode}
		flags = FDFlags{Readable: true}
	default:
		return -1, kernelerr.EINVAL
	}
	fd, err := t.fds.Install(&FileDescription{ops: ops, name: name, flags: flags})
	if err != nil {
		ops.Release(t)
		return -1, err
	}
	return fd, nil
}
