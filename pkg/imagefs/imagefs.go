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

// Package imagefs implements the read-only block filesystem image that
// backs the root directory.
//
// An image is a flat array of 4 KiB blocks. Block 0 is the boot block:
// a statistics header followed by up to 63 directory entries. Each
// inode occupies one block holding the file length and the indices of
// its data blocks, and the data blocks follow the inodes.
//
// The filesystem has a single flat directory and is immutable once
// built, so all metadata is decoded eagerly at mount time. Name lookup
// goes through a btree index rather than a linear dentry scan.
package imagefs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/btree"
	"krill.dev/krill/pkg/errors/kernelerr"
)

// Image geometry.
const (
	// BlockSize is the size of every filesystem block in bytes.
	BlockSize = 4096

	// MaxNameLen is the maximum file name length. A name of exactly
	// MaxNameLen bytes is stored without a NUL terminator.
	MaxNameLen = 32

	// MaxDentries is the number of directory entry slots in the boot
	// block.
	MaxDentries = 63

	// dentrySize is the on-disk size of one directory entry.
	dentrySize = 64

	// statsSize is the on-disk size of the boot block header.
	statsSize = 64

	// pointersPerInode bounds the data block table of a single inode.
	pointersPerInode = (BlockSize - 4) / 4
)

// MaxFileSize is the largest file a single inode can describe.
const MaxFileSize = pointersPerInode * BlockSize

// File types stored in a directory entry.
const (
	TypeDevice    = 0
	TypeDirectory = 1
	TypeRegular   = 2
)

// Dentry is a decoded directory entry.
type Dentry struct {
	// Name is the file name, at most MaxNameLen bytes.
	Name string

	// Type is one of TypeDevice, TypeDirectory or TypeRegular.
	Type uint32

	// Inode is the inode number. It is meaningful only for regular
	// files.
	Inode uint32
}

// Filesystem is a mounted image.
//
// All methods are safe for concurrent use; the image is never written.
type Filesystem struct {
	img []byte

	numDentries uint32
	numInodes   uint32
	numData     uint32

	// dentries preserves boot block order for directory listings.
	dentries []Dentry

	// index maps names to dentries.
	index *btree.BTreeG[Dentry]
}

func dentryLess(a, b Dentry) bool {
	return a.Name < b.Name
}

// New mounts the given image. The image is retained, not copied, and
// must not be modified afterwards.
func New(img []byte) (*Filesystem, error) {
	if len(img) < BlockSize || len(img)%BlockSize != 0 {
		return nil, fmt.Errorf("imagefs: image size %d is not a positive multiple of %d", len(img), BlockSize)
	}
	fs := &Filesystem{
		img:         img,
		numDentries: binary.LittleEndian.Uint32(img[0:]),
		numInodes:   binary.LittleEndian.Uint32(img[4:]),
		numData:     binary.LittleEndian.Uint32(img[8:]),
		index:       btree.NewG[Dentry](8, dentryLess),
	}
	if fs.numDentries > MaxDentries {
		return nil, fmt.Errorf("imagefs: boot block claims %d dentries, limit is %d", fs.numDentries, MaxDentries)
	}
	blocks := uint32(len(img) / BlockSize)
	if need := 1 + fs.numInodes + fs.numData; need > blocks {
		return nil, fmt.Errorf("imagefs: boot block claims %d blocks, image has %d", need, blocks)
	}
	for i := uint32(0); i < fs.numDentries; i++ {
		d, err := fs.decodeDentry(i)
		if err != nil {
			return nil, err
		}
		fs.dentries = append(fs.dentries, d)
		fs.index.ReplaceOrInsert(d)
	}
	return fs, nil
}

func (fs *Filesystem) decodeDentry(i uint32) (Dentry, error) {
	raw := fs.img[statsSize+i*dentrySize:][:dentrySize]
	name := raw[:MaxNameLen]
	if n := bytes.IndexByte(name, 0); n >= 0 {
		name = name[:n]
	}
	d := Dentry{
		Name:  string(name),
		Type:  binary.LittleEndian.Uint32(raw[MaxNameLen:]),
		Inode: binary.LittleEndian.Uint32(raw[MaxNameLen+4:]),
	}
	if d.Type > TypeRegular {
		return Dentry{}, fmt.Errorf("imagefs: dentry %d (%q) has unknown type %d", i, d.Name, d.Type)
	}
	if d.Type == TypeRegular && d.Inode >= fs.numInodes {
		return Dentry{}, fmt.Errorf("imagefs: dentry %d (%q) references inode %d of %d", i, d.Name, d.Inode, fs.numInodes)
	}
	return d, nil
}

// NumDentries returns the number of directory entries.
func (fs *Filesystem) NumDentries() uint32 {
	return fs.numDentries
}

// DentryByName looks up a directory entry by exact name.
func (fs *Filesystem) DentryByName(name string) (Dentry, error) {
	if len(name) == 0 || len(name) > MaxNameLen {
		return Dentry{}, kernelerr.ENOENT
	}
	d, ok := fs.index.Get(Dentry{Name: name})
	if !ok {
		return Dentry{}, kernelerr.ENOENT
	}
	return d, nil
}

// DentryByIndex returns the directory entry at the given boot block
// position. It is the listing order seen by directory reads.
func (fs *Filesystem) DentryByIndex(i uint32) (Dentry, error) {
	if i >= fs.numDentries {
		return Dentry{}, kernelerr.ENOENT
	}
	return fs.dentries[i], nil
}

// InodeSize returns the length in bytes of the file behind an inode.
func (fs *Filesystem) InodeSize(inode uint32) (uint32, error) {
	if inode >= fs.numInodes {
		return 0, kernelerr.EINVAL
	}
	return binary.LittleEndian.Uint32(fs.inodeBlock(inode)), nil
}

// ReadData copies file contents starting at offset into dst and
// returns the number of bytes copied. A read at or past the end of the
// file returns 0, not an error.
func (fs *Filesystem) ReadData(inode uint32, offset uint32, dst []byte) (int, error) {
	if inode >= fs.numInodes {
		return 0, kernelerr.EINVAL
	}
	ib := fs.inodeBlock(inode)
	length := binary.LittleEndian.Uint32(ib)
	if offset >= length {
		return 0, nil
	}
	n := uint32(len(dst))
	if rest := length - offset; n > rest {
		n = rest
	}
	copied := uint32(0)
	for copied < n {
		pos := offset + copied
		idx := pos / BlockSize
		if idx >= pointersPerInode {
			// Validated lengths keep idx in range unless the inode
			// block itself is damaged.
			return int(copied), kernelerr.EIO
		}
		dataBlock := binary.LittleEndian.Uint32(ib[4+idx*4:])
		if dataBlock >= fs.numData {
			return int(copied), kernelerr.EIO
		}
		blockOff := pos % BlockSize
		chunk := BlockSize - blockOff
		if rest := n - copied; chunk > rest {
			chunk = rest
		}
		src := fs.dataBlock(dataBlock)[blockOff:][:chunk]
		copy(dst[copied:], src)
		copied += chunk
	}
	return int(copied), nil
}

func (fs *Filesystem) inodeBlock(inode uint32) []byte {
	return fs.img[(1+inode)*BlockSize:][:BlockSize]
}

func (fs *Filesystem) dataBlock(idx uint32) []byte {
	return fs.img[(1+fs.numInodes+idx)*BlockSize:][:BlockSize]
}
