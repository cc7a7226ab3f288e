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

package imagefs

import (
	"encoding/binary"
	"fmt"
)

type builderEntry struct {
	name string
	typ  uint32
	data []byte
}

// Builder assembles a filesystem image in memory.
//
// Entries appear in the directory in the order they were added.
// Regular files receive inode numbers in the same order.
type Builder struct {
	entries []builderEntry
	names   map[string]bool
}

// NewBuilder returns an empty Builder. Callers normally add the "."
// directory entry first so listings match a conventional image.
func NewBuilder() *Builder {
	return &Builder{names: make(map[string]bool)}
}

// AddDirectory adds a directory entry.
func (b *Builder) AddDirectory(name string) error {
	return b.add(name, TypeDirectory, nil)
}

// AddDevice adds a device file entry.
func (b *Builder) AddDevice(name string) error {
	return b.add(name, TypeDevice, nil)
}

// AddRegular adds a regular file with the given contents. The data
// slice is retained until Build is called.
func (b *Builder) AddRegular(name string, data []byte) error {
	if len(data) > MaxFileSize {
		return fmt.Errorf("imagefs: %q is %d bytes, limit is %d", name, len(data), MaxFileSize)
	}
	return b.add(name, TypeRegular, data)
}

func (b *Builder) add(name string, typ uint32, data []byte) error {
	if len(name) == 0 || len(name) > MaxNameLen {
		return fmt.Errorf("imagefs: invalid name %q", name)
	}
	if b.names[name] {
		return fmt.Errorf("imagefs: duplicate name %q", name)
	}
	if len(b.entries) >= MaxDentries {
		return fmt.Errorf("imagefs: directory is full (%d entries)", MaxDentries)
	}
	b.names[name] = true
	b.entries = append(b.entries, builderEntry{name: name, typ: typ, data: data})
	return nil
}

func blocksFor(n int) uint32 {
	return uint32((n + BlockSize - 1) / BlockSize)
}

// Build lays out the image and returns it.
func (b *Builder) Build() ([]byte, error) {
	numInodes := uint32(0)
	numData := uint32(0)
	for _, e := range b.entries {
		if e.typ == TypeRegular {
			numInodes++
			numData += blocksFor(len(e.data))
		}
	}
	img := make([]byte, (1+numInodes+numData)*BlockSize)
	binary.LittleEndian.PutUint32(img[0:], uint32(len(b.entries)))
	binary.LittleEndian.PutUint32(img[4:], numInodes)
	binary.LittleEndian.PutUint32(img[8:], numData)

	nextInode := uint32(0)
	nextData := uint32(0)
	for i, e := range b.entries {
		raw := img[statsSize+i*dentrySize:][:dentrySize]
		copy(raw[:MaxNameLen], e.name)
		binary.LittleEndian.PutUint32(raw[MaxNameLen:], e.typ)
		if e.typ != TypeRegular {
			continue
		}
		inode := nextInode
		nextInode++
		binary.LittleEndian.PutUint32(raw[MaxNameLen+4:], inode)

		ib := img[(1+inode)*BlockSize:][:BlockSize]
		binary.LittleEndian.PutUint32(ib, uint32(len(e.data)))
		for j := uint32(0); j < blocksFor(len(e.data)); j++ {
			binary.LittleEndian.PutUint32(ib[4+j*4:], nextData)
			dst := img[(1+numInodes+nextData)*BlockSize:][:BlockSize]
			copy(dst, e.data[j*BlockSize:])
			nextData++
		}
	}
	return img, nil
}
