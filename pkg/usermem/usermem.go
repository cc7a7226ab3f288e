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

// Package usermem governs access to user memory. Each task owns a single
// flat region; every transfer between kernel and user space goes through a
// Memory so that a bad user pointer surfaces as EFAULT instead of corrupting
// kernel state.
package usermem

import (
	"bytes"

	"krill.dev/krill/pkg/errors/kernelerr"
)

// Addr is a user address.
type Addr uint32

// AddLength adds n to a, returning the result and whether it stayed within
// the address space.
func (a Addr) AddLength(n uint32) (Addr, bool) {
	end := a + Addr(n)
	return end, end >= a
}

// Memory is the addressable user region of one task.
type Memory struct {
	base Addr
	data []byte
}

// NewMemory creates a zeroed user region of the given size at base.
func NewMemory(base Addr, size uint32) *Memory {
	return &Memory{
		base: base,
		data: make([]byte, size),
	}
}

// Base returns the lowest address of the region.
func (m *Memory) Base() Addr {
	return m.base
}

// Size returns the region size in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

// CheckRange verifies that [addr, addr+n) lies entirely within the region.
func (m *Memory) CheckRange(addr Addr, n uint32) error {
	end, ok := addr.AddLength(n)
	if !ok {
		return kernelerr.EFAULT
	}
	if addr < m.base || Addr(uint32(m.base)+m.Size()) < end {
		return kernelerr.EFAULT
	}
	return nil
}

// slice returns the backing bytes for [addr, addr+n).
//
// Preconditions: CheckRange(addr, n) passed.
func (m *Memory) slice(addr Addr, n uint32) []byte {
	off := uint32(addr - m.base)
	return m.data[off : off+n]
}

// Bytes returns a direct reference to the backing bytes for the range. The
// caller must not hold the reference across task teardown.
func (m *Memory) Bytes(addr Addr, n uint32) ([]byte, error) {
	if err := m.CheckRange(addr, n); err != nil {
		return nil, err
	}
	return m.slice(addr, n), nil
}

// CopyOut copies src into user memory at addr. The copy is all-or-nothing:
// a range error transfers no bytes.
func (m *Memory) CopyOut(addr Addr, src []byte) (int, error) {
	if err := m.CheckRange(addr, uint32(len(src))); err != nil {
		return 0, err
	}
	return copy(m.slice(addr, uint32(len(src))), src), nil
}

// CopyIn copies len(dst) bytes from user memory at addr into dst.
func (m *Memory) CopyIn(addr Addr, dst []byte) (int, error) {
	if err := m.CheckRange(addr, uint32(len(dst))); err != nil {
		return 0, err
	}
	return copy(dst, m.slice(addr, uint32(len(dst)))), nil
}

// CopyInString copies a NUL-terminated string of at most maxlen bytes
// (terminator excluded) from user memory at addr. A string running past
// maxlen is ENAMETOOLONG; a range error is EFAULT.
func (m *Memory) CopyInString(addr Addr, maxlen uint32) (string, error) {
	if err := m.CheckRange(addr, 1); err != nil {
		return "", err
	}
	// The probe window is one byte longer than the longest legal string,
	// clipped to the region end so a string near the boundary still reads.
	n := maxlen + 1
	if n == 0 {
		n = maxlen
	}
	if avail := uint32(m.base) + m.Size() - uint32(addr); n > avail {
		n = avail
	}
	window := m.slice(addr, n)
	if i := bytes.IndexByte(window, 0); i >= 0 {
		return string(window[:i]), nil
	}
	if n <= maxlen {
		// The region ended before a terminator appeared.
		return "", kernelerr.EFAULT
	}
	return "", kernelerr.ENAMETOOLONG
}

// ZeroOut writes n zero bytes at addr.
func (m *Memory) ZeroOut(addr Addr, n uint32) error {
	if err := m.CheckRange(addr, n); err != nil {
		return err
	}
	clear(m.slice(addr, n))
	return nil
}
