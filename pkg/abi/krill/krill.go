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

// Package krill contains the constants and types that make up the Krill
// kernel's binary interface: segment selectors, the user address space
// layout, signal numbers and system call numbers.
//
// Everything here is part of the contract with user programs and must not
// change between releases.
package krill

// Segment selectors, as loaded into CS/DS by the kernel and by user code.
// The values encode a GDT index plus the requested privilege level in the
// low two bits, which is why UserCS is 0x23 (GDT slot 4, RPL 3) rather
// than a small integer.
const (
	// KernelCS is the kernel code segment selector.
	KernelCS = 0x0010

	// KernelDS is the kernel data segment selector.
	KernelDS = 0x0018

	// UserCS is the user code segment selector.
	UserCS = 0x0023

	// UserDS is the user data segment selector.
	UserDS = 0x002b
)

// User address space layout. Each task occupies a single 4MiB region; the
// program image begins at a fixed offset within it and the stack grows down
// from the top.
const (
	// UserBase is the lowest user-accessible address.
	UserBase = 0x08000000

	// UserSize is the size of the user region, in bytes.
	UserSize = 0x00400000

	// UserImageStart is where program images are loaded.
	UserImageStart = UserBase + 0x00048000

	// UserStackTop is the initial user stack pointer.
	UserStackTop = UserBase + UserSize - 4

	// VidmapBase is the user address at which the video memory mapping is
	// installed by the vidmap system call. It sits in the page directly
	// above the user region.
	VidmapBase = UserBase + UserSize
)

// PageSize is the paging granularity for the vidmap page. Task regions use
// 4MiB pages; everything else is mapped in 4KiB units.
const PageSize = 4096

// KernelStackTop is the initial kernel stack pointer used by synthetic
// kernel-mode frames.
const KernelStackTop = 0x00800000

// EflagsDefault is the initial EFLAGS value for a fresh context: interrupts
// enabled plus the always-set reserved bit.
const EflagsDefault = 0x0202

// Program image header. Executables open with a magic number and carry
// their entry point at a fixed offset. The kernel rejects images that
// are too short or mismatch the magic before building any task state.
const (
	// ImageHeaderLen is the number of bytes the kernel inspects.
	ImageHeaderLen = 40

	// ImageEntryOffset is the byte offset of the little-endian entry
	// point address within the header.
	ImageEntryOffset = 24
)

// ImageMagic is the four-byte magic opening every executable image.
var ImageMagic = [4]byte{0x7f, 'E', 'L', 'F'}
