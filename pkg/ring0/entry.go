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

package ring0

import (
	"krill.dev/krill/pkg/arch"
)

// Entry stub layout. On real hardware each vector jumps through a short
// per-vector stub that pushes the vector number (and a zero error code when
// the processor did not push one) before falling into the common entry path.
// The simulated processor models the stub array as a block of fixed-size
// slots at a fixed kernel text address.
const (
	// KernelTextBase is the load address of the kernel image. Synthetic
	// kernel-mode program counters point into the region above it.
	KernelTextBase = 0x00400000

	// entryStubBase is the address of the stub for vector 0.
	entryStubBase = KernelTextBase + 0x2000

	// entryStubSize is the size of each stub slot.
	entryStubSize = 16
)

// EntryStub returns the kernel text address of the entry stub for v.
func EntryStub(v Vector) uint32 {
	return entryStubBase + uint32(v)*entryStubSize
}

// StubVector recovers the vector from an entry stub address.
func StubVector(addr uint32) (Vector, bool) {
	if addr < entryStubBase || addr >= entryStubBase+NumVectors*entryStubSize {
		return 0, false
	}
	if (addr-entryStubBase)%entryStubSize != 0 {
		return 0, false
	}
	return Vector((addr - entryStubBase) / entryStubSize), true
}

// errorCodeVectors lists the vectors for which the processor pushes a
// hardware error code. Stubs for every other vector push a zero in its
// place, so the frame layout is the same for all 256 vectors.
var errorCodeVectors = [NumExceptionVectors]bool{
	DoubleFault:            true,
	InvalidTSS:             true,
	SegmentNotPresent:      true,
	StackSegmentFault:      true,
	GeneralProtectionFault: true,
	PageFault:              true,
	AlignmentCheck:         true,
}

// PushesErrorCode returns true if the processor supplies an error code for v.
func PushesErrorCode(v Vector) bool {
	return v < NumExceptionVectors && errorCodeVectors[v]
}

// Frame normalizes the captured register state into the uniform trap frame
// for vector v. The error code is taken only for vectors that push one; for
// all others the placeholder stays zero regardless of what the caller
// supplies.
func Frame(v Vector, errorCode uint32, regs arch.Registers) *arch.Registers {
	regs.Vector = uint32(v)
	if PushesErrorCode(v) {
		regs.ErrorCode = errorCode
	} else {
		regs.ErrorCode = 0
	}
	return &regs
}
