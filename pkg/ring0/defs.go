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

// Vector is an exception vector.
type Vector uintptr

// Exception vectors.
const (
	DivideByZero Vector = iota
	Debug
	NMI
	Breakpoint
	Overflow
	BoundRangeExceeded
	InvalidOpcode
	DeviceNotAvailable
	DoubleFault
	CoprocessorSegmentOverrun
	InvalidTSS
	SegmentNotPresent
	StackSegmentFault
	GeneralProtectionFault
	PageFault
	Reserved15
	X87FloatingPointException
	AlignmentCheck
	MachineCheck
	SIMDFloatingPointException

	// NumExceptionVectors is the number of architectural exception
	// vectors the kernel classifies. Vectors from here up to
	// FirstIRQVector are reserved by the architecture and fall through
	// to the unknown-vector path.
	NumExceptionVectors = iota
)

// Interrupt and trap vectors above the exception range.
const (
	// FirstIRQVector is the vector of IRQ line 0. The interrupt
	// controller is programmed at boot to deliver its sixteen lines
	// in one contiguous block starting here.
	FirstIRQVector Vector = 0x20

	// LastIRQVector is the vector of IRQ line 15.
	LastIRQVector Vector = 0x2f

	// Syscall is the system call vector. Its gate is the only one user
	// code may raise directly.
	Syscall Vector = 0x80

	// NumVectors is the size of the vector table.
	NumVectors = 0x100
)

// IsException returns true if v is an architectural exception vector.
func (v Vector) IsException() bool {
	return v < NumExceptionVectors
}

// IsIRQ returns true if v lies in the IRQ block.
func (v Vector) IsIRQ() bool {
	return v >= FirstIRQVector && v <= LastIRQVector
}

// IRQ returns the IRQ line number for a vector in the IRQ block.
//
// Preconditions: v.IsIRQ().
func (v Vector) IRQ() int {
	return int(v - FirstIRQVector)
}

// VectorForIRQ returns the vector that the given IRQ line raises.
func VectorForIRQ(line int) Vector {
	return FirstIRQVector + Vector(line)
}
