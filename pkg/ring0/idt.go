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
	"krill.dev/krill/pkg/abi/krill"
)

// Gate flag encoding.
const (
	gatePresent = 0x80

	// gateInterrupt32 is the type field for a 32-bit interrupt gate.
	// Interrupt gates clear IF on entry; the kernel uses them for every
	// vector so handlers always start with interrupts off. Trap gates
	// (type 0xf) are never used.
	gateInterrupt32 = 0x0e
)

// Gate is one hardware interrupt descriptor. The in-memory layout matches
// the 8-byte protected mode format: the handler offset is split around the
// selector and access bytes.
type Gate struct {
	offsetLow  uint16
	selector   uint16
	zero       uint8
	flags      uint8
	offsetHigh uint16
}

// setInterrupt marks this gate as a present 32-bit interrupt gate for the
// given code segment, handler offset and privilege level.
func (g *Gate) setInterrupt(selector uint16, offset uint32, dpl int) {
	g.offsetLow = uint16(offset)
	g.selector = selector
	g.zero = 0
	g.flags = gatePresent | uint8(dpl)<<5 | gateInterrupt32
	g.offsetHigh = uint16(offset >> 16)
}

// Present returns true if the gate is marked present.
func (g *Gate) Present() bool {
	return g.flags&gatePresent != 0
}

// DPL returns the gate's descriptor privilege level.
func (g *Gate) DPL() int {
	return int(g.flags>>5) & 3
}

// IsInterruptGate returns true if the gate type is a 32-bit interrupt gate.
func (g *Gate) IsInterruptGate() bool {
	return g.flags&0x1f == gateInterrupt32
}

// Offset returns the handler offset.
func (g *Gate) Offset() uint32 {
	return uint32(g.offsetHigh)<<16 | uint32(g.offsetLow)
}

// Selector returns the code segment selector.
func (g *Gate) Selector() uint16 {
	return g.selector
}

// VectorTable is the interrupt descriptor table. It is built once at boot
// and never mutated after the processor loads it.
type VectorTable struct {
	gates [NumVectors]Gate
}

// Init initializes the vector table. Every slot is stamped from the same
// template: a kernel-only interrupt gate bound to that vector's entry stub.
// Only the system call gate differs, carrying DPL 3 so user code can raise
// it; raising any other vector from user mode faults instead.
func (t *VectorTable) Init() {
	for v := Vector(0); v < NumVectors; v++ {
		dpl := 0
		if v == Syscall {
			dpl = 3
		}
		t.gates[v].setInterrupt(krill.KernelCS, EntryStub(v), dpl)
	}
}

// Gate returns the descriptor for the given vector.
func (t *VectorTable) Gate(v Vector) *Gate {
	return &t.gates[v]
}
