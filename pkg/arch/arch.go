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

// Package arch provides the machine register state captured at every kernel
// entry, together with typed accessors for the pieces the rest of the kernel
// cares about: the system call number and arguments, the return value slot,
// and the privilege level the trap came from.
package arch

import (
	"fmt"

	"krill.dev/krill/pkg/abi/krill"
)

// Registers is the register state pushed at kernel entry. Every vector
// produces the same layout: the entry stubs push a zero placeholder for
// vectors whose hardware does not supply an error code, so handlers never
// need to know which shape they were given.
type Registers struct {
	// Data segment selectors, saved by the entry stub.
	DS uint32
	ES uint32
	FS uint32
	GS uint32

	// General purpose registers, saved by the entry stub.
	EDI uint32
	ESI uint32
	EBP uint32
	EBX uint32
	EDX uint32
	ECX uint32
	EAX uint32

	// Vector is the interrupt vector that raised this entry, pushed by
	// the per-vector stub.
	Vector uint32

	// ErrorCode is the hardware error code, or zero for vectors that do
	// not push one.
	ErrorCode uint32

	// Pushed by the processor itself.
	EIP    uint32
	CS     uint32
	EFLAGS uint32

	// Pushed by the processor only on a privilege transition; undefined
	// for kernel-mode frames.
	ESP uint32
	SS  uint32
}

// UserMode returns true if the frame was captured in user mode. The code
// segment selector is the sole authority; nothing else in the frame is
// consulted.
func (r *Registers) UserMode() bool {
	return r.CS == krill.UserCS
}

// SyscallNo returns the system call number for this frame.
func (r *Registers) SyscallNo() uint32 {
	return r.EAX
}

// SyscallArgs returns the system call arguments for this frame. The
// argument registers are EBX, ECX and EDX, in that order.
func (r *Registers) SyscallArgs() SyscallArguments {
	return SyscallArguments{
		SyscallArgument{Value: r.EBX},
		SyscallArgument{Value: r.ECX},
		SyscallArgument{Value: r.EDX},
	}
}

// Return returns the frame's return value slot.
func (r *Registers) Return() uint32 {
	return r.EAX
}

// SetReturn sets the frame's return value slot.
func (r *Registers) SetReturn(v uint32) {
	r.EAX = v
}

// IP returns the current instruction pointer.
func (r *Registers) IP() uint32 {
	return r.EIP
}

// SetIP sets the instruction pointer.
func (r *Registers) SetIP(v uint32) {
	r.EIP = v
}

// Stack returns the user stack pointer.
func (r *Registers) Stack() uint32 {
	return r.ESP
}

// SetStack sets the user stack pointer.
func (r *Registers) SetStack(v uint32) {
	r.ESP = v
}

// Flags returns the EFLAGS image in the frame.
func (r *Registers) Flags() uint32 {
	return r.EFLAGS
}

// String returns a multi-line register dump in the style of a kernel oops.
func (r *Registers) String() string {
	return fmt.Sprintf(
		"EAX=%08x EBX=%08x ECX=%08x EDX=%08x\n"+
			"ESI=%08x EDI=%08x EBP=%08x ESP=%08x\n"+
			"EIP=%08x EFLAGS=%08x\n"+
			"CS=%04x SS=%04x DS=%04x ES=%04x FS=%04x GS=%04x\n"+
			"vector=%#04x error=%#x",
		r.EAX, r.EBX, r.ECX, r.EDX,
		r.ESI, r.EDI, r.EBP, r.ESP,
		r.EIP, r.EFLAGS,
		r.CS&0xffff, r.SS&0xffff, r.DS&0xffff, r.ES&0xffff, r.FS&0xffff, r.GS&0xffff,
		r.Vector, r.ErrorCode)
}

// ControlRegs is the control register snapshot taken alongside a trap frame.
// CR2 holds the faulting address for page faults.
type ControlRegs struct {
	CR0 uint32
	CR2 uint32
	CR3 uint32
}

// String returns the control registers formatted for a fault dump.
func (c ControlRegs) String() string {
	return fmt.Sprintf("CR0=%08x CR2=%08x CR3=%08x", c.CR0, c.CR2, c.CR3)
}
