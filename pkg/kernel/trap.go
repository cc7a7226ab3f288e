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
	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/arch"
	"krill.dev/krill/pkg/ring0"
)

// HandleTrap is the single entry point for every trap: exceptions,
// device interrupts and system calls all come through here with a
// normalized frame. The frame is live; dispatch may rewrite it (system
// call returns, signal delivery) and the caller must treat the result
// as the context to resume.
//
// Interrupts are disabled for the whole of dispatch, as they would be
// behind an interrupt gate, and re-enabled only when returning to user
// mode. Kernel-origin frames leave the flag off: their callers are
// suspension loops that manage it themselves.
//
// t is the task the trap is charged to. It may be nil only for frames
// that cannot reference a task, before the first task exists.
func (k *Kernel) HandleTrap(t *Task, frame *arch.Registers) {
	k.cpu.DisableInterrupts()

	v := ring0.Vector(frame.Vector)
	switch {
	case v.IsException():
		k.handleException(t, frame)
	case v.IsIRQ():
		k.handleIRQ(v.IRQ(), frame)
	case v == ring0.Syscall:
		k.handleSyscall(t, frame)
	default:
		// Vectors nothing claims are logged and dropped. A wedged
		// device could spray these, so the logger is rate limited.
		k.unknownLog.Warningf("kernel: ignoring interrupt with unknown vector %#02x", uint(v))
	}

	// The one signal delivery point. Every trap that will resume user
	// code gets exactly one delivery pass, whatever the trap class;
	// traps that interrupted the kernel never deliver.
	if frame.UserMode() {
		if t != nil {
			t.deliverPendingSignals(frame)
		}
		k.cpu.EnableInterrupts()
	}
}

// serviceUserIRQs drains deliverable device interrupts at the
// return-to-user edge. Each one is dispatched against the task's
// current user context, so handlers and signal delivery see the frame
// they would have seen had the interrupt arrived mid-instruction.
func (k *Kernel) serviceUserIRQs(t *Task) {
	for k.cpu.InterruptsEnabled() && k.intc.HasDeliverable() {
		line, ok := k.intc.Ack()
		if !ok {
			return
		}
		frame := ring0.Frame(ring0.VectorForIRQ(line), 0, t.regs)
		k.HandleTrap(t, frame)
		t.regs = *frame
	}
}

// serviceKernelIRQs drains deliverable device interrupts from inside a
// kernel suspension loop. The frames are synthetic kernel-mode
// contexts; nothing user-visible is resumed from them, and the signal
// delivery pass does not run.
func (k *Kernel) serviceKernelIRQs(t *Task) {
	for k.intc.HasDeliverable() {
		line, ok := k.intc.Ack()
		if !ok {
			return
		}
		frame := ring0.Frame(ring0.VectorForIRQ(line), 0, kernelRegs())
		k.HandleTrap(t, frame)
	}
}

// kernelRegs builds the register file for a synthetic kernel-mode
// frame: the context a hardware interrupt would capture while the
// kernel sits in its halt loop.
func kernelRegs() arch.Registers {
	return arch.Registers{
		CS:     krill.KernelCS,
		DS:     krill.KernelDS,
		ES:     krill.KernelDS,
		SS:     krill.KernelDS,
		EIP:    ring0.KernelTextBase + 0x40,
		ESP:    krill.KernelStackTop,
		EFLAGS: krill.EflagsDefault,
	}
}
