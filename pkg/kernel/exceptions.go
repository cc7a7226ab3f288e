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
	"fmt"

	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/arch"
	"krill.dev/krill/pkg/log"
	"krill.dev/krill/pkg/ring0"
)

// exceptionInfo describes one processor exception vector.
type exceptionInfo struct {
	// name is the mnemonic printed in dumps and logs.
	name string

	// signal is raised when the exception originates in user code.
	signal krill.Signal
}

// exceptionTable covers every exception vector. Only the divide error
// gets its own signal; user programs see everything else as one
// generic fault, which keeps the handler ABI to two cases. The array
// length pins the table to the full vector range, so adding a vector
// without classifying it will not compile.
var exceptionTable = [ring0.NumExceptionVectors]exceptionInfo{
	ring0.DivideByZero:               {"Divide Error", krill.SIGDIVZERO},
	ring0.Debug:                      {"Debug", krill.SIGSEGFAULT},
	ring0.NMI:                        {"NMI Interrupt", krill.SIGSEGFAULT},
	ring0.Breakpoint:                 {"Breakpoint", krill.SIGSEGFAULT},
	ring0.Overflow:                   {"Overflow", krill.SIGSEGFAULT},
	ring0.BoundRangeExceeded:         {"BOUND Range Exceeded", krill.SIGSEGFAULT},
	ring0.InvalidOpcode:              {"Invalid Opcode", krill.SIGSEGFAULT},
	ring0.DeviceNotAvailable:         {"Device Not Available", krill.SIGSEGFAULT},
	ring0.DoubleFault:                {"Double Fault", krill.SIGSEGFAULT},
	ring0.CoprocessorSegmentOverrun:  {"Coprocessor Segment Overrun", krill.SIGSEGFAULT},
	ring0.InvalidTSS:                 {"Invalid TSS", krill.SIGSEGFAULT},
	ring0.SegmentNotPresent:          {"Segment Not Present", krill.SIGSEGFAULT},
	ring0.StackSegmentFault:          {"Stack-Segment Fault", krill.SIGSEGFAULT},
	ring0.GeneralProtectionFault:     {"General Protection", krill.SIGSEGFAULT},
	ring0.PageFault:                  {"Page Fault", krill.SIGSEGFAULT},
	ring0.Reserved15:                 {"Reserved", krill.SIGSEGFAULT},
	ring0.X87FloatingPointException:  {"x87 FPU Floating-Point Error", krill.SIGSEGFAULT},
	ring0.AlignmentCheck:             {"Alignment Check", krill.SIGSEGFAULT},
	ring0.MachineCheck:               {"Machine Check", krill.SIGSEGFAULT},
	ring0.SIMDFloatingPointException: {"SIMD Floating-Point Exception", krill.SIGSEGFAULT},
}

// ExceptionName returns the mnemonic for an exception vector.
func ExceptionName(v ring0.Vector) string {
	if v < ring0.NumExceptionVectors {
		return exceptionTable[v].name
	}
	return fmt.Sprintf("vector %#02x", uint(v))
}

// handleException services a processor exception. Faults raised by the
// kernel itself are unrecoverable and halt the machine with a register
// dump; faults raised by user code become signals against the faulting
// task.
func (k *Kernel) handleException(t *Task, frame *arch.Registers) {
	info := exceptionTable[frame.Vector]
	if !frame.UserMode() {
		k.fatal(info.name, frame)
		return
	}
	log.Debugf("kernel: pid %d: %s at %#08x", t.ID(), info.name, frame.EIP)
	t.SendSignal(info.signal)
}

// fatal paints the fatal exception dump over the display and halts the
// machine for good. Nothing runs afterwards; the halted CPU latches
// every run loop and blocked task out of existence.
func (k *Kernel) fatal(reason string, frame *arch.Registers) {
	cr := k.cpu.ControlRegs()
	dump := fmt.Sprintf("KERNEL PANIC: %s\n\n%s\n%s\n\nSystem halted.\n", reason, frame.String(), cr.String())
	k.consl.Clear()
	k.consl.WriteString(dump)
	log.Warningf("kernel: fatal exception: %s\n%s\n%s", reason, frame.String(), cr.String())
	k.cpu.Halt()
}
