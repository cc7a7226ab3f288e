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

	"krill.dev/krill/pkg/arch"
)

// NumIRQLines is the number of interrupt request lines the controller
// exposes.
const NumIRQLines = 16

// IRQHandler services one device interrupt. It runs with interrupts
// disabled, before the controller is acknowledged, and must not block.
// frame is the interrupted context; handlers that post signals rely on
// the delivery pass that follows dispatch rather than touching it.
type IRQHandler func(line int, frame *arch.Registers)

func checkIRQLine(line int) {
	if line < 0 || line >= NumIRQLines {
		panic(fmt.Sprintf("kernel: irq line %d out of range", line))
	}
}

// RegisterIRQ installs h as the handler for an interrupt line and
// unmasks the line. Re-registering a line replaces its handler. The
// update is bracketed by the CPU interrupt flag so a half-installed
// handler can never observe its own line.
func (k *Kernel) RegisterIRQ(line int, h IRQHandler) {
	checkIRQLine(line)
	if h == nil {
		panic(fmt.Sprintf("kernel: nil handler for irq line %d", line))
	}
	flags := k.cpu.SaveAndDisableInterrupts()
	k.irqMu.Lock()
	k.irq[line] = h
	k.irqMu.Unlock()
	k.intc.Unmask(line)
	k.cpu.RestoreInterrupts(flags)
}

// UnregisterIRQ removes the handler for a line and masks it again.
// Unregistering a line that has no handler is a no-op.
func (k *Kernel) UnregisterIRQ(line int) {
	checkIRQLine(line)
	flags := k.cpu.SaveAndDisableInterrupts()
	k.irqMu.Lock()
	k.irq[line] = nil
	k.irqMu.Unlock()
	k.intc.Mask(line)
	k.cpu.RestoreInterrupts(flags)
}

// handleIRQ dispatches one acknowledged device interrupt: the handler
// first, if one is registered, then exactly one EOI. The EOI is owed
// to the controller whether or not anything claimed the line;
// swallowing it would freeze every lower-priority line behind it.
func (k *Kernel) handleIRQ(line int, frame *arch.Registers) {
	k.irqMu.Lock()
	h := k.irq[line]
	k.irqMu.Unlock()
	if h != nil {
		h(line, frame)
	}
	k.intc.EOI(line)
}
