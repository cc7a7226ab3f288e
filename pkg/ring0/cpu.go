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
	"krill.dev/krill/pkg/sync"
)

// Boot-time control register values: paging and protection enabled, page
// directory in kernel bss.
const (
	bootCR0 = 0x80000001
	bootCR3 = 0x00405000
)

// CPU is the single simulated processor. Kernel code runs on whichever
// goroutine currently owns the machine; the CPU only tracks the state that
// hardware would: the interrupt flag, the loaded vector table, the control
// registers and whether the machine has been halted for good.
//
// Interrupt assertion may happen from any goroutine (devices run freely);
// everything else is driven from kernel context.
type CPU struct {
	mu sync.Mutex

	// intrEnabled is the IF flag.
	// +checklocks:mu
	intrEnabled bool

	// table is the loaded vector table.
	// +checklocks:mu
	table *VectorTable

	// halted latches once the machine halts permanently.
	// +checklocks:mu
	halted bool

	// haltCh is closed when halted latches, releasing any waiter.
	haltCh chan struct{}

	// wake is poked by Kick. A single-slot buffer is enough: wakeups
	// carry no payload and waiters always recheck their condition.
	wake chan struct{}

	// cr is the control register state.
	// +checklocks:mu
	cr arch.ControlRegs
}

// NewCPU returns a CPU in its boot state: interrupts off, no vector table.
func NewCPU() *CPU {
	return &CPU{
		haltCh: make(chan struct{}),
		wake:   make(chan struct{}, 1),
		cr: arch.ControlRegs{
			CR0: bootCR0,
			CR3: bootCR3,
		},
	}
}

// LoadVectorTable makes t the active vector table, as lidt would.
func (c *CPU) LoadVectorTable(t *VectorTable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table = t
}

// VectorTable returns the active vector table, or nil before boot.
func (c *CPU) VectorTable() *VectorTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table
}

// EnableInterrupts sets IF.
func (c *CPU) EnableInterrupts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intrEnabled = true
}

// DisableInterrupts clears IF.
func (c *CPU) DisableInterrupts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intrEnabled = false
}

// InterruptsEnabled returns the IF flag.
func (c *CPU) InterruptsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intrEnabled
}

// SaveAndDisableInterrupts clears IF and returns its previous state, so a
// critical section can nest inside another without unconditionally enabling
// interrupts on exit.
func (c *CPU) SaveAndDisableInterrupts() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.intrEnabled
	c.intrEnabled = false
	return was
}

// RestoreInterrupts restores a flag state saved by SaveAndDisableInterrupts.
func (c *CPU) RestoreInterrupts(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intrEnabled = enabled
}

// Kick wakes the CPU if it is waiting for an interrupt. Callers must make
// their wakeup condition visible before kicking.
func (c *CPU) Kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until ready() holds, waking on Kick to recheck. It is the hlt
// of the simulation: the caller enables interrupts around it per the usual
// sti; hlt; cli sequence. Wait returns false if the machine halted for good
// while waiting.
func (c *CPU) Wait(ready func() bool) bool {
	for {
		if c.Halted() {
			return false
		}
		if ready() {
			return true
		}
		select {
		case <-c.wake:
		case <-c.haltCh:
			return false
		}
	}
}

// Halt stops the machine permanently. There is no way back; the fatal
// exception path and machine teardown call this.
func (c *CPU) Halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.halted {
		c.halted = true
		close(c.haltCh)
	}
}

// Halted returns true once the machine has halted permanently.
func (c *CPU) Halted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

// Done returns a channel closed when the machine halts permanently.
func (c *CPU) Done() <-chan struct{} {
	return c.haltCh
}

// ControlRegs returns the control register snapshot.
func (c *CPU) ControlRegs() arch.ControlRegs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cr
}

// SetCR2 records a faulting address, as the processor does on a page fault.
func (c *CPU) SetCR2(addr uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cr.CR2 = addr
}
