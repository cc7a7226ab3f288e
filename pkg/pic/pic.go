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

// Package pic models the cascaded pair of 8259A interrupt controllers.
//
// Sixteen lines are split across two chips: lines 0-7 on the master, lines
// 8-15 on the slave, whose output is wired into master line 2. Each chip
// keeps the three classic registers: the interrupt request register (IRR,
// lines asserted but not yet taken), the in-service register (ISR, lines
// taken and awaiting end-of-interrupt) and the interrupt mask register
// (IMR). The kernel talks to the pair as a single unit addressed by line
// number.
package pic

import (
	"fmt"
	"time"

	"krill.dev/krill/pkg/log"
	"krill.dev/krill/pkg/sync"
)

// NumLines is the number of interrupt lines on the pair.
const NumLines = 16

// cascadeLine is the master line carrying the slave's output.
const cascadeLine = 2

// chip is one 8259A.
type chip struct {
	irr uint8
	isr uint8
	imr uint8
}

// PIC is the cascaded pair.
type PIC struct {
	mu     sync.Mutex
	master chip
	slave  chip

	// notify is invoked, outside the lock, whenever a deliverable line
	// is asserted. The machine points this at the CPU's wakeup.
	notify func()

	spuriousLog log.Logger
}

// New returns a PIC with every line masked, as after programming the chips
// at boot.
func New() *PIC {
	return &PIC{
		master:      chip{imr: 0xff},
		slave:       chip{imr: 0xff},
		spuriousLog: log.BasicRateLimitedLogger(5 * time.Second),
	}
}

// SetNotify installs the wakeup hook called when a deliverable line goes
// pending.
func (p *PIC) SetNotify(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notify = fn
}

func checkLine(line int) {
	if line < 0 || line >= NumLines {
		panic(fmt.Sprintf("irq line %d out of range", line))
	}
}

// bit returns the chip and register bit for a line.
func (p *PIC) bit(line int) (*chip, uint8) {
	if line < 8 {
		return &p.master, 1 << uint(line)
	}
	return &p.slave, 1 << uint(line-8)
}

// Mask disables delivery of the given line. The cascade stays open: other
// slave lines must keep working.
func (p *PIC) Mask(line int) {
	checkLine(line)
	p.mu.Lock()
	defer p.mu.Unlock()
	c, b := p.bit(line)
	c.imr |= b
}

// Unmask enables delivery of the given line. Unmasking a slave line also
// opens the cascade line on the master.
func (p *PIC) Unmask(line int) {
	checkLine(line)
	p.mu.Lock()
	defer p.mu.Unlock()
	c, b := p.bit(line)
	c.imr &^= b
	if line >= 8 {
		p.master.imr &^= 1 << cascadeLine
	}
}

// Masked returns true if the line is masked.
func (p *PIC) Masked(line int) bool {
	checkLine(line)
	p.mu.Lock()
	defer p.mu.Unlock()
	c, b := p.bit(line)
	return c.imr&b != 0
}

// Assert raises the given line, as a device would. The line stays pending
// until acknowledged, even while masked.
func (p *PIC) Assert(line int) {
	checkLine(line)
	p.mu.Lock()
	c, b := p.bit(line)
	c.irr |= b
	deliverable := p.deliverableLocked(line)
	notify := p.notify
	p.mu.Unlock()

	if deliverable && notify != nil {
		notify()
	}
}

// deliverableLocked reports whether the line would be granted by the pair:
// pending, unmasked, not already in service, and (for slave lines) the
// cascade open.
func (p *PIC) deliverableLocked(line int) bool {
	c, b := p.bit(line)
	if c.irr&b == 0 || c.imr&b != 0 || c.isr&b != 0 {
		return false
	}
	if line >= 8 {
		cb := uint8(1) << cascadeLine
		if p.master.imr&cb != 0 {
			return false
		}
	}
	return true
}

// priority is the fixed 8259A grant order. The slave is wired into master
// line 2, so its eight lines collectively outrank master lines 3-7. Line 2
// itself is nearly always the cascade, but a direct assertion on it still
// resolves, after the slave.
var priority = [NumLines]int{0, 1, 8, 9, 10, 11, 12, 13, 14, 15, 2, 3, 4, 5, 6, 7}

// HasDeliverable returns true if any line would be granted.
func (p *PIC) HasDeliverable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, line := range priority {
		if p.deliverableLocked(line) {
			return true
		}
	}
	return false
}

// Ack grants the highest-priority deliverable line: its request bit clears,
// its in-service bit sets, and the line number is returned. ok is false if
// nothing is deliverable.
func (p *PIC) Ack() (line int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, line := range priority {
		if !p.deliverableLocked(line) {
			continue
		}
		c, b := p.bit(line)
		c.irr &^= b
		c.isr |= b
		if line >= 8 {
			p.master.isr |= 1 << cascadeLine
		}
		return line, true
	}
	return 0, false
}

// EOI signals end-of-interrupt for the given line. Slave lines EOI both
// chips. An EOI for a line not in service is spurious; it is logged and
// otherwise ignored.
func (p *PIC) EOI(line int) {
	checkLine(line)
	p.mu.Lock()
	c, b := p.bit(line)
	spurious := c.isr&b == 0
	if !spurious {
		c.isr &^= b
		if line >= 8 {
			p.master.isr &^= 1 << cascadeLine
		}
	}
	p.mu.Unlock()

	if spurious {
		p.spuriousLog.Warningf("pic: spurious EOI for line %d", line)
	}
}

// InService returns true if the line is between Ack and EOI.
func (p *PIC) InService(line int) bool {
	checkLine(line)
	p.mu.Lock()
	defer p.mu.Unlock()
	c, b := p.bit(line)
	return c.isr&b != 0
}

// Pending returns true if the line has been asserted but not yet granted.
func (p *PIC) Pending(line int) bool {
	checkLine(line)
	p.mu.Lock()
	defer p.mu.Unlock()
	c, b := p.bit(line)
	return c.irr&b != 0
}
