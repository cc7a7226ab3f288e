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

// Package rtc emulates the real-time clock. The hardware side is a
// fixed-rate tick stream on interrupt line 8; the file side virtualizes
// it, giving every open of the rtc device file its own frequency by
// dividing the hardware rate down. The clock also drives the periodic
// alarm signal.
package rtc

import (
	"encoding/binary"
	"time"

	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/arch"
	"krill.dev/krill/pkg/errors/kernelerr"
	"krill.dev/krill/pkg/kernel"
	"krill.dev/krill/pkg/sync"
)

// IRQLine is the interrupt line the clock asserts. Line 8 sits on the
// cascaded controller.
const IRQLine = 8

// DeviceName is the name the clock registers its device file under.
const DeviceName = "rtc"

// HardwareHz is the fixed rate of the hardware tick stream. Per-open
// frequencies divide it, so it is also the fastest one available.
const HardwareHz = 1024

// Frequency limits for the device file. Writes outside them, or not a
// power of two, are rejected.
const (
	MinHz = 2
	MaxHz = HardwareHz

	// DefaultHz is the frequency a fresh open starts at.
	DefaultHz = 2
)

// LineAsserter raises device interrupt lines. *pic.PIC implements it.
type LineAsserter interface {
	Assert(line int)
}

// RTC is the clock device.
type RTC struct {
	k    *kernel.Kernel
	intc LineAsserter

	// mu guards the tick accounting. The host frontend ticks from its
	// own goroutine.
	mu sync.Mutex

	// pending counts hardware ticks not yet folded into ticks. The
	// controller collapses back-to-back edges on a line, so the
	// interrupt handler consumes pending wholesale rather than
	// counting interrupts.
	pending uint64

	// ticks is the hardware tick count as seen by the kernel.
	ticks uint64

	// alarmEvery is the alarm period in hardware ticks, zero when the
	// alarm is disarmed. nextAlarm is the tick it next fires at.
	alarmEvery uint64
	nextAlarm  uint64
}

// New builds a clock. Call Attach to install its interrupt handler and
// device file.
func New(k *kernel.Kernel, intc LineAsserter) *RTC {
	return &RTC{k: k, intc: intc}
}

// Attach installs the clock's interrupt handler, unmasks its line and
// registers the rtc device file.
func (c *RTC) Attach() {
	c.k.RegisterIRQ(IRQLine, c.handleIRQ)
	c.k.RegisterDeviceFile(DeviceName, c.open)
}

// SetAlarmInterval arms the periodic alarm: every d the task at the
// processor receives an alarm signal. A non-positive d disarms it.
func (c *RTC) SetAlarmInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		c.alarmEvery = 0
		return
	}
	c.alarmEvery = uint64(d * HardwareHz / time.Second)
	if c.alarmEvery == 0 {
		c.alarmEvery = 1
	}
	c.nextAlarm = c.ticks + c.alarmEvery
}

// Tick injects one hardware tick. Safe to call from any goroutine.
func (c *RTC) Tick() {
	c.TickN(1)
}

// TickN injects n hardware ticks as a single interrupt.
func (c *RTC) TickN(n uint64) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	c.pending += n
	c.mu.Unlock()
	c.intc.Assert(IRQLine)
}

// Run generates hardware ticks in real time until stop is closed. The
// host timer runs coarser than the hardware rate and injects the ticks
// the elapsed time accounts for.
func (c *RTC) Run(stop <-chan struct{}) {
	const step = time.Second / 64
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			n := uint64(now.Sub(last) * HardwareHz / time.Second)
			if n == 0 {
				continue
			}
			last = last.Add(time.Duration(n) * time.Second / HardwareHz)
			c.TickN(n)
		}
	}
}

// Ticks returns the hardware tick count.
func (c *RTC) Ticks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// handleIRQ folds pending hardware ticks into the kernel-visible count
// and fires the alarm when its period has elapsed. Blocked readers
// recheck their deadlines against the new count when their suspension
// loops resume.
func (c *RTC) handleIRQ(line int, frame *arch.Registers) {
	c.mu.Lock()
	c.ticks += c.pending
	c.pending = 0
	alarm := false
	if c.alarmEvery > 0 && c.ticks >= c.nextAlarm {
		alarm = true
		for c.ticks >= c.nextAlarm {
			c.nextAlarm += c.alarmEvery
		}
	}
	c.mu.Unlock()
	if alarm {
		if t := c.k.CurrentTask(); t != nil {
			t.SendSignal(krill.SIGALARM)
		}
	}
}

// open builds the per-open state for the rtc device file. Every open
// starts at the default frequency.
func (c *RTC) open(t *kernel.Task) (kernel.FileOperations, kernel.FDFlags, error) {
	f := &clockFile{c: c, interval: HardwareHz / DefaultHz}
	return f, kernel.FDFlags{Readable: true, Writable: true}, nil
}

// clockFile is one open of the rtc device file. interval is the open's
// virtual tick period in hardware ticks.
type clockFile struct {
	c        *RTC
	interval uint64
}

// Read blocks until the open's next virtual tick and returns zero
// bytes. The buffer is ignored.
func (f *clockFile) Read(t *kernel.Task, fd *kernel.FileDescription, dst []byte) (int, error) {
	f.c.mu.Lock()
	deadline := f.c.ticks + f.interval
	f.c.mu.Unlock()
	err := t.Block(func() bool {
		f.c.mu.Lock()
		defer f.c.mu.Unlock()
		return f.c.ticks >= deadline
	})
	if err != nil {
		return 0, err
	}
	return 0, nil
}

// Write sets the open's frequency. src must be exactly four bytes
// holding a power of two between MinHz and MaxHz.
func (f *clockFile) Write(t *kernel.Task, fd *kernel.FileDescription, src []byte) (int, error) {
	if len(src) != 4 {
		return 0, kernelerr.EINVAL
	}
	hz := binary.LittleEndian.Uint32(src)
	if hz < MinHz || hz > MaxHz || hz&(hz-1) != 0 {
		return 0, kernelerr.EINVAL
	}
	f.c.mu.Lock()
	f.interval = HardwareHz / uint64(hz)
	f.c.mu.Unlock()
	return 4, nil
}

// Release implements kernel.FileOperations.Release.
func (f *clockFile) Release(t *kernel.Task) {
}
