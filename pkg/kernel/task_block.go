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
	"krill.dev/krill/pkg/errors/kernelerr"
)

// Block suspends the task inside a system call until ready reports
// true. It is the kernel's only idle loop: enable interrupts, halt
// until something arrives, disable interrupts, service what pended,
// check the condition again. Device interrupts taken here run against
// kernel-mode frames, so their handlers fire but no signal delivery
// happens until the task is back at its own trap boundary.
//
// Block returns ErrInterrupted if a pending signal demands attention
// or the machine halts before the condition is met. ready must be safe
// to call repeatedly and from the CPU's wait predicate.
func (t *Task) Block(ready func() bool) error {
	k := t.k
	for {
		if k.cpu.Halted() {
			return kernelerr.ErrInterrupted
		}
		if t.interrupted() {
			return kernelerr.ErrInterrupted
		}
		if ready() {
			return nil
		}
		k.cpu.EnableInterrupts()
		ok := k.cpu.Wait(func() bool {
			return k.intc.HasDeliverable() || t.interrupted() || ready()
		})
		k.cpu.DisableInterrupts()
		if !ok {
			return kernelerr.ErrInterrupted
		}
		k.serviceKernelIRQs(t)
	}
}

// interrupted returns true if a pending signal would do something the
// moment the task reaches its trap boundary: run a handler or kill the
// task. Signals that would simply be discarded do not interrupt a
// blocked system call, and nothing does while delivery is masked by a
// running handler.
func (t *Task) interrupted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sigMasked {
		return false
	}
	pending := t.pendingSignals
	for sig := pending.LowestSignal(); sig >= 0; sig = pending.LowestSignal() {
		pending &^= sig.Mask()
		if t.handlers[sig] != 0 || sig.KillsByDefault() {
			return true
		}
	}
	return false
}
