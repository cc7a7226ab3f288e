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
	"krill.dev/krill/pkg/errors/kernelerr"
	"krill.dev/krill/pkg/log"
	"krill.dev/krill/pkg/usermem"
)

// SendSignal marks sig pending against the task and kicks the CPU so
// a blocked task re-evaluates its condition. Delivery happens at the
// task's next return to user mode. Safe to call from device handlers
// and from other goroutines.
func (t *Task) SendSignal(sig krill.Signal) error {
	if !sig.IsValid() {
		return kernelerr.EINVAL
	}
	t.mu.Lock()
	t.pendingSignals |= sig.Mask()
	t.mu.Unlock()
	t.k.cpu.Kick()
	return nil
}

// PendingSignals returns the current pending set.
func (t *Task) PendingSignals() krill.SignalSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingSignals
}

// SetSignalHandler installs a user handler entry point for sig. An
// address of zero restores the default action.
func (t *Task) SetSignalHandler(sig krill.Signal, addr usermem.Addr) error {
	if !sig.IsValid() {
		return kernelerr.EINVAL
	}
	if addr != 0 {
		if err := t.mem.CheckRange(addr, 1); err != nil {
			return err
		}
	}
	t.mu.Lock()
	t.handlers[sig] = addr
	t.mu.Unlock()
	return nil
}

// deliverPendingSignals is the post-dispatch delivery pass. It runs
// once per user-mode trap and takes the lowest pending signal to its
// disposition: a registered handler gets the frame redirected at it,
// an unhandled fatal signal kills the task, anything else is dropped.
// At most one handler is started per pass; further pending signals
// wait for the next trap boundary.
func (t *Task) deliverPendingSignals(frame *arch.Registers) {
	if t.exited {
		return
	}
	t.mu.Lock()
	if t.sigMasked {
		// A handler is already on the user stack. Everything stays
		// pending until its sigreturn unmasks delivery.
		t.mu.Unlock()
		return
	}
	sig := t.pendingSignals.LowestSignal()
	if sig < 0 {
		t.mu.Unlock()
		return
	}
	t.pendingSignals &^= sig.Mask()
	handler := t.handlers[sig]
	t.mu.Unlock()

	if handler == 0 {
		if sig.KillsByDefault() {
			t.killFrom(sig)
		}
		return
	}

	// Push the signal frame and point the task at its handler. The
	// handler runs with further delivery masked until it sigreturns.
	sf := arch.SignalFrame{Signum: uint32(sig), Sigcontext: *frame}
	sp := usermem.Addr(frame.ESP - arch.SignalFrameBytes)
	if err := t.mem.CopyOut(sp, sf.Encode()); err != nil {
		log.Infof("kernel: pid %d: unwritable stack %#08x delivering %v", t.id, uint32(sp), sig)
		t.killFrom(krill.SIGSEGFAULT)
		return
	}
	frame.SetStack(uint32(sp))
	frame.SetIP(uint32(handler))
	t.mu.Lock()
	t.sigMasked = true
	t.mu.Unlock()
	log.Debugf("kernel: pid %d: delivering %v, handler %#08x", t.id, sig, uint32(handler))
}

// killFrom terminates the task on behalf of a signal.
func (t *Task) killFrom(sig krill.Signal) {
	log.Infof("kernel: pid %d (%s) killed by %v", t.id, t.name, sig)
	t.exit(KilledStatus)
}

// Sigreturn restores the register state saved by signal delivery from
// the frame at the top of the user stack and re-enables delivery. The
// returned value is the restored EAX, so the interrupted system call's
// result survives the round trip through the handler.
func (t *Task) Sigreturn(regs *arch.Registers) (int32, error) {
	var raw [arch.SignalFrameBytes]byte
	if err := t.mem.CopyIn(usermem.Addr(regs.ESP), raw[:]); err != nil {
		// The frame is gone; there is no state to return to.
		log.Infof("kernel: pid %d: unreadable signal frame at %#08x", t.id, regs.ESP)
		t.killFrom(krill.SIGSEGFAULT)
		return -1, kernelerr.EFAULT
	}
	sf, err := arch.DecodeSignalFrame(raw[:])
	if err != nil {
		t.killFrom(krill.SIGSEGFAULT)
		return -1, kernelerr.EFAULT
	}
	if sf.Sigcontext.CS != krill.UserCS {
		// A forged context could resume in ring 0.
		log.Infof("kernel: pid %d: signal frame with CS %#04x", t.id, sf.Sigcontext.CS)
		t.killFrom(krill.SIGSEGFAULT)
		return -1, kernelerr.EFAULT
	}
	*regs = sf.Sigcontext
	t.mu.Lock()
	t.sigMasked = false
	t.mu.Unlock()
	return int32(regs.EAX), nil
}
