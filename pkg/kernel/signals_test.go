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
	"testing"

	"github.com/google/go-cmp/cmp"
	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/arch"
	"krill.dev/krill/pkg/errors/kernelerr"
	"krill.dev/krill/pkg/ring0"
	"krill.dev/krill/pkg/usermem"
	"krill.dev/krill/pkg/usermode"
)

// unknownVector is outside every dispatch class, so dispatching it
// exercises the delivery pass with no other side effects on the frame.
const unknownVector ring0.Vector = 0x42

func readSignalFrame(t *testing.T, task *Task, sp uint32) *arch.SignalFrame {
	t.Helper()
	var raw [arch.SignalFrameBytes]byte
	if err := task.mem.CopyIn(usermem.Addr(sp), raw[:]); err != nil {
		t.Fatalf("reading signal frame at %#08x: %v", sp, err)
	}
	sf, err := arch.DecodeSignalFrame(raw[:])
	if err != nil {
		t.Fatalf("DecodeSignalFrame: %v", err)
	}
	return sf
}

func TestDefaultDispositions(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	for _, tc := range []struct {
		sig   krill.Signal
		fatal bool
	}{
		{krill.SIGDIVZERO, true},
		{krill.SIGSEGFAULT, true},
		{krill.SIGINTERRUPT, true},
		{krill.SIGALARM, false},
		{krill.SIGUSER1, false},
	} {
		task := m.mustCreateTask(t, "idle")
		if err := task.SendSignal(tc.sig); err != nil {
			t.Fatalf("SendSignal(%v): %v", tc.sig, err)
		}
		f := userFrame(task, unknownVector, 0)
		m.k.HandleTrap(task, f)

		if tc.fatal {
			if !task.Exited() {
				t.Errorf("%v: task survived its default action", tc.sig)
			} else if got := task.ExitStatus(); got != KilledStatus {
				t.Errorf("%v: exit status %d, want %d", tc.sig, got, KilledStatus)
			}
		} else {
			if task.Exited() {
				t.Errorf("%v: discardable signal killed the task", tc.sig)
			}
			if task.PendingSignals() != 0 {
				t.Errorf("%v: signal not consumed, pending %#x", tc.sig, task.PendingSignals())
			}
		}
		task.cleanup()
	}
}

func TestHandlerDeliveryAndSigreturn(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")
	const handlerAddr = krill.UserBase + 0x5000
	if err := task.SetSignalHandler(krill.SIGUSER1, handlerAddr); err != nil {
		t.Fatalf("SetSignalHandler: %v", err)
	}
	task.SendSignal(krill.SIGUSER1)

	// Interrupt a system call so the round trip has a result to protect.
	task.regs.EAX = krill.SysRead
	task.regs.EBX, task.regs.ECX, task.regs.EDX = 1, 2, 3
	f := userFrame(task, ring0.Syscall, 0)
	want := *f
	want.EAX = 6
	m.k.HandleTrap(task, f)

	if f.EIP != handlerAddr {
		t.Fatalf("EIP = %#08x, want handler %#08x", f.EIP, uint32(handlerAddr))
	}
	if got := want.ESP - f.ESP; got != arch.SignalFrameBytes {
		t.Fatalf("stack moved %d bytes, want %d", got, arch.SignalFrameBytes)
	}
	sf := readSignalFrame(t, task, f.ESP)
	if sf.Signum != uint32(krill.SIGUSER1) {
		t.Errorf("Signum = %d, want %d", sf.Signum, krill.SIGUSER1)
	}
	// The saved context must be the post-syscall state: same registers,
	// the result already in EAX.
	if diff := cmp.Diff(want, sf.Sigcontext); diff != "" {
		t.Errorf("saved context mismatch (-want +got):\n%s", diff)
	}

	ret, err := task.Sigreturn(f)
	if err != nil {
		t.Fatalf("Sigreturn: %v", err)
	}
	if ret != 6 {
		t.Errorf("Sigreturn returned %d, want the interrupted result 6", ret)
	}
	if diff := cmp.Diff(want, *f); diff != "" {
		t.Errorf("restored context mismatch (-want +got):\n%s", diff)
	}
}

func TestMaskedDeliveryHoldsEverything(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")
	const handlerAddr = krill.UserBase + 0x5000
	if err := task.SetSignalHandler(krill.SIGUSER1, handlerAddr); err != nil {
		t.Fatalf("SetSignalHandler: %v", err)
	}
	task.SendSignal(krill.SIGUSER1)

	f := userFrame(task, unknownVector, 0)
	m.k.HandleTrap(task, f)
	if f.EIP != handlerAddr {
		t.Fatalf("first delivery did not run")
	}

	// While the handler is live nothing is delivered, a fatal signal
	// included. It waits on the pending set for sigreturn.
	task.SendSignal(krill.SIGINTERRUPT)
	inHandler := *f
	m.k.HandleTrap(task, f)
	if diff := cmp.Diff(inHandler, *f); diff != "" {
		t.Fatalf("frame rewritten under mask (-before +after):\n%s", diff)
	}
	if task.Exited() {
		t.Fatal("fatal signal acted while delivery was masked")
	}
	if !task.PendingSignals().Contains(krill.SIGINTERRUPT) {
		t.Fatal("signal lost while delivery was masked")
	}

	if _, err := task.Sigreturn(f); err != nil {
		t.Fatalf("Sigreturn: %v", err)
	}
	m.k.HandleTrap(task, f)
	if !task.Exited() {
		t.Fatal("held signal did not act after sigreturn")
	}
	if got := task.ExitStatus(); got != KilledStatus {
		t.Errorf("exit status %d, want %d", got, KilledStatus)
	}
}

func TestSigreturnForgedCS(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")

	// A handler could rewrite its saved CS to reenter ring 0. The
	// restore path must refuse the frame and kill the forger.
	sf := arch.SignalFrame{Signum: uint32(krill.SIGUSER1)}
	sf.Sigcontext = task.regs
	sf.Sigcontext.CS = krill.KernelCS
	sp := usermem.Addr(task.regs.ESP - arch.SignalFrameBytes)
	if err := task.mem.CopyOut(sp, sf.Encode()); err != nil {
		t.Fatalf("CopyOut: %v", err)
	}
	f := task.regs
	f.ESP = uint32(sp)

	_, err := task.Sigreturn(&f)
	if !kernelerr.Equals(kernelerr.EFAULT, err) {
		t.Fatalf("Sigreturn = %v, want EFAULT", err)
	}
	if !task.Exited() || task.ExitStatus() != KilledStatus {
		t.Errorf("forged frame did not kill the task (exited=%t status=%d)", task.Exited(), task.ExitStatus())
	}
}

func TestSigreturnUnreadableFrame(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")

	f := task.regs
	f.ESP = krill.UserBase - 0x1000
	_, err := task.Sigreturn(&f)
	if !kernelerr.Equals(kernelerr.EFAULT, err) {
		t.Fatalf("Sigreturn = %v, want EFAULT", err)
	}
	if !task.Exited() {
		t.Error("task survived sigreturn with no frame to restore")
	}
}

func TestUnwritableStackKills(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")
	if err := task.SetSignalHandler(krill.SIGUSER1, krill.UserBase+0x5000); err != nil {
		t.Fatalf("SetSignalHandler: %v", err)
	}
	task.SendSignal(krill.SIGUSER1)

	// The frame does not fit below the stack pointer, so delivery has
	// nowhere to spill the context.
	task.regs.ESP = krill.UserBase + 4
	f := userFrame(task, unknownVector, 0)
	m.k.HandleTrap(task, f)

	if !task.Exited() {
		t.Fatal("task survived an unwritable signal stack")
	}
	if got := task.ExitStatus(); got != KilledStatus {
		t.Errorf("exit status %d, want %d", got, KilledStatus)
	}
}

func TestSignalValidation(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")

	if err := task.SendSignal(krill.Signal(krill.NumSignals)); !kernelerr.Equals(kernelerr.EINVAL, err) {
		t.Errorf("SendSignal(out of range) = %v, want EINVAL", err)
	}
	if err := task.SendSignal(krill.Signal(-1)); !kernelerr.Equals(kernelerr.EINVAL, err) {
		t.Errorf("SendSignal(-1) = %v, want EINVAL", err)
	}
	if got := task.PendingSignals(); got != 0 {
		t.Errorf("invalid signals left pending bits %#x", got)
	}
	if err := task.SetSignalHandler(krill.Signal(99), krill.UserBase); !kernelerr.Equals(kernelerr.EINVAL, err) {
		t.Errorf("SetSignalHandler(bad signal) = %v, want EINVAL", err)
	}
	if err := task.SetSignalHandler(krill.SIGUSER1, krill.UserBase-4); !kernelerr.Equals(kernelerr.EFAULT, err) {
		t.Errorf("SetSignalHandler(bad address) = %v, want EFAULT", err)
	}
	// Zero address resets to the default disposition rather than being
	// a pointer to validate.
	if err := task.SetSignalHandler(krill.SIGUSER1, 0); err != nil {
		t.Errorf("SetSignalHandler(0) = %v, want nil", err)
	}
}
