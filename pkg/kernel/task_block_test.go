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

	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/arch"
	"krill.dev/krill/pkg/errors/kernelerr"
	"krill.dev/krill/pkg/usermode"
)

func TestBlockReadyImmediately(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")
	if err := task.Block(func() bool { return true }); err != nil {
		t.Fatalf("Block = %v, want nil", err)
	}
	// The usual sti; hlt; cli bracket: the caller gets the CPU back
	// with interrupts off.
	if m.k.cpu.InterruptsEnabled() {
		t.Error("Block returned with interrupts enabled")
	}
}

func TestBlockHaltedMachine(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")

	m.cpu.Halt()
	if err := task.Block(func() bool { return false }); err != kernelerr.ErrInterrupted {
		t.Fatalf("Block on a halted machine = %v, want ErrInterrupted", err)
	}
}

func TestBlockHaltWhileWaiting(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")

	errc := make(chan error, 1)
	go func() {
		errc <- task.Block(func() bool { return false })
	}()
	m.cpu.Halt()
	if err := <-errc; err != kernelerr.ErrInterrupted {
		t.Fatalf("Block = %v, want ErrInterrupted", err)
	}
}

func TestBlockWakesOnFatalSignal(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")

	errc := make(chan error, 1)
	go func() {
		errc <- task.Block(func() bool { return false })
	}()
	if err := task.SendSignal(krill.SIGINTERRUPT); err != nil {
		t.Fatalf("SendSignal: %v", err)
	}
	if err := <-errc; err != kernelerr.ErrInterrupted {
		t.Fatalf("Block = %v, want ErrInterrupted", err)
	}
	// Interruption only wakes the call; the signal itself still acts
	// at the trap boundary, not here.
	if task.Exited() {
		t.Error("Block killed the task itself")
	}
	if !task.PendingSignals().Contains(krill.SIGINTERRUPT) {
		t.Error("Block consumed the pending signal")
	}
}

func TestBlockWakesOnHandledSignal(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")
	if err := task.SetSignalHandler(krill.SIGALARM, krill.UserBase+0x5000); err != nil {
		t.Fatalf("SetSignalHandler: %v", err)
	}

	task.SendSignal(krill.SIGALARM)
	// Even with the condition satisfied, a signal that will run a
	// handler wins.
	if err := task.Block(func() bool { return true }); err != kernelerr.ErrInterrupted {
		t.Fatalf("Block = %v, want ErrInterrupted", err)
	}
}

func TestBlockIgnoresDiscardableSignal(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")

	// No handler and not fatal by default: the signal will be dropped
	// at the trap boundary, so it must not break the sleep.
	task.SendSignal(krill.SIGALARM)
	if err := task.Block(func() bool { return true }); err != nil {
		t.Fatalf("Block = %v, want nil", err)
	}
}

func TestBlockMaskedSignalDoesNotInterrupt(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")

	// A blocking call made from inside a signal handler must not be
	// broken by further signals; they wait for sigreturn.
	task.sigMasked = true
	task.SendSignal(krill.SIGINTERRUPT)
	if err := task.Block(func() bool { return true }); err != nil {
		t.Fatalf("Block under mask = %v, want nil", err)
	}
}

func TestBlockServicesIRQsWhileWaiting(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")

	fired := false
	sawKernelFrame := false
	m.k.RegisterIRQ(3, func(line int, frame *arch.Registers) {
		fired = true
		sawKernelFrame = !frame.UserMode() && frame.CS == krill.KernelCS
	})

	errc := make(chan error, 1)
	go func() {
		errc <- task.Block(func() bool { return fired })
	}()
	m.pic.Assert(3)

	if err := <-errc; err != nil {
		t.Fatalf("Block = %v, want nil", err)
	}
	if !sawKernelFrame {
		t.Error("suspension-time interrupt did not run against a kernel frame")
	}
	if m.pic.InService(3) {
		t.Error("line still in service; suspension loop skipped the EOI")
	}
}
