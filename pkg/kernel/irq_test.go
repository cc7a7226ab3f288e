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
	"testing"

	"github.com/google/go-cmp/cmp"
	"krill.dev/krill/pkg/arch"
	"krill.dev/krill/pkg/imagefs"
	"krill.dev/krill/pkg/ring0"
	"krill.dev/krill/pkg/usermode"
)

// fakeIntc records every controller interaction in order, so tests can
// assert on the callback/EOI sequence rather than just end states.
type fakeIntc struct {
	pending []int
	events  []string
	masked  map[int]bool
}

func newFakeIntc() *fakeIntc {
	return &fakeIntc{masked: make(map[int]bool)}
}

func (f *fakeIntc) Mask(line int) {
	f.masked[line] = true
	f.events = append(f.events, fmt.Sprintf("mask:%d", line))
}

func (f *fakeIntc) Unmask(line int) {
	f.masked[line] = false
	f.events = append(f.events, fmt.Sprintf("unmask:%d", line))
}

func (f *fakeIntc) EOI(line int) {
	f.events = append(f.events, fmt.Sprintf("eoi:%d", line))
}

func (f *fakeIntc) Ack() (int, bool) {
	if len(f.pending) == 0 {
		return 0, false
	}
	line := f.pending[0]
	f.pending = f.pending[1:]
	f.events = append(f.events, fmt.Sprintf("ack:%d", line))
	return line, true
}

func (f *fakeIntc) HasDeliverable() bool {
	return len(f.pending) > 0
}

func newFakeIntcMachine(t *testing.T) (*Kernel, *fakeIntc) {
	t.Helper()
	b := imagefs.NewBuilder()
	if err := b.AddDirectory("."); err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	if err := b.AddRegular("idle", progImage()); err != nil {
		t.Fatalf("AddRegular: %v", err)
	}
	img, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	fs, err := imagefs.New(img)
	if err != nil {
		t.Fatalf("imagefs.New: %v", err)
	}
	fake := newFakeIntc()
	k, err := New(InitArgs{
		CPU:        ring0.NewCPU(),
		Interrupts: fake,
		Console:    &testConsole{},
		Loader:     &testLoader{bodies: map[string]func(*usermode.Env){"idle": idleBody}},
		RootFS:     fs,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	k.SetSyscallTable(newTestSyscallTable(k))
	return k, fake
}

func TestCallbackThenExactlyOneEOI(t *testing.T) {
	k, fake := newFakeIntcMachine(t)
	k.RegisterIRQ(5, func(line int, frame *arch.Registers) {
		fake.events = append(fake.events, fmt.Sprintf("cb:%d", line))
	})

	f := ring0.Frame(ring0.VectorForIRQ(5), 0, kernelRegs())
	k.HandleTrap(nil, f)

	want := []string{"unmask:5", "cb:5", "eoi:5"}
	if diff := cmp.Diff(want, fake.events); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestEOIWithoutHandler(t *testing.T) {
	k, fake := newFakeIntcMachine(t)

	f := ring0.Frame(ring0.VectorForIRQ(3), 0, kernelRegs())
	k.HandleTrap(nil, f)

	// No handler is not an error: the line still gets acknowledged so
	// the controller can grant the next interrupt.
	if diff := cmp.Diff([]string{"eoi:3"}, fake.events); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestUserIRQDrainOrder(t *testing.T) {
	k, fake := newFakeIntcMachine(t)
	task, err := k.createTask("idle", nil)
	if err != nil {
		t.Fatalf("createTask: %v", err)
	}
	for _, line := range []int{1, 8} {
		k.RegisterIRQ(line, func(line int, frame *arch.Registers) {
			fake.events = append(fake.events, fmt.Sprintf("cb:%d", line))
		})
	}
	fake.events = nil
	fake.pending = []int{1, 8}

	k.cpu.EnableInterrupts()
	k.serviceUserIRQs(task)

	want := []string{"ack:1", "cb:1", "eoi:1", "ack:8", "cb:8", "eoi:8"}
	if diff := cmp.Diff(want, fake.events); diff != "" {
		t.Errorf("drain sequence mismatch (-want +got):\n%s", diff)
	}
	if !k.cpu.InterruptsEnabled() {
		t.Error("drain loop left interrupts disabled for a live user task")
	}
}

func TestDispatchWithRealController(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})
	task := m.mustCreateTask(t, "idle")

	inService := false
	var gotLine int
	m.k.RegisterIRQ(4, func(line int, frame *arch.Registers) {
		gotLine = line
		inService = m.pic.InService(line)
	})

	m.pic.Assert(4)
	line, ok := m.pic.Ack()
	if !ok || line != 4 {
		t.Fatalf("Ack = (%d, %t), want (4, true)", line, ok)
	}
	f := userFrame(task, ring0.VectorForIRQ(line), 0)
	m.k.HandleTrap(task, f)

	if gotLine != 4 {
		t.Fatalf("handler saw line %d, want 4", gotLine)
	}
	if !inService {
		t.Error("line not in service during the callback; EOI came first")
	}
	if m.pic.InService(4) {
		t.Error("line still in service after dispatch; EOI never sent")
	}
}

func TestRegisterReplacesHandler(t *testing.T) {
	k, fake := newFakeIntcMachine(t)
	firstRan := false
	k.RegisterIRQ(6, func(line int, frame *arch.Registers) { firstRan = true })
	k.RegisterIRQ(6, func(line int, frame *arch.Registers) {
		fake.events = append(fake.events, "second")
	})

	f := ring0.Frame(ring0.VectorForIRQ(6), 0, kernelRegs())
	k.HandleTrap(nil, f)

	if firstRan {
		t.Error("replaced handler still ran")
	}
	want := []string{"unmask:6", "unmask:6", "second", "eoi:6"}
	if diff := cmp.Diff(want, fake.events); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestUnregisteredDispatchStillEOIs(t *testing.T) {
	k, fake := newFakeIntcMachine(t)
	k.RegisterIRQ(9, func(line int, frame *arch.Registers) {
		fake.events = append(fake.events, "stale")
	})
	k.UnregisterIRQ(9)
	fake.events = nil

	// A masked line can still have an interrupt in flight; the dispatch
	// must retire it without resurrecting the old callback.
	f := ring0.Frame(ring0.VectorForIRQ(9), 0, kernelRegs())
	k.HandleTrap(nil, f)

	if diff := cmp.Diff([]string{"eoi:9"}, fake.events); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestUnregisterMasksAndIsIdempotent(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){"idle": idleBody})

	m.k.RegisterIRQ(7, func(line int, frame *arch.Registers) {})
	if m.pic.Masked(7) {
		t.Fatal("line masked after RegisterIRQ")
	}
	m.k.UnregisterIRQ(7)
	if !m.pic.Masked(7) {
		t.Fatal("line not masked after UnregisterIRQ")
	}
	// A second unregister must be a no-op, not a fault.
	m.k.UnregisterIRQ(7)
	if !m.pic.Masked(7) {
		t.Fatal("repeat UnregisterIRQ unmasked the line")
	}
	// Unregistering a line that was never claimed is equally fine.
	m.k.UnregisterIRQ(12)
}

func TestRegisterBadLinePanics(t *testing.T) {
	k, _ := newFakeIntcMachine(t)
	for _, line := range []int{-1, 16, 100} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("RegisterIRQ(%d) did not panic", line)
				}
			}()
			k.RegisterIRQ(line, func(int, *arch.Registers) {})
		}()
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("UnregisterIRQ(%d) did not panic", line)
				}
			}()
			k.UnregisterIRQ(line)
		}()
	}
	func() {
		defer func() {
			if recover() == nil {
				t.Error("RegisterIRQ with nil handler did not panic")
			}
		}()
		k.RegisterIRQ(0, nil)
	}()
}

func TestRegisterPreservesInterruptFlag(t *testing.T) {
	k, _ := newFakeIntcMachine(t)
	h := func(int, *arch.Registers) {}

	k.cpu.EnableInterrupts()
	k.RegisterIRQ(2, h)
	if !k.cpu.InterruptsEnabled() {
		t.Error("RegisterIRQ did not restore the enabled interrupt flag")
	}
	k.cpu.DisableInterrupts()
	k.UnregisterIRQ(2)
	if k.cpu.InterruptsEnabled() {
		t.Error("UnregisterIRQ re-enabled interrupts behind the caller")
	}
}
