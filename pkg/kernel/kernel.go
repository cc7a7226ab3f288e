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

// Package kernel provides an emulation of the Krill teaching kernel.
//
// The kernel is single-CPU and non-reentrant. All task execution,
// trap dispatch and system call handling happen on one goroutine, the
// one driving the root task's run loop; nested programs started by
// execute run inline on the same goroutine. The only concurrency is
// external: device goroutines assert interrupt lines and the host
// bridge posts signals, both of which only touch their own locks and
// kick the CPU.
//
// Lock order (outermost locks must be taken first):
//
//	Kernel.extMu
//	  Kernel.irqMu
//	  Task.mu
package kernel

import (
	"fmt"
	"time"

	"krill.dev/krill/pkg/imagefs"
	"krill.dev/krill/pkg/log"
	"krill.dev/krill/pkg/ring0"
	"krill.dev/krill/pkg/sync"
	"krill.dev/krill/pkg/usermode"
)

// MaxTasks bounds the number of live tasks, and with it the depth of
// the execute chain.
const MaxTasks = 8

// InterruptController is the kernel's view of the interrupt hardware.
// It is the acknowledge side only; devices assert lines directly on
// the controller they were wired to.
type InterruptController interface {
	// Mask stops a line from being delivered.
	Mask(line int)

	// Unmask allows a line to be delivered again.
	Unmask(line int)

	// EOI retires the in-service interrupt on a line.
	EOI(line int)

	// Ack grants the highest-priority deliverable interrupt, if any.
	Ack() (line int, ok bool)

	// HasDeliverable returns true if Ack would grant something.
	HasDeliverable() bool
}

// Console is the display surface used by the kernel itself, most
// importantly for the fatal exception dump.
type Console interface {
	// Clear erases the display and homes the cursor.
	Clear()

	// WriteString prints s at the cursor.
	WriteString(s string)
}

// Loader produces the executable behavior for a named program. The
// program's on-image bytes are handled by the kernel; the Loader
// supplies the instruction stream behind them.
type Loader interface {
	Load(name string) (usermode.Program, error)
}

// VideoSink receives the contents of a task's mapped video page after
// user steps that may have written it. The slice aliases task memory
// and must not be retained past the call.
type VideoSink interface {
	BlitCells(cells []byte)
}

// Kernel represents an emulated Krill kernel. Build one with New.
type Kernel struct {
	// extMu serializes external changes to the Kernel: device file
	// registration, stdio wiring and task table maintenance.
	extMu sync.Mutex

	cpu    *ring0.CPU
	intc   InterruptController
	consl  Console
	loader Loader
	rootFS *imagefs.Filesystem

	// vectorTable is built once at New and loaded into the CPU.
	vectorTable *ring0.VectorTable

	// syscalls is installed by SetSyscallTable before Start.
	syscalls *SyscallTable

	// irqMu protects irq. Registration additionally brackets itself
	// with the CPU interrupt flag, as the hardware discipline demands.
	irqMu sync.Mutex
	irq   [NumIRQLines]IRQHandler

	// deviceFiles maps device file names to their open functions.
	deviceFiles map[string]DeviceOpen

	// stdio holds the terminal file operations cloned into every new
	// task's descriptor table.
	stdinOps  FileOperations
	stdoutOps FileOperations

	// video, if set, is shown the mapped video page of whichever task
	// holds a vidmap.
	video VideoSink

	// Task accounting, under extMu.
	tasks     map[ThreadID]*Task
	nextID    ThreadID
	liveTasks int

	// current is the innermost running task. It is only written by
	// the kernel goroutine; readers on other goroutines (the host
	// signal bridge) take extMu.
	current *Task

	// unknownLog throttles complaints about vectors nothing claims.
	unknownLog log.Logger

	started    bool
	rootDone   chan struct{}
	rootStatus int32
}

// InitArgs holds arguments to New.
type InitArgs struct {
	// CPU is the processor model. Required.
	CPU *ring0.CPU

	// Interrupts is the interrupt controller. Required.
	Interrupts InterruptController

	// Console is the kernel display surface. Required.
	Console Console

	// Loader resolves program names to instruction streams. Required.
	Loader Loader

	// RootFS is the mounted boot image. Required.
	RootFS *imagefs.Filesystem
}

// New builds a Kernel, builds its interrupt vector table and loads the
// table into the CPU.
func New(args InitArgs) (*Kernel, error) {
	if args.CPU == nil {
		return nil, fmt.Errorf("CPU is nil")
	}
	if args.Interrupts == nil {
		return nil, fmt.Errorf("Interrupts is nil")
	}
	if args.Console == nil {
		return nil, fmt.Errorf("Console is nil")
	}
	if args.Loader == nil {
		return nil, fmt.Errorf("Loader is nil")
	}
	if args.RootFS == nil {
		return nil, fmt.Errorf("RootFS is nil")
	}
	k := &Kernel{
		cpu:         args.CPU,
		intc:        args.Interrupts,
		consl:       args.Console,
		loader:      args.Loader,
		rootFS:      args.RootFS,
		vectorTable: &ring0.VectorTable{},
		deviceFiles: make(map[string]DeviceOpen),
		tasks:       make(map[ThreadID]*Task),
		unknownLog:  log.BasicRateLimitedLogger(time.Second),
		rootDone:    make(chan struct{}),
	}
	k.vectorTable.Init()
	k.cpu.LoadVectorTable(k.vectorTable)
	return k, nil
}

// SetSyscallTable installs the system call table. It must be called
// before Start.
func (k *Kernel) SetSyscallTable(tbl *SyscallTable) {
	k.extMu.Lock()
	defer k.extMu.Unlock()
	k.syscalls = tbl
}

// SyscallTable returns the installed system call table.
func (k *Kernel) SyscallTable() *SyscallTable {
	k.extMu.Lock()
	defer k.extMu.Unlock()
	return k.syscalls
}

// SetStdio installs the file operations behind descriptors 0 and 1 of
// every task created afterwards. The same operations are shared by all
// tasks, so their Release must tolerate repeated calls.
func (k *Kernel) SetStdio(stdin, stdout FileOperations) {
	k.extMu.Lock()
	defer k.extMu.Unlock()
	k.stdinOps = stdin
	k.stdoutOps = stdout
}

// SetVideoSink installs the surface that renders mapped video pages.
func (k *Kernel) SetVideoSink(v VideoSink) {
	k.extMu.Lock()
	defer k.extMu.Unlock()
	k.video = v
}

func (k *Kernel) videoSink() VideoSink {
	k.extMu.Lock()
	defer k.extMu.Unlock()
	return k.video
}

// RegisterDeviceFile binds a device file name to an open function.
// Opening a dentry of device type looks the name up here.
func (k *Kernel) RegisterDeviceFile(name string, open DeviceOpen) {
	k.extMu.Lock()
	defer k.extMu.Unlock()
	k.deviceFiles[name] = open
}

func (k *Kernel) deviceFile(name string) DeviceOpen {
	k.extMu.Lock()
	defer k.extMu.Unlock()
	return k.deviceFiles[name]
}

// CPU returns the processor model.
func (k *Kernel) CPU() *ring0.CPU {
	return k.cpu
}

// RootFS returns the mounted boot image.
func (k *Kernel) RootFS() *imagefs.Filesystem {
	return k.rootFS
}

// VectorTable returns the interrupt vector table built at New.
func (k *Kernel) VectorTable() *ring0.VectorTable {
	return k.vectorTable
}

// CurrentTask returns the innermost running task, or nil before Start
// and after the machine halts.
func (k *Kernel) CurrentTask() *Task {
	k.extMu.Lock()
	defer k.extMu.Unlock()
	return k.current
}

func (k *Kernel) setCurrentTask(t *Task) {
	k.extMu.Lock()
	defer k.extMu.Unlock()
	k.current = t
}

// Start creates the root task from command and runs it on a new
// goroutine. The kernel accepts exactly one root task.
func (k *Kernel) Start(command string) error {
	k.extMu.Lock()
	if k.started {
		k.extMu.Unlock()
		return fmt.Errorf("kernel already started")
	}
	if k.syscalls == nil {
		k.extMu.Unlock()
		return fmt.Errorf("no syscall table installed")
	}
	k.started = true
	k.extMu.Unlock()

	t, err := k.createTask(command, nil)
	if err != nil {
		k.extMu.Lock()
		k.started = false
		k.extMu.Unlock()
		return err
	}
	log.Infof("kernel: starting pid %d (%s)", t.ID(), t.Name())
	go func() {
		t.run()
		k.extMu.Lock()
		k.rootStatus = t.exitStatus
		k.extMu.Unlock()
		close(k.rootDone)
	}()
	return nil
}

// WaitExited blocks until the root task has exited or the machine has
// halted, and returns the root exit status.
func (k *Kernel) WaitExited() int32 {
	<-k.rootDone
	k.extMu.Lock()
	defer k.extMu.Unlock()
	return k.rootStatus
}
