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
	"bytes"
	"encoding/binary"
	"strings"

	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/arch"
	"krill.dev/krill/pkg/errors/kernelerr"
	"krill.dev/krill/pkg/imagefs"
	"krill.dev/krill/pkg/log"
	"krill.dev/krill/pkg/sync"
	"krill.dev/krill/pkg/usermem"
	"krill.dev/krill/pkg/usermode"
)

// ThreadID is a task identifier.
type ThreadID int32

// KilledStatus is the exit status a parent observes when its child was
// terminated by a signal rather than by halt. It sits just above the
// 8-bit range halt can express.
const KilledStatus = 256

// Task is a single user execution context: one program image, one
// address space, one descriptor table.
type Task struct {
	k      *Kernel
	id     ThreadID
	name   string
	args   string
	parent *Task

	image usermode.Program
	mem   *usermem.Memory
	regs  arch.Registers
	fds   *FDTable

	// mu protects the signal state below. Pending bits are set from
	// device handlers and the host bridge; everything else is only
	// touched on the kernel goroutine.
	mu             sync.Mutex
	pendingSignals krill.SignalSet
	handlers       [krill.NumSignals]usermem.Addr
	sigMasked      bool

	vidmapped bool

	exited     bool
	exitStatus int32
}

// ID returns the task identifier.
func (t *Task) ID() ThreadID {
	return t.id
}

// Name returns the program name the task was created from.
func (t *Task) Name() string {
	return t.name
}

// Args returns the argument string passed after the program name.
func (t *Task) Args() string {
	return t.args
}

// Kernel returns the kernel the task runs under.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// Memory returns the task's address space.
func (t *Task) Memory() *usermem.Memory {
	return t.mem
}

// FDTable returns the task's descriptor table.
func (t *Task) FDTable() *FDTable {
	return t.fds
}

// Registers returns the task's saved register file. It is only
// meaningful while the task is suspended in the kernel.
func (t *Task) Registers() *arch.Registers {
	return &t.regs
}

// Exited returns true once the task has been halted or killed.
func (t *Task) Exited() bool {
	return t.exited
}

// ExitStatus returns the status the parent observes. It is only valid
// after Exited returns true.
func (t *Task) ExitStatus() int32 {
	return t.exitStatus
}

// exit marks the task dead. Teardown happens when its run loop
// unwinds; a task can exit from arbitrarily deep in a system call.
func (t *Task) exit(status int32) {
	if t.exited {
		return
	}
	t.exited = true
	t.exitStatus = status
}

// Exit marks the task exited with status. The run loop unwinds on its
// next return; the caller should not run the task further. This is the
// halt syscall's entry point.
func (t *Task) Exit(status int32) {
	t.exit(status)
}

// cleanup releases everything the task holds. Called exactly once,
// after the run loop has finished with it.
func (t *Task) cleanup() {
	t.fds.ReleaseAll(t)
	t.image.Release()
	k := t.k
	k.extMu.Lock()
	delete(k.tasks, t.id)
	k.liveTasks--
	k.extMu.Unlock()
}

// parseCommand splits a command line into the program name and the
// argument string. The argument string is everything after the first
// run of spaces, verbatim.
func parseCommand(command string) (name, args string) {
	command = strings.TrimLeft(command, " ")
	if i := strings.IndexByte(command, ' '); i >= 0 {
		return command[:i], strings.TrimLeft(command[i:], " ")
	}
	return command, ""
}

// createTask builds a ready-to-run task from a command line. The
// program must exist in the root filesystem as a regular file with a
// valid image header; its contents are copied to the fixed image
// address and the register file is pointed at the header's entry.
func (k *Kernel) createTask(command string, parent *Task) (*Task, error) {
	name, args := parseCommand(command)
	if name == "" {
		return nil, kernelerr.ENOENT
	}
	d, err := k.rootFS.DentryByName(name)
	if err != nil {
		return nil, err
	}
	if d.Type != imagefs.TypeRegular {
		return nil, kernelerr.ENOENT
	}
	var header [krill.ImageHeaderLen]byte
	if n, err := k.rootFS.ReadData(d.Inode, 0, header[:]); err != nil {
		return nil, err
	} else if n < krill.ImageHeaderLen {
		return nil, kernelerr.ENOEXEC
	}
	if !bytes.Equal(header[:len(krill.ImageMagic)], krill.ImageMagic[:]) {
		return nil, kernelerr.ENOEXEC
	}
	entry := binary.LittleEndian.Uint32(header[krill.ImageEntryOffset:])

	size, err := k.rootFS.InodeSize(d.Inode)
	if err != nil {
		return nil, err
	}
	if size > krill.UserSize-(krill.UserImageStart-krill.UserBase) {
		return nil, kernelerr.ENOMEM
	}

	k.extMu.Lock()
	if k.liveTasks >= MaxTasks {
		k.extMu.Unlock()
		return nil, kernelerr.EAGAIN
	}
	k.liveTasks++
	k.nextID++
	id := k.nextID
	stdin, stdout := k.stdinOps, k.stdoutOps
	k.extMu.Unlock()

	image, err := k.loader.Load(name)
	if err != nil {
		k.extMu.Lock()
		k.liveTasks--
		k.extMu.Unlock()
		return nil, err
	}

	// The vidmap page rides directly above the task region so that a
	// mapped video address is usable through the same Memory.
	mem := usermem.NewMemory(krill.UserBase, krill.UserSize+krill.PageSize)
	fileImage := make([]byte, size)
	if _, err := k.rootFS.ReadData(d.Inode, 0, fileImage); err != nil {
		image.Release()
		k.extMu.Lock()
		k.liveTasks--
		k.extMu.Unlock()
		return nil, err
	}
	if err := mem.CopyOut(krill.UserImageStart, fileImage); err != nil {
		panic("kernel: image region out of task memory: " + err.Error())
	}

	t := &Task{
		k:      k,
		id:     id,
		name:   name,
		args:   args,
		parent: parent,
		image:  image,
		mem:    mem,
		regs: arch.Registers{
			CS:     krill.UserCS,
			DS:     krill.UserDS,
			ES:     krill.UserDS,
			SS:     krill.UserDS,
			EIP:    entry,
			ESP:    krill.UserStackTop,
			EFLAGS: krill.EflagsDefault,
		},
	}
	t.fds = newFDTable(stdin, stdout)

	k.extMu.Lock()
	k.tasks[id] = t
	k.extMu.Unlock()
	log.Debugf("kernel: created pid %d (%s) entry %#08x", id, name, entry)
	return t, nil
}

// Execute runs command as a child of parent and blocks until it
// exits, returning its exit status. The child runs inline on the
// caller's goroutine; the parent is suspended in its execute system
// call for the duration, which is what keeps the machine single-CPU.
func (k *Kernel) Execute(parent *Task, command string) (int32, error) {
	child, err := k.createTask(command, parent)
	if err != nil {
		return -1, err
	}
	log.Infof("kernel: pid %d: execute %q as pid %d", parent.ID(), command, child.ID())
	child.run()
	if !child.exited {
		// The machine halted under the child.
		return -1, kernelerr.ErrInterrupted
	}
	return child.exitStatus, nil
}

// MapVideo installs the video mapping for the task and returns its
// fixed user address.
func (t *Task) MapVideo() uint32 {
	t.vidmapped = true
	return krill.VidmapBase
}

// Vidmapped returns true once the task has called vidmap.
func (t *Task) Vidmapped() bool {
	return t.vidmapped
}
