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

package usermode

import (
	"encoding/binary"
	"fmt"

	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/arch"
	"krill.dev/krill/pkg/ring0"
	"krill.dev/krill/pkg/usermem"
)

// User address space carve-outs used by Env. The scratch region stages
// syscall buffers and the stub region provides fake code addresses for
// signal handlers. Both sit below the program image.
const (
	scratchBase usermem.Addr = krill.UserBase + 0x1000
	scratchSize              = 0x1000

	handlerStubBase   usermem.Addr = krill.UserBase + 0x3000
	handlerStubStride              = 16
)

// stopped is the sentinel panic used to unwind a released program
// goroutine.
type stopped struct{}

// Env is the machine state visible to a program function.
//
// An Env is only valid inside the program function it was handed to,
// on the goroutine running that function.
type Env struct {
	mem  *usermem.Memory
	regs *arch.Registers

	traps  chan Trap
	resume chan struct{}
	stop   chan struct{}

	handlers [krill.NumSignals]func(*Env, krill.Signal)
	scratch  usermem.Addr
}

// funcProgram adapts a Go function to the Program interface. The
// function runs on a dedicated goroutine that is parked whenever the
// kernel holds the CPU.
type funcProgram struct {
	body     func(*Env)
	env      *Env
	started  bool
	released bool
	exited   chan struct{}
}

// NewFunc returns a Program that executes body.
func NewFunc(body func(*Env)) Program {
	return &funcProgram{
		body: body,
		env: &Env{
			traps:  make(chan Trap),
			resume: make(chan struct{}),
			stop:   make(chan struct{}),
		},
		exited: make(chan struct{}),
	}
}

// Step implements Program.Step.
func (p *funcProgram) Step(mem *usermem.Memory, regs *arch.Registers) Trap {
	if p.released {
		panic("usermode: Step after Release")
	}
	e := p.env
	e.mem = mem
	e.regs = regs
	if !p.started {
		p.started = true
		go p.run()
	} else {
		e.resume <- struct{}{}
	}
	return <-e.traps
}

// Release implements Program.Release.
func (p *funcProgram) Release() {
	if p.released {
		return
	}
	p.released = true
	close(p.env.stop)
	if p.started {
		<-p.exited
	}
}

func (p *funcProgram) run() {
	defer close(p.exited)
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(stopped); !ok {
				panic(r)
			}
		}
	}()
	p.body(p.env)
	// Falling off the end of a program is an implicit clean exit.
	p.env.Exit(0)
}

// trap parks the goroutine, presenting tr to the kernel, and wakes
// when the kernel resumes the program. Signal deliveries that happened
// while parked are dispatched before control returns to the caller.
func (e *Env) trap(tr Trap) {
	e.traps <- tr
	select {
	case <-e.resume:
	case <-e.stop:
		panic(stopped{})
	}
	e.runSignalHandlers()
}

// runSignalHandlers services signal frames pushed while the program
// was parked. Delivery rewrites EIP to a stub address minted by
// SetHandler; each pass runs the Go handler and then issues sigreturn,
// which restores the interrupted register state. The loop handles a
// further signal delivered on the heels of the sigreturn.
func (e *Env) runSignalHandlers() {
	for {
		ip := usermem.Addr(e.regs.EIP)
		if ip < handlerStubBase || ip >= handlerStubBase+krill.NumSignals*handlerStubStride {
			return
		}
		var raw [4]byte
		if err := e.mem.CopyIn(usermem.Addr(e.regs.ESP), raw[:]); err != nil {
			panic(fmt.Sprintf("usermode: unreadable signal frame at %#x: %v", e.regs.ESP, err))
		}
		sig := krill.Signal(binary.LittleEndian.Uint32(raw[:]))
		if h := e.handlers[sig]; h != nil {
			h(e, sig)
		}
		e.Syscall(krill.SysSigreturn, 0, 0, 0)
	}
}

// Mem returns the program's address space.
func (e *Env) Mem() *usermem.Memory {
	return e.mem
}

// Regs returns the live register file.
func (e *Env) Regs() *arch.Registers {
	return e.regs
}

// Syscall issues a raw system call and returns its result.
func (e *Env) Syscall(no, a0, a1, a2 uint32) int32 {
	e.regs.EAX = no
	e.regs.EBX = a0
	e.regs.ECX = a1
	e.regs.EDX = a2
	e.trap(Trap{Vector: ring0.Syscall})
	return int32(e.regs.EAX)
}

// Fault raises a processor exception at the current instruction.
func (e *Env) Fault(vector ring0.Vector, errorCode uint32) {
	e.trap(Trap{Vector: vector, ErrorCode: errorCode})
}

// PageFault raises a page fault for the given linear address. Krill
// user pages are always non-present outside the mapped window, so the
// error code carries only the user and write bits.
func (e *Env) PageFault(addr uint32, write bool) {
	code := uint32(0x4)
	if write {
		code |= 0x2
	}
	e.trap(Trap{Vector: ring0.PageFault, ErrorCode: code, FaultAddr: addr})
}

// DivideByZero raises a divide error.
func (e *Env) DivideByZero() {
	e.trap(Trap{Vector: ring0.DivideByZero})
}

// stage copies b into the scratch region and returns its address. The
// region is a simple bump allocator that wraps; staged data is only
// valid until it has been consumed by the next syscall.
func (e *Env) stage(b []byte) usermem.Addr {
	if len(b) > scratchSize {
		panic(fmt.Sprintf("usermode: staging %d bytes, scratch region is %d", len(b), scratchSize))
	}
	if e.scratch+usermem.Addr(len(b)) > scratchBase+scratchSize || e.scratch < scratchBase {
		e.scratch = scratchBase
	}
	addr := e.scratch
	if err := e.mem.CopyOut(addr, b); err != nil {
		panic(fmt.Sprintf("usermode: stage at %#x: %v", addr, err))
	}
	e.scratch += usermem.Addr(len(b))
	return addr
}

// Exit issues halt and never returns.
func (e *Env) Exit(status uint32) {
	for {
		e.Syscall(krill.SysHalt, status, 0, 0)
	}
}

// Exec runs another program to completion and returns its exit status.
func (e *Env) Exec(command string) int32 {
	addr := e.stage(append([]byte(command), 0))
	return e.Syscall(krill.SysExecute, uint32(addr), 0, 0)
}

// Open opens a file by name and returns its descriptor.
func (e *Env) Open(name string) int32 {
	addr := e.stage(append([]byte(name), 0))
	return e.Syscall(krill.SysOpen, uint32(addr), 0, 0)
}

// Close closes a descriptor.
func (e *Env) Close(fd int32) int32 {
	return e.Syscall(krill.SysClose, uint32(fd), 0, 0)
}

// ReadBytes reads up to n bytes from fd. It returns the bytes read and
// the raw syscall result.
func (e *Env) ReadBytes(fd int32, n int) ([]byte, int32) {
	addr := e.stage(make([]byte, n))
	ret := e.Syscall(krill.SysRead, uint32(fd), uint32(addr), uint32(n))
	if ret <= 0 {
		return nil, ret
	}
	buf := make([]byte, ret)
	if err := e.mem.CopyIn(addr, buf); err != nil {
		panic(fmt.Sprintf("usermode: read buffer vanished: %v", err))
	}
	return buf, ret
}

// WriteString writes s to fd and returns the raw syscall result.
func (e *Env) WriteString(fd int32, s string) int32 {
	addr := e.stage([]byte(s))
	return e.Syscall(krill.SysWrite, uint32(fd), uint32(addr), uint32(len(s)))
}

// GetArgs fetches the program's argument string.
func (e *Env) GetArgs(max int) (string, int32) {
	addr := e.stage(make([]byte, max))
	ret := e.Syscall(krill.SysGetargs, uint32(addr), uint32(max), 0)
	if ret != 0 {
		return "", ret
	}
	buf := make([]byte, max)
	if err := e.mem.CopyIn(addr, buf); err != nil {
		panic(fmt.Sprintf("usermode: args buffer vanished: %v", err))
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), 0
		}
	}
	return string(buf), 0
}

// Vidmap asks the kernel to map the video page and returns its user
// address.
func (e *Env) Vidmap() (uint32, int32) {
	slot := e.stage(make([]byte, 4))
	ret := e.Syscall(krill.SysVidmap, uint32(slot), 0, 0)
	if ret != 0 {
		return 0, ret
	}
	var raw [4]byte
	if err := e.mem.CopyIn(slot, raw[:]); err != nil {
		panic(fmt.Sprintf("usermode: vidmap slot vanished: %v", err))
	}
	return binary.LittleEndian.Uint32(raw[:]), 0
}

// SetHandler installs fn as the handler for sig, or restores the
// default action when fn is nil. The kernel sees a distinct stub
// address per signal; when delivery lands on a stub the next resume
// runs fn and then sigreturns.
func (e *Env) SetHandler(sig krill.Signal, fn func(*Env, krill.Signal)) int32 {
	var addr usermem.Addr
	if fn != nil {
		addr = handlerStubBase + usermem.Addr(sig)*handlerStubStride
	}
	ret := e.Syscall(krill.SysSetHandler, uint32(sig), uint32(addr), 0)
	if ret == 0 && sig.IsValid() {
		e.handlers[sig] = fn
	}
	return ret
}
