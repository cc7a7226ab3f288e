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
	"krill.dev/krill/pkg/arch"
	"krill.dev/krill/pkg/log"
)

// SyscallFn implements one system call. args are the three argument
// registers in ABI order; regs is the full trap frame for handlers
// that need more than the result slot, such as sigreturn.
//
// A non-nil error is logged and collapses to -1 at the gate. The int32
// result is returned to user code as-is when err is nil.
type SyscallFn func(t *Task, args arch.SyscallArguments, regs *arch.Registers) (int32, error)

// Syscall is one entry in a SyscallTable.
type Syscall struct {
	// Name is the name the call is logged and documented under.
	Name string

	// Args is a human-readable argument signature.
	Args string

	// Fn is the implementation.
	Fn SyscallFn
}

// SyscallTable maps system call numbers to implementations. Numbers
// are dense starting at one; zero is deliberately unassigned and there
// are no holes, which lets the gate validate a number with a single
// unsigned comparison.
type SyscallTable struct {
	table []Syscall
}

// NewSyscallTable builds a table from entries, where entries[i]
// implements system call number i+1.
func NewSyscallTable(entries []Syscall) *SyscallTable {
	return &SyscallTable{table: append([]Syscall(nil), entries...)}
}

// Lookup returns the entry for a system call number.
func (s *SyscallTable) Lookup(no uint32) (*Syscall, bool) {
	// One unsigned comparison covers both ends: zero wraps to the top
	// of the range.
	if i := no - 1; i < uint32(len(s.table)) {
		return &s.table[i], true
	}
	return nil, false
}

// Max returns the highest valid system call number.
func (s *SyscallTable) Max() uint32 {
	return uint32(len(s.table))
}

// Entries returns a copy of the table in number order.
func (s *SyscallTable) Entries() []Syscall {
	return append([]Syscall(nil), s.table...)
}

// handleSyscall services the system call trap. The number rides in
// EAX, arguments in EBX, ECX and EDX, and the result replaces EAX.
// Out-of-range numbers invoke nothing and return -1.
func (k *Kernel) handleSyscall(t *Task, frame *arch.Registers) {
	no := frame.SyscallNo()
	sc, ok := k.syscalls.Lookup(no)
	if !ok {
		log.Debugf("kernel: pid %d: bad syscall number %d", t.ID(), no)
		frame.SetReturn(^uint32(0))
		return
	}
	ret, err := sc.Fn(t, frame.SyscallArgs(), frame)
	if err != nil {
		log.Debugf("kernel: pid %d: %s: %v", t.ID(), sc.Name, err)
		ret = -1
	}
	frame.SetReturn(uint32(ret))
}
