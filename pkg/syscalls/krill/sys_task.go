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

package krill

import (
	"encoding/binary"

	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/arch"
	"krill.dev/krill/pkg/errors/kernelerr"
	"krill.dev/krill/pkg/kernel"
)

// maxCommandLen bounds the command line execute will read from user
// memory. It matches the terminal's input line.
const maxCommandLen = 128

// halt implements system call 1. The status is truncated to its low
// byte, so a program cannot fake the signal-kill status its parent
// distinguishes from an ordinary exit.
func halt(t *kernel.Task, args arch.SyscallArguments, regs *arch.Registers) (int32, error) {
	t.Exit(int32(args[0].Uint() & 0xff))
	return 0, nil
}

// execute implements system call 2. The child runs to completion on
// the caller's kernel context; its exit status is the return value.
func execute(t *kernel.Task, args arch.SyscallArguments, regs *arch.Registers) (int32, error) {
	command, err := t.Memory().CopyInString(args[0].Pointer(), maxCommandLen)
	if err != nil {
		return -1, err
	}
	return t.Kernel().Execute(t, command)
}

// getargs implements system call 7. The task's argument string plus
// its terminator must fit the buffer whole; a task started without
// arguments has none to get.
func getargs(t *kernel.Task, args arch.SyscallArguments, regs *arch.Registers) (int32, error) {
	a := t.Args()
	if a == "" {
		return -1, kernelerr.EINVAL
	}
	if uint32(len(a)+1) > args[1].Uint() {
		return -1, kernelerr.EINVAL
	}
	if _, err := t.Memory().CopyOut(args[0].Pointer(), append([]byte(a), 0)); err != nil {
		return -1, err
	}
	return 0, nil
}

// vidmap implements system call 8. It maps the video page and writes
// its fixed address through screen_start, which must itself point into
// the user region.
func vidmap(t *kernel.Task, args arch.SyscallArguments, regs *arch.Registers) (int32, error) {
	p := args[0].Pointer()
	if p < krill.UserBase || p > krill.UserBase+krill.UserSize-4 {
		return -1, kernelerr.EFAULT
	}
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], t.MapVideo())
	if _, err := t.Memory().CopyOut(p, raw[:]); err != nil {
		return -1, err
	}
	return 0, nil
}
