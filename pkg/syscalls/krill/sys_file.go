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
	"krill.dev/krill/pkg/arch"
	"krill.dev/krill/pkg/imagefs"
	"krill.dev/krill/pkg/kernel"
)

// read implements system call 3. The user buffer is validated before
// the file is consulted, so a read that would block never blocks on a
// buffer it could not complete into.
func read(t *kernel.Task, args arch.SyscallArguments, regs *arch.Registers) (int32, error) {
	file, err := t.FDTable().Get(args[0].Int())
	if err != nil {
		return -1, err
	}
	n := args[2].Uint()
	if err := t.Memory().CheckRange(args[1].Pointer(), n); err != nil {
		return -1, err
	}
	buf := make([]byte, n)
	rn, err := file.Read(t, buf)
	if err != nil {
		return -1, err
	}
	if rn > 0 {
		if _, err := t.Memory().CopyOut(args[1].Pointer(), buf[:rn]); err != nil {
			return -1, err
		}
	}
	return int32(rn), nil
}

// write implements system call 4.
func write(t *kernel.Task, args arch.SyscallArguments, regs *arch.Registers) (int32, error) {
	file, err := t.FDTable().Get(args[0].Int())
	if err != nil {
		return -1, err
	}
	buf := make([]byte, args[2].Uint())
	if _, err := t.Memory().CopyIn(args[1].Pointer(), buf); err != nil {
		return -1, err
	}
	wn, err := file.Write(t, buf)
	if err != nil {
		return -1, err
	}
	return int32(wn), nil
}

// open implements system call 5.
func open(t *kernel.Task, args arch.SyscallArguments, regs *arch.Registers) (int32, error) {
	name, err := t.Memory().CopyInString(args[0].Pointer(), imagefs.MaxNameLen)
	if err != nil {
		return -1, err
	}
	return t.Kernel().OpenFile(t, name)
}

// closeFD implements system call 6.
func closeFD(t *kernel.Task, args arch.SyscallArguments, regs *arch.Registers) (int32, error) {
	if err := t.FDTable().Close(t, args[0].Int()); err != nil {
		return -1, err
	}
	return 0, nil
}
