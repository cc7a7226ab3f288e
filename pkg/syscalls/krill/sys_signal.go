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
	"krill.dev/krill/pkg/kernel"
)

// setHandler implements system call 9. A zero handler address restores
// the signal's default action.
func setHandler(t *kernel.Task, args arch.SyscallArguments, regs *arch.Registers) (int32, error) {
	if err := t.SetSignalHandler(args[0].Signal(), args[1].Pointer()); err != nil {
		return -1, err
	}
	return 0, nil
}

// sigreturn implements system call 10. It unwinds the signal frame the
// kernel pushed at delivery, restoring the interrupted registers in
// regs; its return value is the restored EAX rather than a status of
// its own.
func sigreturn(t *kernel.Task, args arch.SyscallArguments, regs *arch.Registers) (int32, error) {
	return t.Sigreturn(regs)
}
