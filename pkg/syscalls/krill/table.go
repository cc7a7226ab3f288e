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

// Package krill provides the Krill system call implementations and the
// table binding them to their frozen ABI numbers.
package krill

import (
	"krill.dev/krill/pkg/kernel"
)

// Table builds the system call table. Entry i implements system call
// number i+1; the numbering is part of the user ABI and must match
// pkg/abi/krill.
func Table() *kernel.SyscallTable {
	return kernel.NewSyscallTable([]kernel.Syscall{
		{Name: "halt", Args: "status", Fn: halt},
		{Name: "execute", Args: "command", Fn: execute},
		{Name: "read", Args: "fd, buf, nbytes", Fn: read},
		{Name: "write", Args: "fd, buf, nbytes", Fn: write},
		{Name: "open", Args: "filename", Fn: open},
		{Name: "close", Args: "fd", Fn: closeFD},
		{Name: "getargs", Args: "buf, nbytes", Fn: getargs},
		{Name: "vidmap", Args: "screen_start", Fn: vidmap},
		{Name: "set_handler", Args: "signum, handler_address", Fn: setHandler},
		{Name: "sigreturn", Args: "", Fn: sigreturn},
	})
}
