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

package arch

import (
	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/usermem"
)

// SyscallArgument is an argument supplied to a system call, as captured from
// the argument registers.
type SyscallArgument struct {
	Value uint32
}

// SyscallArguments is the set of argument registers for one system call.
// The kernel passes at most three arguments.
type SyscallArguments [3]SyscallArgument

// Pointer returns this argument as a user address.
func (a SyscallArgument) Pointer() usermem.Addr {
	return usermem.Addr(a.Value)
}

// Int returns this argument as a signed 32-bit integer.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Uint returns this argument as an unsigned 32-bit integer.
func (a SyscallArgument) Uint() uint32 {
	return a.Value
}

// Signal returns this argument as a signal number.
func (a SyscallArgument) Signal() krill.Signal {
	return krill.Signal(int32(a.Value))
}
