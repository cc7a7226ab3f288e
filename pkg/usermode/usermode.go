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

// Package usermode runs guest programs.
//
// A Program stands in for a ring 3 instruction stream. The kernel
// resumes it with Step, which runs the program until it traps back
// into the kernel with a syscall, a fault or an exception. Between
// Steps the program is suspended and the register file belongs to the
// kernel, exactly as it would across a hardware interrupt gate.
//
// Programs are written as ordinary Go functions against Env, which
// hides the coroutine handoff and exposes syscalls, user memory
// staging and signal handler plumbing.
package usermode

import (
	"krill.dev/krill/pkg/arch"
	"krill.dev/krill/pkg/ring0"
	"krill.dev/krill/pkg/usermem"
)

// Trap describes why a program stopped executing.
type Trap struct {
	// Vector is the interrupt vector the hardware would raise.
	Vector ring0.Vector

	// ErrorCode is the hardware error code for vectors that push one.
	// It is ignored for the rest.
	ErrorCode uint32

	// FaultAddr is the faulting linear address for page faults.
	FaultAddr uint32
}

// Program is a suspended guest execution.
type Program interface {
	// Step resumes the program until its next trap. The register file
	// is live in both directions: the program observes updates made by
	// the kernel since the last trap (syscall return values, signal
	// delivery) and leaves its state at the trap point.
	Step(mem *usermem.Memory, regs *arch.Registers) Trap

	// Release tears the program down. After Release, Step must not be
	// called. Release is idempotent.
	Release()
}
