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
	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/ring0"
)

// taskRunState is a reified state in a task's run loop. Returning the
// next state rather than recursing keeps the loop flat however deeply
// a task bounces between user code and the kernel.
type taskRunState interface {
	execute(t *Task) taskRunState
}

// run drives the task until it exits or the machine halts. The root
// task runs this on its own goroutine; tasks started by execute run it
// inline on their parent's, which is what makes the kernel single-CPU:
// exactly one task is ever between Step and trap return.
func (t *Task) run() {
	t.k.setCurrentTask(t)
	var state taskRunState = (*runApp)(nil)
	for state != nil {
		state = state.execute(t)
	}
	t.k.setCurrentTask(t.parent)
	t.cleanup()
}

// runApp resumes user execution and services the trap it ends in.
type runApp struct{}

func (*runApp) execute(t *Task) taskRunState {
	k := t.k
	if t.exited || k.cpu.Halted() {
		return (*runExit)(nil)
	}

	// Return-to-user edge: interrupts come back on and anything that
	// pended while the kernel ran is delivered against the user
	// context before the program gets another instruction.
	k.cpu.EnableInterrupts()
	k.serviceUserIRQs(t)
	if t.exited || k.cpu.Halted() {
		return (*runExit)(nil)
	}

	tr := t.image.Step(t.mem, &t.regs)
	if tr.Vector == ring0.PageFault {
		k.cpu.SetCR2(tr.FaultAddr)
	}
	frame := ring0.Frame(tr.Vector, tr.ErrorCode, t.regs)
	k.HandleTrap(t, frame)
	t.regs = *frame
	if t.vidmapped {
		t.blitVideo()
	}
	return (*runApp)(nil)
}

// blitVideo pushes the task's video page at the render sink. The page
// sits at the top of task memory, so the direct view cannot fail.
func (t *Task) blitVideo() {
	sink := t.k.videoSink()
	if sink == nil {
		return
	}
	page, err := t.mem.Bytes(krill.VidmapBase, krill.PageSize)
	if err != nil {
		return
	}
	sink.BlitCells(page)
}

// runExit is the terminal state.
type runExit struct{}

func (*runExit) execute(t *Task) taskRunState {
	return nil
}
