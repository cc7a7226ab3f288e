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
	"encoding/binary"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"krill.dev/krill/pkg/abi/krill"
)

func TestUserMode(t *testing.T) {
	r := Registers{CS: krill.UserCS}
	if !r.UserMode() {
		t.Errorf("frame with CS=%#x should be user mode", r.CS)
	}
	r.CS = krill.KernelCS
	if r.UserMode() {
		t.Errorf("frame with CS=%#x should be kernel mode", r.CS)
	}
}

func TestSyscallAccessors(t *testing.T) {
	r := Registers{
		EAX: 4,
		EBX: 1,
		ECX: 0x08048000,
		EDX: 128,
	}
	if got := r.SyscallNo(); got != 4 {
		t.Errorf("SyscallNo() = %d, want 4", got)
	}
	args := r.SyscallArgs()
	if got := args[0].Int(); got != 1 {
		t.Errorf("args[0].Int() = %d, want 1", got)
	}
	if got := args[1].Pointer(); got != 0x08048000 {
		t.Errorf("args[1].Pointer() = %#x, want 0x08048000", got)
	}
	if got := args[2].Uint(); got != 128 {
		t.Errorf("args[2].Uint() = %d, want 128", got)
	}

	r.SetReturn(uint32(0xffffffff)) // -1
	if got := int32(r.Return()); got != -1 {
		t.Errorf("Return() = %d, want -1", got)
	}
	if r.EAX != 0xffffffff {
		t.Errorf("SetReturn must write EAX, got %#x", r.EAX)
	}
}

func TestRegistersString(t *testing.T) {
	r := Registers{
		EAX:    0xdeadbeef,
		EIP:    0x08048010,
		CS:     krill.UserCS,
		Vector: 14,
	}
	s := r.String()
	for _, want := range []string{"EAX=deadbeef", "EIP=08048010", "vector=0x0e"} {
		if !strings.Contains(s, want) {
			t.Errorf("dump missing %q:\n%s", want, s)
		}
	}
}

func TestSignalFrameRoundTrip(t *testing.T) {
	f := SignalFrame{
		Signum: uint32(krill.SIGALARM),
		Sigcontext: Registers{
			EAX:    3,
			EBX:    0,
			EIP:    0x08048123,
			CS:     krill.UserCS,
			EFLAGS: 0x202,
			ESP:    krill.UserStackTop,
			SS:     krill.UserDS,
		},
	}
	b := f.Encode()
	if len(b) != SignalFrameBytes {
		t.Fatalf("encoded %d bytes, want %d", len(b), SignalFrameBytes)
	}
	got, err := DecodeSignalFrame(b)
	if err != nil {
		t.Fatalf("DecodeSignalFrame: %v", err)
	}
	if diff := cmp.Diff(f, *got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistersEncodedSize(t *testing.T) {
	if got := binary.Size(&Registers{}); got != RegistersBytes {
		t.Errorf("binary.Size(Registers) = %d, want %d", got, RegistersBytes)
	}
}
