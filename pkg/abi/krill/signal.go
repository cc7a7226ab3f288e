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

import "fmt"

// Signal is a signal number. Unlike Unix, signal numbers start at zero:
// the numbers double as indices into the per-task handler table, and zero
// is a real signal. Callers needing a "no signal" sentinel use -1.
type Signal int

// Signals.
const (
	// SIGDIVZERO is raised by a divide error in user code.
	SIGDIVZERO Signal = 0

	// SIGSEGFAULT is raised by any other user-mode exception.
	SIGSEGFAULT Signal = 1

	// SIGINTERRUPT is raised by the interrupt key (ctrl-c).
	SIGINTERRUPT Signal = 2

	// SIGALARM is raised periodically by the real-time clock.
	SIGALARM Signal = 3

	// SIGUSER1 is available to user programs.
	SIGUSER1 Signal = 4

	// NumSignals is the number of defined signals.
	NumSignals = 5
)

var signalNames = [NumSignals]string{
	"SIGDIVZERO",
	"SIGSEGFAULT",
	"SIGINTERRUPT",
	"SIGALARM",
	"SIGUSER1",
}

// IsValid returns true if s names a defined signal.
func (s Signal) IsValid() bool {
	return s >= 0 && s < NumSignals
}

// String implements fmt.Stringer.String.
func (s Signal) String() string {
	if s.IsValid() {
		return signalNames[s]
	}
	return fmt.Sprintf("signal %d", int(s))
}

// Mask returns a SignalSet with only this signal set.
func (s Signal) Mask() SignalSet {
	return 1 << uint(s)
}

// KillsByDefault returns true if the default disposition for s terminates
// the receiving task. Alarm and user signals are ignored by default.
func (s Signal) KillsByDefault() bool {
	switch s {
	case SIGDIVZERO, SIGSEGFAULT, SIGINTERRUPT:
		return true
	default:
		return false
	}
}

// SignalSet is a signal mask with a bit corresponding to each signal.
type SignalSet uint32

// MakeSignalSet returns SignalSet with the bit corresponding to each of the
// given signals set.
func MakeSignalSet(sigs ...Signal) SignalSet {
	indices := SignalSet(0)
	for _, sig := range sigs {
		indices |= sig.Mask()
	}
	return indices
}

// Contains returns true if the bit for sig is set.
func (s SignalSet) Contains(sig Signal) bool {
	return s&sig.Mask() != 0
}

// LowestSignal returns the lowest-numbered signal in the set, or -1 if the
// set is empty. Delivery order follows signal numbers, so faults win over
// timer noise.
func (s SignalSet) LowestSignal() Signal {
	for sig := Signal(0); sig < NumSignals; sig++ {
		if s.Contains(sig) {
			return sig
		}
	}
	return -1
}
