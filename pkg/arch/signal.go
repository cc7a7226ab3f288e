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
	"bytes"
	"encoding/binary"
)

// SignalFrame is the record pushed onto the user stack when a handled signal
// is delivered. The handler finds the signal number at the top of its stack;
// sigreturn finds the interrupted register state directly above it.
type SignalFrame struct {
	// Signum is the delivered signal.
	Signum uint32

	// Sigcontext is the register state to restore at sigreturn.
	Sigcontext Registers
}

// Sizes of the wire encodings. Registers is eighteen 32-bit words.
const (
	RegistersBytes   = 18 * 4
	SignalFrameBytes = 4 + RegistersBytes
)

// Encode returns the frame in its user stack encoding.
func (f *SignalFrame) Encode() []byte {
	var buf bytes.Buffer
	buf.Grow(SignalFrameBytes)
	binary.Write(&buf, binary.LittleEndian, f.Signum)
	binary.Write(&buf, binary.LittleEndian, &f.Sigcontext)
	return buf.Bytes()
}

// DecodeSignalFrame parses a frame previously written by Encode.
func DecodeSignalFrame(b []byte) (*SignalFrame, error) {
	var f SignalFrame
	r := bytes.NewReader(b)
	if err := binary.Read(r, binary.LittleEndian, &f.Signum); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.Sigcontext); err != nil {
		return nil, err
	}
	return &f, nil
}
