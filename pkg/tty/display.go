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

package tty

// Display is the rendering surface behind a Terminal. The terminal owns
// the authoritative cell grid; a Display only mirrors it, cell by cell,
// and may buffer updates until Sync.
//
// Calls are made from kernel context and must not block.
type Display interface {
	// SetCell paints ch at column x, row y.
	SetCell(x, y int, ch byte)

	// SetCursor moves the visible cursor.
	SetCursor(x, y int)

	// Sync flushes buffered updates to the host.
	Sync()
}

// Discard is a Display that renders nowhere. It backs headless runs and
// tests that only care about terminal state.
type Discard struct{}

// SetCell implements Display.SetCell.
func (Discard) SetCell(x, y int, ch byte) {}

// SetCursor implements Display.SetCursor.
func (Discard) SetCursor(x, y int) {}

// Sync implements Display.Sync.
func (Discard) Sync() {}
