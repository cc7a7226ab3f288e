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

// Package tty implements the machine's text terminal: a line-disciplined
// 80x25 cell screen shared by kernel messages, user program output and
// echoed keyboard input.
//
// The terminal plays three roles at once. It is the kernel's Console for
// boot messages and the fatal exception dump; it is the file operations
// behind every task's descriptors 0 and 1; and it is the video sink that
// renders the cell page of a vidmapped task. All three feed the same grid
// and render through one Display.
package tty

import (
	"krill.dev/krill/pkg/errors/kernelerr"
	"krill.dev/krill/pkg/kernel"
	"krill.dev/krill/pkg/sync"
)

// Screen geometry and input limits.
const (
	// Columns and Rows fix the cell grid size.
	Columns = 80
	Rows    = 25

	// inputSize is the line buffer size. The final byte is reserved for
	// the newline, so a line holds at most inputSize-1 characters;
	// keystrokes beyond that are dropped until Enter.
	inputSize = 128

	// tabStop is the tab expansion interval.
	tabStop = 8
)

// DefaultAttr is the standard attribute byte for a video page cell,
// light grey on black.
const DefaultAttr = 0x07

// Terminal is the machine terminal. Build one with New and wire it with
// Kernel.SetStdio, kernel.InitArgs.Console and Kernel.SetVideoSink.
type Terminal struct {
	disp Display

	// mu guards the grid and the input line. Everything below runs on
	// the kernel goroutine, but tests inspect state from outside.
	mu sync.Mutex

	// cells is the authoritative screen, row-major.
	cells [Rows * Columns]byte

	// curX, curY is the screen cursor; logicalX is the cursor's offset
	// within the current input line, which keeps counting across the
	// right-edge wrap so backspace can walk back over it.
	curX, curY int
	logicalX   int

	// input accumulates the line being typed. lineDone latches when
	// Enter lands, at which point the buffer belongs to the next read
	// and further keystrokes are dropped.
	input    [inputSize]byte
	inLen    int
	lineDone bool
}

// New builds a cleared terminal rendering to disp.
func New(disp Display) *Terminal {
	t := &Terminal{disp: disp}
	t.mu.Lock()
	t.clearLocked()
	t.mu.Unlock()
	return t
}

// Clear erases the screen and homes the cursor. It implements
// kernel.Console.
func (t *Terminal) Clear() {
	t.mu.Lock()
	t.clearLocked()
	t.mu.Unlock()
}

// WriteString prints s at the cursor. It implements kernel.Console.
func (t *Terminal) WriteString(s string) {
	t.mu.Lock()
	for i := 0; i < len(s); i++ {
		t.putChar(s[i])
	}
	t.syncLocked()
	t.mu.Unlock()
}

// Row returns row y of the screen with trailing blanks trimmed.
func (t *Terminal) Row(y int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := t.cells[y*Columns : (y+1)*Columns]
	end := len(row)
	for end > 0 && row[end-1] == ' ' {
		end--
	}
	return string(row[:end])
}

// Cursor returns the screen cursor position.
func (t *Terminal) Cursor() (x, y int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.curX, t.curY
}

func (t *Terminal) clearLocked() {
	for i := range t.cells {
		t.cells[i] = ' '
	}
	t.curX, t.curY, t.logicalX = 0, 0, 0
	t.repaintLocked()
	t.syncLocked()
}

func (t *Terminal) repaintLocked() {
	for y := 0; y < Rows; y++ {
		for x := 0; x < Columns; x++ {
			t.disp.SetCell(x, y, t.cells[y*Columns+x])
		}
	}
}

func (t *Terminal) syncLocked() {
	t.disp.SetCursor(t.curX, t.curY)
	t.disp.Sync()
}

// putChar advances the terminal state by one output byte. Control bytes
// outside the handled set are dropped.
func (t *Terminal) putChar(ch byte) {
	switch {
	case ch == '\n':
		t.newline()
	case ch == '\r':
		t.curX, t.logicalX = 0, 0
	case ch == '\b':
		t.backspace()
	case ch == '\t':
		for n := tabStop - t.logicalX%tabStop; n > 0; n-- {
			t.putGlyph(' ')
		}
	case ch >= 0x20 && ch < 0x7f:
		t.putGlyph(ch)
	}
}

func (t *Terminal) putGlyph(ch byte) {
	t.cells[t.curY*Columns+t.curX] = ch
	t.disp.SetCell(t.curX, t.curY, ch)
	t.curX++
	t.logicalX++
	if t.curX == Columns {
		t.curX = 0
		t.advanceRow()
	}
}

func (t *Terminal) newline() {
	t.curX, t.logicalX = 0, 0
	t.advanceRow()
}

func (t *Terminal) advanceRow() {
	t.curY++
	if t.curY == Rows {
		t.scrollLocked()
		t.curY = Rows - 1
	}
}

// backspace steps the cursor back one glyph and blanks it, crossing the
// right-edge wrap when the logical line extends past it. At the start
// of a line it does nothing.
func (t *Terminal) backspace() {
	if t.logicalX == 0 {
		return
	}
	t.logicalX--
	if t.curX > 0 {
		t.curX--
	} else if t.curY > 0 {
		t.curY--
		t.curX = Columns - 1
	}
	t.cells[t.curY*Columns+t.curX] = ' '
	t.disp.SetCell(t.curX, t.curY, ' ')
}

func (t *Terminal) scrollLocked() {
	copy(t.cells[:], t.cells[Columns:])
	for i := (Rows - 1) * Columns; i < len(t.cells); i++ {
		t.cells[i] = ' '
	}
	t.repaintLocked()
}

// InputByte feeds one translated keystroke into the line buffer, echoing
// it. Called by the keyboard driver in interrupt context.
func (t *Terminal) InputByte(ch byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lineDone {
		// The finished line is waiting for its reader; there is no
		// second buffer to type into.
		return
	}
	switch ch {
	case '\n':
		t.input[t.inLen] = '\n'
		t.inLen++
		t.lineDone = true
		t.putChar('\n')
	case '\b':
		if t.inLen > 0 {
			t.inLen--
			t.putChar('\b')
		}
	default:
		if t.inLen < inputSize-1 {
			t.input[t.inLen] = ch
			t.inLen++
			t.putChar(ch)
		}
	}
	t.syncLocked()
}

// ClearScreen clears the display and re-echoes the partially typed line,
// the Ctrl-L behavior.
func (t *Terminal) ClearScreen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	done := t.lineDone
	t.clearLocked()
	if !done {
		for i := 0; i < t.inLen; i++ {
			t.putChar(t.input[i])
		}
	}
	t.syncLocked()
}

func (t *Terminal) lineReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lineDone
}

// readLine blocks task until a completed line is available, then hands
// it over.
func (t *Terminal) readLine(task *kernel.Task, dst []byte) (int, error) {
	if err := task.Block(t.lineReady); err != nil {
		return 0, err
	}
	return t.consumeLine(dst), nil
}

// consumeLine copies the completed line out and opens the buffer for
// typing again. A line longer than dst is truncated; either way the
// buffer is surrendered whole.
func (t *Terminal) consumeLine(dst []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := copy(dst, t.input[:t.inLen])
	t.inLen = 0
	t.lineDone = false
	return n
}

// writeBytes prints src at the cursor.
func (t *Terminal) writeBytes(src []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range src {
		t.putChar(ch)
	}
	t.syncLocked()
	return len(src)
}

// BlitCells renders a vidmapped task's video page. The page uses the
// text-mode layout of character and attribute byte pairs; attributes
// are ignored and NUL characters render as blanks. The cursor and the
// input line are untouched. Implements kernel.VideoSink.
func (t *Terminal) BlitCells(cells []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < Rows*Columns && 2*i < len(cells); i++ {
		ch := cells[2*i]
		if ch == 0 {
			ch = ' '
		}
		if t.cells[i] == ch {
			continue
		}
		t.cells[i] = ch
		t.disp.SetCell(i%Columns, i/Columns, ch)
	}
	t.syncLocked()
}

// terminalInput is the FileOperations behind descriptor 0.
type terminalInput struct {
	t *Terminal
}

func (in *terminalInput) Read(task *kernel.Task, fd *kernel.FileDescription, dst []byte) (int, error) {
	return in.t.readLine(task, dst)
}

func (in *terminalInput) Write(task *kernel.Task, fd *kernel.FileDescription, src []byte) (int, error) {
	return 0, kernelerr.EBADF
}

func (in *terminalInput) Release(task *kernel.Task) {
}

// terminalOutput is the FileOperations behind descriptor 1.
type terminalOutput struct {
	t *Terminal
}

func (out *terminalOutput) Read(task *kernel.Task, fd *kernel.FileDescription, dst []byte) (int, error) {
	return 0, kernelerr.EBADF
}

func (out *terminalOutput) Write(task *kernel.Task, fd *kernel.FileDescription, src []byte) (int, error) {
	return out.t.writeBytes(src), nil
}

func (out *terminalOutput) Release(task *kernel.Task) {
}

// InputOps returns the stdin file operations. The same value is shared
// by every task; Release is a no-op, so repeated closes are harmless.
func (t *Terminal) InputOps() kernel.FileOperations {
	return &terminalInput{t: t}
}

// OutputOps returns the stdout file operations.
func (t *Terminal) OutputOps() kernel.FileOperations {
	return &terminalOutput{t: t}
}
