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

package cmd

import (
	"bufio"
	"fmt"
	"io"

	"krill.dev/krill/pkg/log"
	"krill.dev/krill/pkg/tty"
)

// ansiDisplay renders the machine's cell grid to a host terminal with
// ANSI escape sequences. Writes accumulate in a pending grid; Sync
// repaints only the cells that changed since the last flush and leaves
// the host cursor at the machine's cursor position.
type ansiDisplay struct {
	w *bufio.Writer

	// pending is the grid as the machine last drew it; shadow is the
	// grid as last flushed to the host.
	pending [tty.Rows * tty.Columns]byte
	shadow  [tty.Rows * tty.Columns]byte

	// curX, curY is the machine cursor.
	curX, curY int
}

// newANSIDisplay takes over the host terminal: it clears it and homes
// the cursor. Call close to hand the terminal back.
func newANSIDisplay(w io.Writer) *ansiDisplay {
	d := &ansiDisplay{w: bufio.NewWriter(w)}
	for i := range d.pending {
		d.pending[i] = ' '
		d.shadow[i] = ' '
	}
	fmt.Fprint(d.w, "\x1b[2J\x1b[H")
	d.flush()
	return d
}

// SetCell implements tty.Display.SetCell.
func (d *ansiDisplay) SetCell(x, y int, ch byte) {
	if x < 0 || x >= tty.Columns || y < 0 || y >= tty.Rows {
		return
	}
	if ch < 0x20 || ch > 0x7e {
		ch = ' '
	}
	d.pending[y*tty.Columns+x] = ch
}

// SetCursor implements tty.Display.SetCursor.
func (d *ansiDisplay) SetCursor(x, y int) {
	d.curX, d.curY = x, y
}

// Sync implements tty.Display.Sync. Changed cells are written in runs,
// with one cursor move per run.
func (d *ansiDisplay) Sync() {
	for y := 0; y < tty.Rows; y++ {
		x := 0
		for x < tty.Columns {
			i := y*tty.Columns + x
			if d.pending[i] == d.shadow[i] {
				x++
				continue
			}
			end := x
			for end < tty.Columns && d.pending[y*tty.Columns+end] != d.shadow[y*tty.Columns+end] {
				end++
			}
			run := d.pending[y*tty.Columns+x : y*tty.Columns+end]
			fmt.Fprintf(d.w, "\x1b[%d;%dH%s", y+1, x+1, run)
			copy(d.shadow[y*tty.Columns+x:], run)
			x = end
		}
	}
	fmt.Fprintf(d.w, "\x1b[%d;%dH", d.curY+1, d.curX+1)
	d.flush()
}

// close parks the host cursor below the grid so the shell prompt does
// not land in the middle of the last frame.
func (d *ansiDisplay) close() {
	fmt.Fprintf(d.w, "\x1b[%d;1H\r\n", tty.Rows)
	d.flush()
}

func (d *ansiDisplay) flush() {
	if err := d.w.Flush(); err != nil {
		log.Debugf("display: flush: %v", err)
	}
}
