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

// Package keyboard emulates the machine's keyboard. The host frontend
// pushes set-1 scancodes into a small buffer, each push raises interrupt
// line 1, and the interrupt handler translates press and release codes
// through the modifier layers into line input for the terminal.
package keyboard

import (
	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/arch"
	"krill.dev/krill/pkg/kernel"
	"krill.dev/krill/pkg/log"
	"krill.dev/krill/pkg/sync"
)

// IRQLine is the interrupt line the keyboard asserts.
const IRQLine = 1

// Scancode framing.
const (
	// keyReleased is set on the scancode of a released key.
	keyReleased = 0x80

	// extendedPrefix announces that the next scancode is from the
	// extended set (right-hand modifiers, cursor keys).
	extendedPrefix = 0xe0
)

// Keycodes with meaning beyond the translation layers.
const (
	codeLCtrl    = 0x1d
	codeLShift   = 0x2a
	codeRShift   = 0x36
	codeLAlt     = 0x38
	codeCapsLock = 0x3a

	// keyL and keyC select the ctrl-l and ctrl-c actions.
	keyL = 0x26
	keyC = 0x2e
)

// numKeys is the number of keycodes the translation layers cover.
const numKeys = 58

// layers maps keycodes to characters, one table per modifier
// combination: unmodified, shift, caps lock, and shift with caps lock.
// Zero entries have no character.
var layers = [4][numKeys]byte{
	{
		0, 0, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=',
		'\b', '\t', 'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']',
		'\n', 0, 'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`',
		0, '\\', 'z', 'x', 'c', 'v', 'b', 'n', 'm', ',', '.', '/', 0, '*',
		0, ' ',
	},
	{
		0, 0, '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+',
		'\b', '\t', 'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '{', '}',
		'\n', 0, 'A', 'S', 'D', 'F', 'G', 'H', 'J', 'K', 'L', ':', '"', '~',
		0, '|', 'Z', 'X', 'C', 'V', 'B', 'N', 'M', '<', '>', '?', 0, '*',
		0, ' ',
	},
	{
		0, 0, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=',
		'\b', '\t', 'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '[', ']',
		'\n', 0, 'A', 'S', 'D', 'F', 'G', 'H', 'J', 'K', 'L', ';', '\'', '`',
		0, '\\', 'Z', 'X', 'C', 'V', 'B', 'N', 'M', ',', '.', '/', 0, '*',
		0, ' ',
	},
	{
		0, 0, '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+',
		'\b', '\t', 'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '{', '}',
		'\n', 0, 'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', ':', '"', '~',
		0, '|', 'z', 'x', 'c', 'v', 'b', 'n', 'm', '<', '>', '?', 0, '*',
		0, ' ',
	},
}

// Reverse maps from ASCII to the keycode producing it, split by whether
// shift must be held. Built from the translation layers at startup.
var (
	plainCode [128]byte
	shiftCode [128]byte
)

func init() {
	for code := byte(0); code < numKeys; code++ {
		if ch := layers[0][code]; ch != 0 && plainCode[ch] == 0 {
			plainCode[ch] = code
		}
		if ch := layers[1][code]; ch != 0 && shiftCode[ch] == 0 {
			shiftCode[ch] = code
		}
	}
}

type modifiers uint8

const (
	modLShift modifiers = 1 << iota
	modRShift
	modLCtrl
	modRCtrl
	modLAlt
	modRAlt
	modCaps

	modShift = modLShift | modRShift
	modCtrl  = modLCtrl | modRCtrl
	modAlt   = modLAlt | modRAlt
)

// consolidated folds the left and right variants together so callers can
// test against modShift and friends directly.
func (m modifiers) consolidated() modifiers {
	out := m & modCaps
	if m&modShift != 0 {
		out |= modShift
	}
	if m&modCtrl != 0 {
		out |= modCtrl
	}
	if m&modAlt != 0 {
		out |= modAlt
	}
	return out
}

func modifierFor(key byte, ext bool) modifiers {
	if ext {
		switch key {
		case codeLCtrl:
			return modRCtrl
		case codeLAlt:
			return modRAlt
		}
		return 0
	}
	switch key {
	case codeLCtrl:
		return modLCtrl
	case codeLShift:
		return modLShift
	case codeRShift:
		return modRShift
	case codeLAlt:
		return modLAlt
	case codeCapsLock:
		return modCaps
	}
	return 0
}

// LineAsserter raises device interrupt lines. *pic.PIC implements it.
type LineAsserter interface {
	Assert(line int)
}

// Sink receives translated keystrokes. *tty.Terminal implements it.
type Sink interface {
	InputByte(ch byte)
	ClearScreen()
}

// bufSize bounds the scancode buffer. Scancodes pushed while it is full
// are dropped, as a real controller would.
const bufSize = 64

// Keyboard is the keyboard device.
type Keyboard struct {
	k    *kernel.Kernel
	sink Sink
	intc LineAsserter

	// mu guards the scancode buffer, which the host frontend fills
	// from its own goroutine.
	mu   sync.Mutex
	buf  [bufSize]byte
	head int
	n    int

	// Decode state. Only the interrupt handler touches these.
	mods modifiers
	e0   bool
}

// New builds a keyboard delivering keystrokes to sink. Call Attach to
// start taking interrupts.
func New(k *kernel.Kernel, sink Sink, intc LineAsserter) *Keyboard {
	return &Keyboard{k: k, sink: sink, intc: intc}
}

// Attach installs the keyboard's interrupt handler and unmasks its line.
func (kb *Keyboard) Attach() {
	kb.k.RegisterIRQ(IRQLine, kb.handleIRQ)
}

// Push buffers one scancode and raises the keyboard's interrupt line.
// Safe to call from any goroutine.
func (kb *Keyboard) Push(code byte) {
	kb.mu.Lock()
	if kb.n == bufSize {
		kb.mu.Unlock()
		log.Debugf("keyboard: buffer full, dropping scancode %#02x", code)
		return
	}
	kb.buf[(kb.head+kb.n)%bufSize] = code
	kb.n++
	kb.mu.Unlock()
	kb.intc.Assert(IRQLine)
}

func (kb *Keyboard) pop() (byte, bool) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.n == 0 {
		return 0, false
	}
	code := kb.buf[kb.head]
	kb.head = (kb.head + 1) % bufSize
	kb.n--
	return code, true
}

// handleIRQ drains the scancode buffer. The controller latches one edge
// per line however many bytes are queued behind it, so stopping after a
// single byte could strand the rest until the next keypress.
func (kb *Keyboard) handleIRQ(line int, frame *arch.Registers) {
	for {
		code, ok := kb.pop()
		if !ok {
			return
		}
		kb.process(code)
	}
}

// process decodes one scancode, updating modifier state or emitting the
// keystroke it completes.
func (kb *Keyboard) process(code byte) {
	if code == extendedPrefix {
		kb.e0 = true
		return
	}
	ext := kb.e0
	kb.e0 = false

	released := code&keyReleased != 0
	key := code &^ keyReleased

	if mod := modifierFor(key, ext); mod != 0 {
		switch {
		case mod == modCaps:
			// Caps lock toggles on press and ignores release.
			if !released {
				kb.mods ^= modCaps
			}
		case released:
			kb.mods &^= mod
		default:
			kb.mods |= mod
		}
		return
	}
	if released || ext {
		return
	}
	kb.keystroke(key)
}

func (kb *Keyboard) keystroke(key byte) {
	switch kb.mods.consolidated() {
	case 0:
		kb.emit(0, key)
	case modShift:
		kb.emit(1, key)
	case modCaps:
		kb.emit(2, key)
	case modCaps | modShift:
		kb.emit(3, key)
	case modCtrl, modCaps | modCtrl:
		kb.control(key)
	default:
		log.Debugf("keyboard: unhandled modifier combination %#02x", uint8(kb.mods))
	}
}

func (kb *Keyboard) emit(layer int, key byte) {
	if key >= numKeys {
		log.Debugf("keyboard: unknown keycode %#02x", key)
		return
	}
	if ch := layers[layer][key]; ch != 0 {
		kb.sink.InputByte(ch)
	}
}

// control dispatches a ctrl chord. Ctrl-l clears the screen; ctrl-c
// interrupts whatever task is at the keyboard.
func (kb *Keyboard) control(key byte) {
	switch key {
	case keyL:
		kb.sink.ClearScreen()
	case keyC:
		if t := kb.k.CurrentTask(); t != nil {
			t.SendSignal(krill.SIGINTERRUPT)
		}
	}
}

// Type converts one byte of host terminal input into the scancode
// sequence a keyboard would emit for it and pushes that sequence. It
// returns false for bytes with no key sequence, which are dropped.
func (kb *Keyboard) Type(ch byte) bool {
	switch ch {
	case '\r':
		ch = '\n'
	case 0x7f:
		// Host terminals send DEL for the backspace key in raw mode.
		ch = '\b'
	}
	if ch >= 0x80 {
		return false
	}
	if ch < 0x20 && ch != '\n' && ch != '\b' && ch != '\t' {
		// Ctrl chords arrive from the host as bytes 0x01 through 0x1a.
		if ch < 1 || ch > 26 {
			return false
		}
		code := plainCode['a'+ch-1]
		if code == 0 {
			return false
		}
		kb.Push(codeLCtrl)
		kb.Push(code)
		kb.Push(code | keyReleased)
		kb.Push(codeLCtrl | keyReleased)
		return true
	}
	if code := plainCode[ch]; code != 0 {
		kb.Push(code)
		kb.Push(code | keyReleased)
		return true
	}
	if code := shiftCode[ch]; code != 0 {
		kb.Push(codeLShift)
		kb.Push(code)
		kb.Push(code | keyReleased)
		kb.Push(codeLShift | keyReleased)
		return true
	}
	return false
}
