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

package machine

import (
	"strconv"
	"strings"

	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/imagefs"
	"krill.dev/krill/pkg/kernel"
	"krill.dev/krill/pkg/tty"
	"krill.dev/krill/pkg/usermem"
	"krill.dev/krill/pkg/usermode"
)

// The stdio descriptors every task is born with.
const (
	stdinFD  = 0
	stdoutFD = 1
)

// builtinPrograms is the standard boot image program set.
var builtinPrograms = map[string]func(*usermode.Env){
	"shell":   shellMain,
	"ls":      lsMain,
	"cat":     catMain,
	"hello":   helloMain,
	"counter": counterMain,
	"fish":    fishMain,
	"sigtest": sigtestMain,
}

// builtinFiles is the standard boot image data set.
var builtinFiles = []ImageFile{
	{Name: "motd.txt", Data: []byte(motd)},
	{Name: "frame0.txt", Data: []byte(frame0)},
	{Name: "frame1.txt", Data: []byte(frame1)},
}

const motd = `Welcome to Krill.

Programs on this image:
  ls              list the boot image
  cat <file>      print a file
  hello           ask for your name
  counter         count clock ticks
  fish            swim in video memory
  sigtest         catch a divide error
  exit            leave the shell
`

const frame0 = `    _///_
   /o    \
   >  () <
    \____/
`

const frame1 = `    _///_
   /O    \
   <  () >
    \____/
`

// shellMain is the boot shell: prompt, read a line, run it as a
// command. The empty line is ignored and exit leaves the shell.
func shellMain(e *usermode.Env) {
	e.WriteString(stdoutFD, "Starting Krill shell.\n")
	for {
		e.WriteString(stdoutFD, "krill> ")
		buf, n := e.ReadBytes(stdinFD, 127)
		if n < 0 {
			e.Exit(1)
		}
		line := strings.TrimSpace(string(buf))
		switch line {
		case "":
		case "exit":
			e.Exit(0)
		default:
			switch status := e.Exec(line); status {
			case -1:
				e.WriteString(stdoutFD, "shell: no such command\n")
			case kernel.KilledStatus:
				e.WriteString(stdoutFD, "shell: program terminated abnormally\n")
			}
		}
	}
}

// lsMain lists the boot image, one name per line, in image order.
func lsMain(e *usermode.Env) {
	fd := e.Open(".")
	if fd < 0 {
		e.WriteString(stdoutFD, "ls: cannot open .\n")
		e.Exit(1)
	}
	for {
		name, n := e.ReadBytes(fd, imagefs.MaxNameLen)
		if n <= 0 {
			break
		}
		e.WriteString(stdoutFD, string(name)+"\n")
	}
	e.Close(fd)
	e.Exit(0)
}

// catMain prints its operand file.
func catMain(e *usermode.Env) {
	name, ret := e.GetArgs(128)
	if ret != 0 {
		e.WriteString(stdoutFD, "cat: missing operand\n")
		e.Exit(1)
	}
	fd := e.Open(name)
	if fd < 0 {
		e.WriteString(stdoutFD, "cat: cannot open "+name+"\n")
		e.Exit(1)
	}
	for {
		buf, n := e.ReadBytes(fd, 1024)
		if n <= 0 {
			break
		}
		e.WriteString(stdoutFD, string(buf))
	}
	e.Close(fd)
	e.Exit(0)
}

// helloMain asks for a name and greets it.
func helloMain(e *usermode.Env) {
	e.WriteString(stdoutFD, "Hi, what's your name? ")
	buf, n := e.ReadBytes(stdinFD, 64)
	if n < 0 {
		e.Exit(1)
	}
	name := strings.TrimSpace(string(buf))
	if name == "" {
		name = "krill"
	}
	e.WriteString(stdoutFD, "Hello, "+name+"!\n")
	e.Exit(0)
}

// counterMain counts ten clock ticks at 32 Hz.
func counterMain(e *usermode.Env) {
	fd := e.Open("rtc")
	if fd < 0 {
		e.WriteString(stdoutFD, "counter: no clock\n")
		e.Exit(1)
	}
	if setClockHz(e, fd, 32) != 4 {
		e.Exit(1)
	}
	for i := 1; i <= 10; i++ {
		if _, n := e.ReadBytes(fd, 0); n < 0 {
			e.Exit(1)
		}
		e.WriteString(stdoutFD, strconv.Itoa(i)+"\n")
	}
	e.Close(fd)
	e.Exit(0)
}

// setClockHz writes a clock frequency through the rtc device file and
// returns the raw syscall result.
func setClockHz(e *usermode.Env, fd int32, hz uint32) int32 {
	addr := usermem.Addr(krill.UserBase + 0x4000)
	raw := []byte{byte(hz), byte(hz >> 8), byte(hz >> 16), byte(hz >> 24)}
	if err := e.Mem().CopyOut(addr, raw); err != nil {
		return -1
	}
	return e.Syscall(krill.SysWrite, uint32(fd), uint32(addr), 4)
}

// fishMain swims a two-frame fish through video memory, paced by the
// clock.
func fishMain(e *usermode.Env) {
	vid, ret := e.Vidmap()
	if ret != 0 {
		e.WriteString(stdoutFD, "fish: no video\n")
		e.Exit(1)
	}
	frames := [2][]string{
		readLines(e, "frame0.txt"),
		readLines(e, "frame1.txt"),
	}
	fd := e.Open("rtc")
	if fd < 0 {
		e.Exit(1)
	}
	if setClockHz(e, fd, 8) != 4 {
		e.Exit(1)
	}
	for i := 0; i < 16; i++ {
		paintLines(e, vid, 30, 8, frames[i%2])
		if _, n := e.ReadBytes(fd, 0); n < 0 {
			break
		}
	}
	e.Close(fd)
	e.Exit(0)
}

// readLines reads a whole file and splits it into lines.
func readLines(e *usermode.Env, name string) []string {
	fd := e.Open(name)
	if fd < 0 {
		return nil
	}
	var text strings.Builder
	for {
		buf, n := e.ReadBytes(fd, 1024)
		if n <= 0 {
			break
		}
		text.Write(buf)
	}
	e.Close(fd)
	return strings.Split(strings.TrimRight(text.String(), "\n"), "\n")
}

// paintLines writes text into the mapped video page, one cell per
// character, starting at column x of row y.
func paintLines(e *usermode.Env, vid uint32, x, y int, lines []string) {
	for dy, line := range lines {
		row := make([]byte, 2*len(line))
		for i := 0; i < len(line); i++ {
			row[2*i] = line[i]
			row[2*i+1] = tty.DefaultAttr
		}
		off := 2 * ((y+dy)*tty.Columns + x)
		e.Mem().CopyOut(usermem.Addr(vid)+usermem.Addr(off), row)
	}
}

// sigtestMain raises a divide error against its own handler.
func sigtestMain(e *usermode.Env) {
	caught := false
	e.SetHandler(krill.SIGDIVZERO, func(e *usermode.Env, sig krill.Signal) {
		caught = true
		e.WriteString(stdoutFD, "sigtest: caught divide error\n")
	})
	e.DivideByZero()
	if !caught {
		e.Exit(1)
	}
	e.WriteString(stdoutFD, "sigtest: back in main\n")
	e.Exit(0)
}
