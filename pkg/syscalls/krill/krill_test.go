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

import (
	"encoding/binary"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/errors/kernelerr"
	"krill.dev/krill/pkg/imagefs"
	"krill.dev/krill/pkg/kernel"
	"krill.dev/krill/pkg/pic"
	"krill.dev/krill/pkg/ring0"
	"krill.dev/krill/pkg/tty"
	"krill.dev/krill/pkg/usermode"
)

type testLoader struct {
	bodies map[string]func(*usermode.Env)
}

func (l *testLoader) Load(name string) (usermode.Program, error) {
	body, ok := l.bodies[name]
	if !ok {
		return nil, kernelerr.ENOEXEC
	}
	return usermode.NewFunc(body), nil
}

// progImage builds a minimal valid executable image.
func progImage() []byte {
	img := make([]byte, 64)
	copy(img, krill.ImageMagic[:])
	binary.LittleEndian.PutUint32(img[krill.ImageEntryOffset:], krill.UserImageStart)
	return img
}

type testMachine struct {
	k    *kernel.Kernel
	term *tty.Terminal
}

// newTestMachine wires a kernel with the real system call table to a
// real terminal. The boot image holds one executable per body, in name
// order, plus whatever add contributes.
func newTestMachine(t *testing.T, bodies map[string]func(*usermode.Env), add func(b *imagefs.Builder)) *testMachine {
	t.Helper()
	b := imagefs.NewBuilder()
	if err := b.AddDirectory("."); err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	names := make([]string, 0, len(bodies))
	for name := range bodies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := b.AddRegular(name, progImage()); err != nil {
			t.Fatalf("AddRegular(%q): %v", name, err)
		}
	}
	if add != nil {
		add(b)
	}
	img, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	fs, err := imagefs.New(img)
	if err != nil {
		t.Fatalf("imagefs.New: %v", err)
	}
	cpu := ring0.NewCPU()
	p := pic.New()
	p.SetNotify(cpu.Kick)
	term := tty.New(tty.Discard{})
	k, err := kernel.New(kernel.InitArgs{
		CPU:        cpu,
		Interrupts: p,
		Console:    term,
		Loader:     &testLoader{bodies: bodies},
		RootFS:     fs,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	k.SetStdio(term.InputOps(), term.OutputOps())
	k.SetSyscallTable(Table())
	return &testMachine{k: k, term: term}
}

// run starts command as the root task and waits out its exit status.
func run(t *testing.T, m *testMachine, command string) int32 {
	t.Helper()
	if err := m.k.Start(command); err != nil {
		t.Fatalf("Start(%q): %v", command, err)
	}
	return m.k.WaitExited()
}

func TestTableShape(t *testing.T) {
	tbl := Table()
	if got, want := tbl.Max(), uint32(krill.MaxSyscall); got != want {
		t.Errorf("Max() = %d, want %d", got, want)
	}
	var names []string
	for _, e := range tbl.Entries() {
		names = append(names, e.Name)
	}
	want := []string{
		"halt", "execute", "read", "write", "open",
		"close", "getargs", "vidmap", "set_handler", "sigreturn",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("table order mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteToTerminal(t *testing.T) {
	const msg = "hello, krill"
	var wrote int32
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"greet": func(e *usermode.Env) {
			wrote = e.WriteString(1, msg)
			e.Exit(0)
		},
	}, nil)
	if status := run(t, m, "greet"); status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
	if wrote != int32(len(msg)) {
		t.Errorf("write returned %d, want %d", wrote, len(msg))
	}
	if got := m.term.Row(0); got != msg {
		t.Errorf("terminal row 0 = %q, want %q", got, msg)
	}
}

func TestReadRegularFile(t *testing.T) {
	const content = "fish swim\nin the sea\n"
	var (
		chunks []string
		tail   int32 = -1
	)
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"cat": func(e *usermode.Env) {
			fd := e.Open("frame0.txt")
			if fd < 0 {
				e.Exit(1)
			}
			for {
				buf, ret := e.ReadBytes(fd, 10)
				if ret < 0 {
					e.Exit(2)
				}
				if ret == 0 {
					tail = ret
					break
				}
				chunks = append(chunks, string(buf))
			}
			if e.Close(fd) != 0 {
				e.Exit(3)
			}
			e.Exit(0)
		},
	}, func(b *imagefs.Builder) {
		b.AddRegular("frame0.txt", []byte(content))
	})
	if status := run(t, m, "cat"); status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
	if got := strings.Join(chunks, ""); got != content {
		t.Errorf("read %q, want %q", got, content)
	}
	if want := []string{"fish swim\n", "in the sea", "\n"}; !cmp.Equal(want, chunks) {
		t.Errorf("chunk boundaries = %q, want %q", chunks, want)
	}
	if tail != 0 {
		t.Errorf("read past EOF returned %d, want 0", tail)
	}
}

func TestDirectoryListing(t *testing.T) {
	var names []string
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"dir": func(e *usermode.Env) {
			fd := e.Open(".")
			if fd < 0 {
				e.Exit(1)
			}
			for {
				buf, ret := e.ReadBytes(fd, imagefs.MaxNameLen)
				if ret < 0 {
					e.Exit(2)
				}
				if ret == 0 {
					break
				}
				names = append(names, string(buf))
			}
			e.Exit(0)
		},
	}, func(b *imagefs.Builder) {
		b.AddRegular("zebra.txt", []byte("z"))
		b.AddDevice("rtc")
	})
	if status := run(t, m, "dir"); status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
	// Listing order is creation order, not sorted.
	want := []string{".", "dir", "zebra.txt", "rtc"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenFailures(t *testing.T) {
	var missing, driverless int32
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"probe": func(e *usermode.Env) {
			missing = e.Open("no-such-file")
			driverless = e.Open("rtc")
			e.Exit(0)
		},
	}, func(b *imagefs.Builder) {
		// A device dentry with no registered driver behind it.
		b.AddDevice("rtc")
	})
	if status := run(t, m, "probe"); status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
	if missing != -1 {
		t.Errorf("open(missing) = %d, want -1", missing)
	}
	if driverless != -1 {
		t.Errorf("open(driverless device) = %d, want -1", driverless)
	}
}

func TestCloseValidation(t *testing.T) {
	var results [4]int32
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"closer": func(e *usermode.Env) {
			results[0] = e.Close(0)  // terminal, permanent
			results[1] = e.Close(1)  // terminal, permanent
			results[2] = e.Close(5)  // never opened
			results[3] = e.Close(-1) // nonsense
			fd := e.Open("closer")
			if fd < 0 {
				e.Exit(1)
			}
			if e.Close(fd) != 0 {
				e.Exit(2)
			}
			if e.Close(fd) != -1 {
				e.Exit(3)
			}
			e.Exit(0)
		},
	}, nil)
	if status := run(t, m, "closer"); status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
	for i, ret := range results {
		if ret != -1 {
			t.Errorf("close case %d = %d, want -1", i, ret)
		}
	}
}

func TestReadWriteBadPointers(t *testing.T) {
	var readRet, writeRet int32
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"wild": func(e *usermode.Env) {
			fd := e.Open("wild")
			if fd < 0 {
				e.Exit(1)
			}
			// Below the user region.
			readRet = e.Syscall(krill.SysRead, uint32(fd), 0x1000, 16)
			writeRet = e.Syscall(krill.SysWrite, 1, 0x1000, 16)
			e.Exit(0)
		},
	}, nil)
	if status := run(t, m, "wild"); status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
	if readRet != -1 {
		t.Errorf("read(bad buf) = %d, want -1", readRet)
	}
	if writeRet != -1 {
		t.Errorf("write(bad buf) = %d, want -1", writeRet)
	}
}

func TestGetargs(t *testing.T) {
	var (
		rootRet  int32
		childArg string
		childRet int32
		tinyRet  int32
	)
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"init": func(e *usermode.Env) {
			// The root was started without arguments.
			_, rootRet = e.GetArgs(64)
			e.Exit(uint32(e.Exec("show --color of water")))
		},
		"show": func(e *usermode.Env) {
			childArg, childRet = e.GetArgs(64)
			_, tinyRet = e.GetArgs(4)
			e.Exit(0)
		},
	}, nil)
	if status := run(t, m, "init"); status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
	if rootRet != -1 {
		t.Errorf("getargs with no arguments = %d, want -1", rootRet)
	}
	if childRet != 0 || childArg != "--color of water" {
		t.Errorf("child getargs = (%q, %d), want (\"--color of water\", 0)", childArg, childRet)
	}
	if tinyRet != -1 {
		t.Errorf("getargs into a 4-byte buffer = %d, want -1", tinyRet)
	}
}

func TestVidmap(t *testing.T) {
	var (
		addr    uint32
		ret     int32
		badLow  int32
		badHigh int32
	)
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"paint": func(e *usermode.Env) {
			badLow = e.Syscall(krill.SysVidmap, 0x1000, 0, 0)
			badHigh = e.Syscall(krill.SysVidmap, krill.UserBase+krill.UserSize-2, 0, 0)
			addr, ret = e.Vidmap()
			e.Exit(0)
		},
	}, nil)
	if status := run(t, m, "paint"); status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
	if badLow != -1 || badHigh != -1 {
		t.Errorf("vidmap with bad pointers = (%d, %d), want (-1, -1)", badLow, badHigh)
	}
	if ret != 0 || addr != krill.VidmapBase {
		t.Errorf("vidmap = (%#x, %d), want (%#x, 0)", addr, ret, uint32(krill.VidmapBase))
	}
}

func TestExecuteChain(t *testing.T) {
	var midStatus int32
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"init": func(e *usermode.Env) {
			e.Exit(uint32(e.Exec("mid")))
		},
		"mid": func(e *usermode.Env) {
			midStatus = e.Exec("leaf end of the line")
			e.Exit(uint32(midStatus))
		},
		"leaf": func(e *usermode.Env) {
			e.Exit(42)
		},
	}, nil)
	if status := run(t, m, "init"); status != 42 {
		t.Fatalf("exit status = %d, want 42", status)
	}
	if midStatus != 42 {
		t.Errorf("middle task saw child status %d, want 42", midStatus)
	}
}

func TestExecuteFailures(t *testing.T) {
	var missing, empty int32
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"init": func(e *usermode.Env) {
			missing = e.Exec("no-such-program")
			empty = e.Exec("")
			e.Exit(0)
		},
	}, nil)
	if status := run(t, m, "init"); status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
	if missing != -1 {
		t.Errorf("execute(missing) = %d, want -1", missing)
	}
	if empty != -1 {
		t.Errorf("execute(empty) = %d, want -1", empty)
	}
}

func TestKilledChildStatus(t *testing.T) {
	var childStatus int32
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"init": func(e *usermode.Env) {
			childStatus = e.Exec("crash")
			e.Exit(0)
		},
		"crash": func(e *usermode.Env) {
			e.DivideByZero()
		},
	}, nil)
	if status := run(t, m, "init"); status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
	if childStatus != kernel.KilledStatus {
		t.Errorf("killed child status = %d, want %d", childStatus, kernel.KilledStatus)
	}
}

func TestHaltTruncatesStatus(t *testing.T) {
	var childStatus int32
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"init": func(e *usermode.Env) {
			childStatus = e.Exec("liar")
			e.Exit(0)
		},
		"liar": func(e *usermode.Env) {
			// Trying to impersonate a signal kill.
			e.Exit(uint32(kernel.KilledStatus))
		},
	}, nil)
	if status := run(t, m, "init"); status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
	if childStatus != 0 {
		t.Errorf("child status = %d, want 0 after truncation", childStatus)
	}
}

func TestSetHandlerValidation(t *testing.T) {
	var badSig int32
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"init": func(e *usermode.Env) {
			badSig = e.Syscall(krill.SysSetHandler, 99, 0, 0)
			e.Exit(0)
		},
	}, nil)
	if status := run(t, m, "init"); status != 0 {
		t.Fatalf("exit status = %d, want 0", status)
	}
	if badSig != -1 {
		t.Errorf("set_handler(99) = %d, want -1", badSig)
	}
}

func TestBareSigreturnKills(t *testing.T) {
	m := newTestMachine(t, map[string]func(*usermode.Env){
		"init": func(e *usermode.Env) {
			// No signal frame on the stack to return through.
			e.Syscall(krill.SysSigreturn, 0, 0, 0)
			e.Exit(0)
		},
	}, nil)
	if status := run(t, m, "init"); status != kernel.KilledStatus {
		t.Fatalf("exit status = %d, want %d", status, kernel.KilledStatus)
	}
}
