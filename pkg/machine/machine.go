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

// Package machine assembles a complete Krill machine: processor,
// interrupt controller, kernel, terminal, keyboard, clock and boot
// image. It is the layer krun boots and the layer whole-system tests
// drive.
package machine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"krill.dev/krill/pkg/abi/krill"
	"krill.dev/krill/pkg/devices/keyboard"
	"krill.dev/krill/pkg/devices/rtc"
	"krill.dev/krill/pkg/errors/kernelerr"
	"krill.dev/krill/pkg/imagefs"
	"krill.dev/krill/pkg/kernel"
	"krill.dev/krill/pkg/log"
	"krill.dev/krill/pkg/pic"
	"krill.dev/krill/pkg/ring0"
	syskrill "krill.dev/krill/pkg/syscalls/krill"
	"krill.dev/krill/pkg/tty"
	"krill.dev/krill/pkg/usermode"
)

// DefaultInit is the command the machine boots when Config.Init is
// empty.
const DefaultInit = "shell"

// ErrHalted reports that the run ended on a permanent processor halt
// rather than a root task exit. The fatal dump is on the display.
var ErrHalted = errors.New("machine halted")

// ImageFile is a regular file placed in the boot image.
type ImageFile struct {
	Name string
	Data []byte
}

// Config carries everything New needs to assemble a machine. The zero
// value boots the built-in shell on a discarded display.
type Config struct {
	// Init is the boot command, name plus argument tail. Defaults to
	// DefaultInit.
	Init string

	// Display renders the terminal. Defaults to tty.Discard.
	Display tty.Display

	// AlarmInterval arms the periodic alarm signal when positive.
	AlarmInterval time.Duration

	// RealTime drives the clock from host time for the duration of
	// Run. Leave it unset to drive ticks by hand through Clock.
	RealTime bool

	// Programs adds program bodies to the boot image, overriding
	// built-ins on name collision.
	Programs map[string]func(*usermode.Env)

	// ExtraFiles adds regular files to the boot image, overriding
	// built-in files on name collision.
	ExtraFiles []ImageFile
}

// Machine is an assembled Krill machine, ready to Run.
type Machine struct {
	cfg   Config
	cpu   *ring0.CPU
	intc  *pic.PIC
	term  *tty.Terminal
	kb    *keyboard.Keyboard
	clock *rtc.RTC
	k     *kernel.Kernel
}

// programTable resolves program names for the kernel.
type programTable map[string]func(*usermode.Env)

// Load implements kernel.Loader.
func (p programTable) Load(name string) (usermode.Program, error) {
	body, ok := p[name]
	if !ok {
		return nil, kernelerr.ENOEXEC
	}
	return usermode.NewFunc(body), nil
}

// New assembles a machine from cfg. Nothing runs until Run.
func New(cfg Config) (*Machine, error) {
	if cfg.Init == "" {
		cfg.Init = DefaultInit
	}
	if cfg.Display == nil {
		cfg.Display = tty.Discard{}
	}

	progs := make(programTable, len(builtinPrograms)+len(cfg.Programs))
	for name, body := range builtinPrograms {
		progs[name] = body
	}
	for name, body := range cfg.Programs {
		progs[name] = body
	}

	fs, err := buildImage(progs, cfg.ExtraFiles)
	if err != nil {
		return nil, fmt.Errorf("building boot image: %w", err)
	}

	cpu := ring0.NewCPU()
	intc := pic.New()
	intc.SetNotify(cpu.Kick)
	term := tty.New(cfg.Display)

	k, err := kernel.New(kernel.InitArgs{
		CPU:        cpu,
		Interrupts: intc,
		Console:    term,
		Loader:     progs,
		RootFS:     fs,
	})
	if err != nil {
		return nil, err
	}
	k.SetStdio(term.InputOps(), term.OutputOps())
	k.SetVideoSink(term)
	k.SetSyscallTable(syskrill.Table())

	m := &Machine{
		cfg:  cfg,
		cpu:  cpu,
		intc: intc,
		term: term,
		k:    k,
	}
	m.kb = keyboard.New(k, term, intc)
	m.kb.Attach()
	m.clock = rtc.New(k, intc)
	m.clock.Attach()
	if cfg.AlarmInterval > 0 {
		m.clock.SetAlarmInterval(cfg.AlarmInterval)
	}
	return m, nil
}

// buildImage assembles the boot filesystem: the root directory, one
// executable per program, the clock device file and the data files.
func buildImage(progs programTable, extra []ImageFile) (*imagefs.Filesystem, error) {
	b := imagefs.NewBuilder()
	if err := b.AddDirectory("."); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(progs))
	for name := range progs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := b.AddRegular(name, execImage()); err != nil {
			return nil, fmt.Errorf("program %q: %w", name, err)
		}
	}
	if err := b.AddDevice(rtc.DeviceName); err != nil {
		return nil, err
	}
	overridden := make(map[string]bool, len(extra))
	for _, f := range extra {
		overridden[f.Name] = true
	}
	for _, f := range builtinFiles {
		if overridden[f.Name] {
			continue
		}
		if err := b.AddRegular(f.Name, f.Data); err != nil {
			return nil, fmt.Errorf("file %q: %w", f.Name, err)
		}
	}
	for _, f := range extra {
		if err := b.AddRegular(f.Name, f.Data); err != nil {
			return nil, fmt.Errorf("file %q: %w", f.Name, err)
		}
	}
	img, err := b.Build()
	if err != nil {
		return nil, err
	}
	return imagefs.New(img)
}

// execImage returns the content of an executable image file. Program
// text never executes (the bodies run through the usermode adapter),
// so the content is exactly the header the kernel validates at task
// creation.
func execImage() []byte {
	img := make([]byte, krill.ImageHeaderLen)
	copy(img, krill.ImageMagic[:])
	binary.LittleEndian.PutUint32(img[krill.ImageEntryOffset:], krill.UserImageStart)
	return img
}

// Run boots the init command and blocks until the root task exits, the
// machine halts or ctx is canceled. It returns the root exit status;
// the error is ErrHalted after a fatal kernel trap and ctx.Err() after
// cancellation.
func (m *Machine) Run(ctx context.Context) (int32, error) {
	if m.cfg.RealTime {
		stop := make(chan struct{})
		defer close(stop)
		go m.clock.Run(stop)
	}
	if err := m.k.Start(m.cfg.Init); err != nil {
		return -1, err
	}
	done := make(chan int32, 1)
	go func() { done <- m.k.WaitExited() }()
	select {
	case <-ctx.Done():
		log.Infof("machine: canceled, halting")
		m.cpu.Halt()
		<-done
		return -1, ctx.Err()
	case status := <-done:
		if m.cpu.Halted() {
			return status, ErrHalted
		}
		return status, nil
	}
}

// Kernel returns the machine's kernel.
func (m *Machine) Kernel() *kernel.Kernel {
	return m.k
}

// Terminal returns the machine's terminal.
func (m *Machine) Terminal() *tty.Terminal {
	return m.term
}

// Keyboard returns the machine's keyboard. Host frontends feed it with
// Type and Push.
func (m *Machine) Keyboard() *keyboard.Keyboard {
	return m.kb
}

// Clock returns the machine's clock. When the machine does not run in
// real time, tests advance it with Tick.
func (m *Machine) Clock() *rtc.RTC {
	return m.clock
}
