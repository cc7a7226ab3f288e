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
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"

	"github.com/containerd/console"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"krill.dev/krill/krun/config"
	"krill.dev/krill/pkg/devices/keyboard"
	"krill.dev/krill/pkg/log"
	"krill.dev/krill/pkg/machine"
	"krill.dev/krill/pkg/tty"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct{}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot a machine on the host terminal"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [command] - boot a machine and run the given command as init.

The command defaults to the manifest's init entry when --manifest is
given, and to the built-in shell otherwise.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Boot) SetFlags(f *flag.FlagSet) {
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)
	ws := args[1].(*int32)

	mcfg := machine.Config{
		AlarmInterval: conf.Alarm,
		RealTime:      true,
	}
	if conf.Manifest != "" {
		manifest, err := config.LoadManifest(conf.Manifest)
		if err != nil {
			return Errorf("%v", err)
		}
		files, err := manifest.ImageFiles()
		if err != nil {
			return Errorf("%v", err)
		}
		mcfg.Init = manifest.Init
		mcfg.ExtraFiles = files
		if conf.Alarm == 0 {
			mcfg.AlarmInterval = manifest.Alarm.Duration
		}
	}
	if command := strings.Join(f.Args(), " "); command != "" {
		mcfg.Init = command
	}

	if !conf.Headless {
		cons, err := console.ConsoleFromFile(os.Stdin)
		if err != nil {
			log.Infof("boot: stdin is not a console, input stays line buffered: %v", err)
		} else {
			if size, err := cons.Size(); err == nil && (int(size.Width) < tty.Columns || int(size.Height) < tty.Rows) {
				log.Warningf("boot: host terminal %dx%d is smaller than the %dx%d display", size.Width, size.Height, tty.Columns, tty.Rows)
			}
			if err := cons.SetRaw(); err != nil {
				return Errorf("setting raw mode: %v", err)
			}
			defer cons.Reset()
		}
		disp := newANSIDisplay(os.Stdout)
		defer disp.close()
		mcfg.Display = disp
	}

	m, err := machine.New(mcfg)
	if err != nil {
		return Errorf("creating machine: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The pump cannot be broken out of a blocking stdin read, so it is
	// not part of the group; it dies with the process.
	go pumpStdin(runCtx, m.Keyboard())

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		status, err := m.Run(gctx)
		*ws = status
		return err
	})
	g.Go(func() error {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			log.Infof("boot: received %v, halting machine", sig)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	switch err := g.Wait(); {
	case err == nil:
		log.Infof("boot: machine exited with status %d", *ws)
		return subcommands.ExitSuccess
	case errors.Is(err, context.Canceled):
		return Errorf("boot: interrupted")
	case errors.Is(err, machine.ErrHalted):
		return Errorf("boot: machine halted")
	default:
		return Errorf("boot: %v", err)
	}
}

// pumpStdin forwards host stdin bytes to the machine keyboard.
func pumpStdin(ctx context.Context, kb *keyboard.Keyboard) {
	buf := make([]byte, 128)
	for {
		n, err := os.Stdin.Read(buf)
		for _, b := range buf[:n] {
			if !kb.Type(b) {
				log.Debugf("boot: dropping untypeable byte %#02x", b)
			}
		}
		if err != nil {
			log.Debugf("boot: stdin closed: %v", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
