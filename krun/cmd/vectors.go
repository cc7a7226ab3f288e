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
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"krill.dev/krill/pkg/kernel"
	"krill.dev/krill/pkg/ring0"
)

// Vectors implements subcommands.Command for the "vectors" command.
type Vectors struct {
	all bool
}

// Name implements subcommands.Command.Name.
func (*Vectors) Name() string {
	return "vectors"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Vectors) Synopsis() string {
	return "print the interrupt vector table layout"
}

// Usage implements subcommands.Command.Usage.
func (*Vectors) Usage() string {
	return `vectors [options] - print the interrupt vector table layout.

Builds the same 256-entry vector table the machine boots with and prints
one row per classified vector. Unclassified vectors are elided unless
-all is given.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (v *Vectors) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&v.all, "all", false, "include unclassified vectors.")
}

// Execute implements subcommands.Command.Execute.
func (v *Vectors) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	if err := writeVectors(os.Stdout, v.all); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// vectorClass describes how the dispatcher routes one vector.
func vectorClass(v ring0.Vector) (class, desc string) {
	switch {
	case v.IsException():
		return "exception", kernel.ExceptionName(v)
	case v.IsIRQ():
		return "irq", fmt.Sprintf("hardware line %d", v.IRQ())
	case v == ring0.Syscall:
		return "syscall", "system call gate"
	}
	return "unused", "logged and ignored"
}

func writeVectors(w io.Writer, all bool) error {
	var vt ring0.VectorTable
	vt.Init()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "VECTOR\tCLASS\tDPL\tERRCODE\tDESCRIPTION\n")
	for v := ring0.Vector(0); v < ring0.NumVectors; v++ {
		class, desc := vectorClass(v)
		if class == "unused" && !all {
			continue
		}
		g := vt.Gate(v)
		if !g.Present() || !g.IsInterruptGate() {
			return fmt.Errorf("vector %#02x: malformed gate", uint(v))
		}
		errcode := "no"
		if ring0.PushesErrorCode(v) {
			errcode = "yes"
		}
		fmt.Fprintf(tw, "%#02x\t%s\t%d\t%s\t%s\n", uint(v), class, g.DPL(), errcode, desc)
	}
	return tw.Flush()
}
