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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	syskrill "krill.dev/krill/pkg/syscalls/krill"
)

// Syscalls implements subcommands.Command for the "syscalls" command.
type Syscalls struct {
	output string
}

// Name implements subcommands.Command.Name.
func (*Syscalls) Name() string {
	return "syscalls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Syscalls) Synopsis() string {
	return "print the system call table"
}

// Usage implements subcommands.Command.Usage.
func (*Syscalls) Usage() string {
	return `syscalls [options] - print the system call table.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Syscalls) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.output, "o", "table", "output format (table, json).")
}

// Execute implements subcommands.Command.Execute.
func (s *Syscalls) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	if err := writeSyscalls(os.Stdout, s.output); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// syscallDoc is one system call in json output.
type syscallDoc struct {
	Num  int    `json:"num"`
	Name string `json:"name"`
	Args string `json:"args,omitempty"`
}

func writeSyscalls(w io.Writer, format string) error {
	entries := syskrill.Table().Entries()
	switch format {
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "NUM\tNAME\tARGUMENTS\n")
		for i, sc := range entries {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, sc.Name, sc.Args)
		}
		return tw.Flush()
	case "json":
		docs := make([]syscallDoc, 0, len(entries))
		for i, sc := range entries {
			docs = append(docs, syscallDoc{Num: i + 1, Name: sc.Name, Args: sc.Args})
		}
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(docs)
	}
	return fmt.Errorf("unsupported output format %q, must be \"table\" or \"json\"", format)
}
