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

// Package cli is the main entrypoint for krun.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/subcommands"
	"krill.dev/krill/krun/cmd"
	"krill.dev/krill/krun/config"
	"krill.dev/krill/krun/version"
	"krill.dev/krill/pkg/kernel"
	"krill.dev/krill/pkg/log"
)

// versionFlagName is the name of the flag that triggers printing the
// version.
const versionFlagName = "version"

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// Register version flag if it is not already defined.
	if flag.Lookup(versionFlagName) == nil {
		flag.Bool(versionFlagName, false, "show version and exit.")
	}

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Are we showing the version?
	if flag.Lookup(versionFlagName).Value.(flag.Getter).Get().(bool) {
		fmt.Fprintf(os.Stdout, "krun version %s\n", version.Version())
		os.Exit(0)
	}

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	subcommand := flag.CommandLine.Arg(0)

	// Set up logging.
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	var emitters log.MultiEmitter
	if conf.DebugLog != "" {
		// O_APPEND rather than O_TRUNC so repeated invocations against
		// the same log file accumulate instead of clobbering each other.
		opts := debugLogOpts{command: subcommand, when: time.Now()}
		f, err := log.OpenFile(conf.DebugLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, opts)
		if err != nil {
			cmd.Fatalf("error opening debug log file %q: %v", conf.DebugLog, err)
		}
		emitters = append(emitters, newEmitter(conf.LogFormat, f))
	} else {
		// Stdout and stderr render the machine console, so logs are
		// discarded unless a debug log file is specified.
		emitters = append(emitters, newEmitter("text", io.Discard))
	}
	if conf.AlsoLogToStderr {
		emitters = append(emitters, newEmitter(conf.LogFormat, os.Stderr))
	}

	switch len(emitters) {
	case 1:
		// Use the singular emitter to avoid needless
		// `for` loop overhead when logging to a single place.
		log.SetTarget(emitters[0])
	default:
		log.SetTarget(&emitters)
	}

	const delimString = `***************** Krill *****************`
	log.Infof(delimString)
	log.Infof("Version %s, %s, %s, %d CPUs, %s, PID %d", version.Version(), runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	var ws int32
	subcmdCode := subcommands.Execute(context.Background(), conf, &ws)
	if subcmdCode == subcommands.ExitSuccess {
		log.Infof("Exiting with status: %d", ws)
		if ws == kernel.KilledStatus {
			// The root task died to a signal rather than calling halt.
			// Emulate what the shell does for a signaled child.
			os.Exit(128)
		}
		os.Exit(int(ws) & 0xff)
	}
	// Return an error that is unlikely to be used by the application.
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	os.Exit(128)
}

// forEachCmd invokes the passed callback for each command supported by krun.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	// User-facing commands.
	cb(new(cmd.Boot), "")

	// Table dumps.
	const debugGroup = "debug"
	cb(new(cmd.Syscalls), debugGroup)
	cb(new(cmd.Vectors), debugGroup)
}

// debugLogOpts expands the variables allowed in a --debug-log pattern.
type debugLogOpts struct {
	command string
	when    time.Time
}

// Build implements log.FileOpts.Build. %TIMESTAMP% becomes the boot
// time and %COMMAND% the subcommand being run.
func (o debugLogOpts) Build(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "%TIMESTAMP%", o.when.Format("20060102-150405.000000"))
	return strings.ReplaceAll(pattern, "%COMMAND%", o.command)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.TextEmitter{&log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{&log.Writer{Next: logFile}}
	}
	cmd.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}
