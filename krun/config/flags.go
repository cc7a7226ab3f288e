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

package config

import (
	"flag"
)

// RegisterFlags registers the flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("debug-log", "", "file path where logs are written; %TIMESTAMP% and %COMMAND% in the path are expanded. Default is to discard logs.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")

	// Flags that control machine behavior.
	flagSet.Bool("headless", false, "run without rendering the terminal to the host console.")
	flagSet.Duration("alarm", 0, "period of the alarm signal (e.g. \"10s\"). Zero leaves it disarmed.")
	flagSet.String("manifest", "", "path of a TOML machine manifest describing boot image contents.")
}
