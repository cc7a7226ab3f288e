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

// Package config provides configuration for the krun commands, populated
// from registered command line flags.
package config

import (
	"flag"
	"fmt"
	"reflect"
	"time"

	"krill.dev/krill/pkg/log"
)

// Config holds the krun configuration. Fields are populated from the
// flag named in the field's flag tag, so every tagged field must have a
// matching flag registered by RegisterFlags.
type Config struct {
	// Debug enables debug logging.
	Debug bool `flag:"debug"`

	// DebugLog is the path logs are written to; %TIMESTAMP% and
	// %COMMAND% in the path are expanded. Empty discards logs.
	DebugLog string `flag:"debug-log"`

	// LogFormat is the log file format: text or json.
	LogFormat string `flag:"log-format"`

	// AlsoLogToStderr copies logs to stderr in addition to DebugLog.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// Headless disconnects the terminal from the host console. The
	// machine still runs; its display renders nowhere.
	Headless bool `flag:"headless"`

	// Alarm arms the periodic alarm signal when positive.
	Alarm time.Duration `flag:"alarm"`

	// Manifest is the path of an optional TOML machine manifest.
	Manifest string `flag:"manifest"`
}

// NewFromFlags builds a Config from the flags registered on flagSet,
// which must have been parsed.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		obj.Field(i).Set(reflect.ValueOf(fl.Value.(flag.Getter).Get()))
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) validate() error {
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q, must be \"text\" or \"json\"", c.LogFormat)
	}
	if c.Alarm < 0 {
		return fmt.Errorf("invalid alarm interval %v, must not be negative", c.Alarm)
	}
	return nil
}

// Log logs the configuration at debug level.
func (c *Config) Log() {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Debugf("Config.%s (--%s): %v", st.Field(i).Name, name, obj.Field(i).Interface())
	}
}
