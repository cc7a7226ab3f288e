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
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"krill.dev/krill/pkg/machine"
)

// Manifest is a TOML machine description:
//
//	init = "counter"
//	alarm = "10s"
//
//	[[files]]
//	name = "notes.txt"
//	path = "./notes.txt"
//
//	[[files]]
//	name = "hi.txt"
//	content = "hello from the manifest\n"
//
// Boot settings given on the command line take precedence over the
// manifest.
type Manifest struct {
	// Init is the boot command.
	Init string `toml:"init"`

	// Alarm is the alarm signal period.
	Alarm duration `toml:"alarm"`

	// Files lists extra regular files for the boot image.
	Files []ManifestFile `toml:"files"`
}

// ManifestFile describes one boot image file, sourced from a host path
// or from inline content.
type ManifestFile struct {
	Name    string `toml:"name"`
	Path    string `toml:"path"`
	Content string `toml:"content"`
}

// duration wraps time.Duration for TOML decoding.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("reading manifest %q: %w", path, err)
	}
	for i, f := range m.Files {
		if f.Name == "" {
			return nil, fmt.Errorf("manifest %q: files[%d] has no name", path, i)
		}
		if (f.Path == "") == (f.Content == "") {
			return nil, fmt.Errorf("manifest %q: file %q needs exactly one of path and content", path, f.Name)
		}
	}
	if m.Alarm.Duration < 0 {
		return nil, fmt.Errorf("manifest %q: negative alarm interval %v", path, m.Alarm.Duration)
	}
	return &m, nil
}

// ImageFiles resolves the manifest's file list, reading path-sourced
// entries from the host filesystem.
func (m *Manifest) ImageFiles() ([]machine.ImageFile, error) {
	var files []machine.ImageFile
	for _, f := range m.Files {
		data := []byte(f.Content)
		if f.Path != "" {
			var err error
			data, err = os.ReadFile(f.Path)
			if err != nil {
				return nil, fmt.Errorf("manifest file %q: %w", f.Name, err)
			}
		}
		files = append(files, machine.ImageFile{Name: f.Name, Data: data})
	}
	return files, nil
}
