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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"krill.dev/krill/pkg/machine"
)

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{LogFormat: "text"}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	for name, val := range map[string]string{
		"debug":           "true",
		"debug-log":       "/tmp/krun.log",
		"log-format":      "json",
		"alsologtostderr": "true",
		"headless":        "true",
		"alarm":           "10s",
		"manifest":        "machine.toml",
	} {
		if err := testFlags.Lookup(name).Value.Set(val); err != nil {
			t.Errorf("Flag set: %v", err)
		}
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Debug:           true,
		DebugLog:        "/tmp/krun.log",
		LogFormat:       "json",
		AlsoLogToStderr: true,
		Headless:        true,
		Alarm:           10 * time.Second,
		Manifest:        "machine.toml",
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestValidationFail(t *testing.T) {
	for _, tc := range []struct {
		name  string
		flags map[string]string
		error string
	}{
		{
			name: "log-format",
			flags: map[string]string{
				"log-format": "yaml",
			},
			error: "invalid log format",
		},
		{
			name: "negative-alarm",
			flags: map[string]string{
				"alarm": "-5s",
			},
			error: "invalid alarm interval",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
			RegisterFlags(testFlags)
			for name, val := range tc.flags {
				if err := testFlags.Lookup(name).Value.Set(val); err != nil {
					t.Errorf("%s=%q: %v", name, val, err)
				}
			}
			if _, err := NewFromFlags(testFlags); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags() wrong error reported: %v", err)
			}
		})
	}
}

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "machine.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
init = "counter"
alarm = "750ms"

[[files]]
name = "notes.txt"
content = "from the manifest\n"
`)
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if want := "counter"; m.Init != want {
		t.Errorf("Init=%q, want: %q", m.Init, want)
	}
	if want := 750 * time.Millisecond; m.Alarm.Duration != want {
		t.Errorf("Alarm=%v, want: %v", m.Alarm.Duration, want)
	}
	files, err := m.ImageFiles()
	if err != nil {
		t.Fatalf("ImageFiles failed: %v", err)
	}
	want := []machine.ImageFile{
		{Name: "notes.txt", Data: []byte("from the manifest\n")},
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadManifestHostPath(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(src, []byte("host content\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := writeManifest(t, `
[[files]]
name = "notes.txt"
path = "`+src+`"
`)
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	files, err := m.ImageFiles()
	if err != nil {
		t.Fatalf("ImageFiles failed: %v", err)
	}
	want := []machine.ImageFile{
		{Name: "notes.txt", Data: []byte("host content\n")},
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		manifest string
		error    string
	}{
		{
			name: "no-name",
			manifest: `
[[files]]
content = "orphan"
`,
			error: "has no name",
		},
		{
			name: "path-and-content",
			manifest: `
[[files]]
name = "both.txt"
path = "/etc/hostname"
content = "also inline"
`,
			error: "exactly one of path and content",
		},
		{
			name: "no-source",
			manifest: `
[[files]]
name = "empty.txt"
`,
			error: "exactly one of path and content",
		},
		{
			name:     "bad-alarm",
			manifest: `alarm = "soon"`,
			error:    "reading manifest",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeManifest(t, tc.manifest)
			if _, err := LoadManifest(path); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("LoadManifest() wrong error reported: %v", err)
			}
		})
	}
}

func TestLoadManifestMissing(t *testing.T) {
	if _, err := LoadManifest(filepath.Join(t.TempDir(), "nonesuch.toml")); err == nil {
		t.Error("LoadManifest() of missing file succeeded")
	}
}

func TestImageFilesMissingHostPath(t *testing.T) {
	path := writeManifest(t, `
[[files]]
name = "gone.txt"
path = "/nonexistent/gone.txt"
`)
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if _, err := m.ImageFiles(); err == nil {
		t.Error("ImageFiles() with missing host path succeeded")
	}
}
