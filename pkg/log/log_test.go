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

package log

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"\n*** Dropped 2 log messages ***\n",
		"line 2\n",
	}
	if len(tw.lines) != len(expected) {
		t.Fatalf("Writer should have logged %d lines, got: %v, expected: %v", len(expected), tw.lines, expected)
	}
	for i, l := range tw.lines {
		if l != expected[i] {
			t.Fatalf("line %d doesn't match, got: %v, expected: %v", i, l, expected[i])
		}
	}
}

func TestTextEmitterFormat(t *testing.T) {
	tw := &testWriter{}
	e := TextEmitter{&Writer{Next: tw}}
	e.Emit(0, Warning, time.Date(2025, 3, 7, 14, 5, 9, 123456000, time.UTC), "hello %d", 42)

	if len(tw.lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %v", len(tw.lines), tw.lines)
	}
	line := tw.lines[0]
	if !strings.HasPrefix(line, "W0307 14:05:09.123456 ") {
		t.Errorf("bad header: %q", line)
	}
	if !strings.HasSuffix(line, "hello 42\n") {
		t.Errorf("bad message: %q", line)
	}
	if !strings.Contains(line, "log_test.go:") {
		t.Errorf("missing caller: %q", line)
	}
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{&Writer{Next: tw}}
	e.Emit(0, Info, time.Now(), "count: %d", 7)

	if len(tw.lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %v", len(tw.lines), tw.lines)
	}
	var out struct {
		Msg    string `json:"msg"`
		Caller string `json:"caller"`
		Level  string `json:"level"`
	}
	if err := json.Unmarshal([]byte(tw.lines[0]), &out); err != nil {
		t.Fatalf("invalid json %q: %v", tw.lines[0], err)
	}
	if out.Msg != "count: 7" {
		t.Errorf("got msg %q, want %q", out.Msg, "count: 7")
	}
	if out.Level != "info" {
		t.Errorf("got level %q, want %q", out.Level, "info")
	}
	if !strings.HasPrefix(out.Caller, "log_test.go:") {
		t.Errorf("got caller %q, want log_test.go prefix", out.Caller)
	}
}

func TestLevelRoundTrip(t *testing.T) {
	for _, level := range []Level{Warning, Info, Debug} {
		b, err := json.Marshal(level)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", level, err)
		}
		var got Level
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", b, err)
		}
		if got != level {
			t.Errorf("round trip of %v produced %v", level, got)
		}
	}
}

type countingLogger struct {
	count int
	last  string
}

func (c *countingLogger) Debugf(format string, v ...any)   { c.log(format, v...) }
func (c *countingLogger) Infof(format string, v ...any)    { c.log(format, v...) }
func (c *countingLogger) Warningf(format string, v ...any) { c.log(format, v...) }
func (c *countingLogger) IsLogging(level Level) bool       { return true }

func (c *countingLogger) log(format string, v ...any) {
	c.count++
	c.last = fmt.Sprintf(format, v...)
}

func TestRateLimitedLogger(t *testing.T) {
	cl := &countingLogger{}
	rl := RateLimitedLogger(cl, time.Hour)

	for i := 0; i < 10; i++ {
		rl.Warningf("spam %d", i)
	}
	if cl.count != 1 {
		t.Fatalf("got %d messages, want 1", cl.count)
	}
	if cl.last != "spam 0" {
		t.Errorf("got %q, want %q", cl.last, "spam 0")
	}
}

func TestRateLimitedLoggerReportsSuppressed(t *testing.T) {
	cl := &countingLogger{}
	rl := RateLimitedLogger(cl, time.Hour).(*rateLimitedLogger)

	// Pretend two messages were dropped before the token bucket refilled.
	rl.suppressed.Add(2)
	rl.Warningf("second")

	if cl.count != 1 {
		t.Fatalf("got %d messages, want 1", cl.count)
	}
	want := "second (2 similar messages suppressed)"
	if cl.last != want {
		t.Errorf("got %q, want %q", cl.last, want)
	}
}
