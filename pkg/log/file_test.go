// Copyright 2024 The gVisor Authors.
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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type replaceOpts map[string]string

func (r replaceOpts) Build(pattern string) string {
	for k, v := range r {
		pattern = strings.ReplaceAll(pattern, k, v)
	}
	return pattern
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	opts := replaceOpts{"%COMMAND%": "build"}

	for _, tc := range []struct {
		pattern string
		want    string
	}{
		{filepath.Join(dir, "logs", "%COMMAND%.txt"), filepath.Join(dir, "logs", "build.txt")},
		{filepath.Join(dir, "%COMMAND%") + string(filepath.Separator), filepath.Join(dir, "build", "vaspace.log")},
	} {
		for i := 0; i < 2; i++ {
			f, err := OpenFile(tc.pattern, opts)
			if err != nil {
				t.Fatalf("OpenFile(%q) failed: %v", tc.pattern, err)
			}
			if f.Name() != tc.want {
				t.Errorf("OpenFile(%q) = %q, want %q", tc.pattern, f.Name(), tc.want)
			}
			if _, err := f.WriteString("line\n"); err != nil {
				t.Errorf("WriteString failed: %v", err)
			}
			f.Close()
		}
		// The second open appends.
		b, err := os.ReadFile(tc.want)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if got := string(b); got != "line\nline\n" {
			t.Errorf("%s contains %q, want two lines", tc.want, got)
		}
	}
}

func TestOpenFileEmpty(t *testing.T) {
	f, err := OpenFile("", replaceOpts{})
	if f != nil || err != nil {
		t.Errorf("OpenFile(\"\") = %v, %v; want nil, nil", f, err)
	}
}
