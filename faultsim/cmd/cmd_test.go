// Copyright 2026 The gVisor Authors.
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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/subcommands"
	"vmfault.dev/vmfault/faultsim/config"
	"vmfault.dev/vmfault/faultsim/flag"
)

const (
	passing = `
name: passing
processes:
  - name: pusher
    threads:
      - sp: stack_top - 0x2000
        steps:
          - op: write
            addr: stack_top - 0x2010
            data: pusha
          - op: read
            addr: stack_top - 0x2010
            expect: pusha
`
	mismatch = `
name: mismatch
processes:
  - name: reader
    threads:
      - steps:
          - op: read
            addr: stack_top - 4
            expect: "xxxx"
`
	unknownField = `
name: unknown
platform: kvm
processes:
  - name: a
`
	badOverride = `
name: override
config:
  frames: "0"
processes:
  - name: a
`
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		t.Fatalf("NewFromFlags: %v", err)
	}
	return conf
}

// writeScenarios writes each document to its own file and returns the paths.
func writeScenarios(t *testing.T, docs ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for i, doc := range docs {
		path := filepath.Join(dir, "scenario"+string(rune('a'+i))+".yaml")
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		paths = append(paths, path)
	}
	return paths
}

func execute(t *testing.T, c subcommands.Command, args ...string) subcommands.ExitStatus {
	t.Helper()
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	c.SetFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%q): %v", args, err)
	}
	return c.Execute(context.Background(), fs, testConfig(t))
}

func TestRun(t *testing.T) {
	for _, tc := range []struct {
		name string
		docs []string
		want subcommands.ExitStatus
	}{
		{
			name: "expectations met",
			docs: []string{passing},
			want: subcommands.ExitSuccess,
		},
		{
			name: "expectation mismatch",
			docs: []string{mismatch},
			want: subcommands.ExitFailure,
		},
		{
			name: "mismatch does not stop later scenarios",
			docs: []string{mismatch, passing},
			want: subcommands.ExitFailure,
		},
		{
			name: "invalid scenario",
			docs: []string{unknownField},
			want: subcommands.ExitFailure,
		},
		{
			name: "no scenarios",
			want: subcommands.ExitUsageError,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			args := append([]string{"-quiet"}, writeScenarios(t, tc.docs...)...)
			if got := execute(t, &Run{}, args...); got != tc.want {
				t.Errorf("run %v = %v, want %v", tc.docs, got, tc.want)
			}
		})
	}
}

func TestRunMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	if got := execute(t, &Run{}, "-quiet", path); got != subcommands.ExitFailure {
		t.Errorf("run %s = %v, want ExitFailure", path, got)
	}
}

func TestRunMetrics(t *testing.T) {
	out := filepath.Join(t.TempDir(), "metrics.txt")
	paths := writeScenarios(t, passing)
	if got := execute(t, &Run{}, "-quiet", "-metrics", out, paths[0]); got != subcommands.ExitSuccess {
		t.Fatalf("run = %v, want ExitSuccess", got)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, want := range []string{
		"# TYPE vmfault_kernel_page_faults counter",
		`vmfault_kernel_fault_outcomes{outcome="resolved"}`,
		"# TYPE vmfault_mm_stack_pages counter",
	} {
		if !strings.Contains(string(b), want) {
			t.Errorf("metrics output is missing %q:\n%s", want, b)
		}
	}
}

func TestRunMetricsUnwritable(t *testing.T) {
	out := filepath.Join(t.TempDir(), "no", "such", "dir", "metrics.txt")
	paths := writeScenarios(t, passing)
	if got := execute(t, &Run{}, "-quiet", "-metrics", out, paths[0]); got != subcommands.ExitFailure {
		t.Errorf("run = %v, want ExitFailure", got)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		docs []string
		want subcommands.ExitStatus
	}{
		{
			name: "valid",
			docs: []string{passing, mismatch},
			want: subcommands.ExitSuccess,
		},
		{
			name: "unknown field",
			docs: []string{unknownField},
			want: subcommands.ExitFailure,
		},
		{
			name: "bad config override",
			docs: []string{badOverride},
			want: subcommands.ExitFailure,
		},
		{
			name: "one bad file fails the batch",
			docs: []string{passing, badOverride},
			want: subcommands.ExitFailure,
		},
		{
			name: "no scenarios",
			want: subcommands.ExitUsageError,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := execute(t, &Validate{}, writeScenarios(t, tc.docs...)...); got != tc.want {
				t.Errorf("validate = %v, want %v", got, tc.want)
			}
		})
	}
}
