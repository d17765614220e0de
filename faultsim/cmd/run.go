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

// Package cmd holds implementations of the faultsim commands.
package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/google/subcommands"
	"vmfault.dev/vmfault/faultsim/cmd/util"
	"vmfault.dev/vmfault/faultsim/config"
	"vmfault.dev/vmfault/faultsim/flag"
	"vmfault.dev/vmfault/faultsim/scenario"
	"vmfault.dev/vmfault/pkg/log"
	"vmfault.dev/vmfault/pkg/metric"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	// metricsPath is where metrics are written in Prometheus text format
	// once the scenarios have run. "-" is stdout.
	metricsPath string

	// quiet suppresses console output while scenarios run.
	quiet bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run fault simulation scenarios"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <scenario.yaml>... - run each scenario on a fresh kernel and report the outcome.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.metricsPath, "metrics", "", "write metrics in Prometheus text format to this file after running. Use - for stdout.")
	f.BoolVar(&r.quiet, "quiet", false, "do not echo the kernel console while scenarios run.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	status := subcommands.ExitSuccess
	for _, path := range f.Args() {
		s, err := scenario.Load(path)
		if err != nil {
			return util.Errorf("loading scenario: %v", err)
		}
		var out *os.File
		if !r.quiet {
			out = os.Stdout
		}
		res, err := runScenario(ctx, conf, s, out)
		if res != nil {
			res.Report(os.Stdout)
		}
		switch {
		case errors.Is(err, scenario.ErrExpectation):
			util.Errorf("scenario %s: %v", path, err)
			status = subcommands.ExitFailure
		case err != nil:
			return util.Errorf("running scenario %s: %v", path, err)
		}
	}

	if r.metricsPath != "" {
		if err := writeMetrics(r.metricsPath); err != nil {
			return util.Errorf("writing metrics: %v", err)
		}
	}
	return status
}

func runScenario(ctx context.Context, conf *config.Config, s *scenario.Scenario, out *os.File) (*scenario.Result, error) {
	if out == nil {
		return scenario.Run(ctx, conf, s, nil)
	}
	return scenario.Run(ctx, conf, s, out)
}

func writeMetrics(path string) error {
	if path == "-" {
		return metric.WritePrometheus(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := metric.WritePrometheus(f); err != nil {
		return err
	}
	log.Infof("Wrote metrics to %q", path)
	return f.Close()
}
