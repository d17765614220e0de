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

	"github.com/google/subcommands"
	"vmfault.dev/vmfault/faultsim/cmd/util"
	"vmfault.dev/vmfault/faultsim/config"
	"vmfault.dev/vmfault/faultsim/flag"
	"vmfault.dev/vmfault/faultsim/scenario"
)

// Validate implements subcommands.Command for the "validate" command.
type Validate struct{}

// Name implements subcommands.Command.Name.
func (*Validate) Name() string {
	return "validate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Validate) Synopsis() string {
	return "check scenario files without running them"
}

// Usage implements subcommands.Command.Usage.
func (*Validate) Usage() string {
	return `validate <scenario.yaml>... - parse each scenario and apply its config overrides.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Validate) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Validate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	status := subcommands.ExitSuccess
	for _, path := range f.Args() {
		s, err := scenario.Load(path)
		if err == nil {
			_, err = s.ApplyOverrides(conf)
		}
		if err != nil {
			status = util.Errorf("%s: %v", path, err)
			continue
		}
		util.Infof("%s: ok (%d processes)", path, len(s.Processes))
	}
	return status
}
