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

// Package config provides basic infrastructure to set configuration settings
// for faultsim. Each setting that can be changed from the command line must
// be registered in flags.go.
package config

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"vmfault.dev/vmfault/pkg/hostarch"
	"vmfault.dev/vmfault/pkg/log"
	"vmfault.dev/vmfault/pkg/sentry/arch"
	"vmfault.dev/vmfault/pkg/sentry/kernel"
)

// Config holds configuration that is not part of a scenario.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name, and a toml tag with the same name.
//  3. Register a new flag in flags.go, with the same name and add a
//     description.
//  4. Add any necessary validation into validate().
type Config struct {
	// ConfigFile is the path of a TOML file with more settings. Flags set on
	// the command line take precedence over it.
	ConfigFile string `flag:"config" toml:"-"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// KernelBase is the first kernel virtual address and the top of the user
	// stack.
	KernelBase uint64 `flag:"kernel-base" toml:"kernel-base"`

	// MaxStack is the largest size the user stack may grow to.
	MaxStack uint64 `flag:"max-stack" toml:"max-stack"`

	// StackMargin is how far below the stack pointer an access may be and
	// still grow the stack.
	StackMargin uint64 `flag:"stack-margin" toml:"stack-margin"`

	// Frames is the number of physical frames.
	Frames uint `flag:"frames" toml:"frames"`

	// Evict enables page eviction when physical frames run out.
	Evict bool `flag:"evict" toml:"evict"`

	// SwapFile is the path of the swap file. Empty uses anonymous memory.
	SwapFile string `flag:"swap-file" toml:"swap-file"`

	// SwapSlots is the number of page-sized swap slots. Zero disables swap.
	SwapSlots uint `flag:"swap-slots" toml:"swap-slots"`

	// AtomicStackGrowth undoes a stack growth that fails partway.
	AtomicStackGrowth bool `flag:"atomic-stack-growth" toml:"atomic-stack-growth"`

	// FaultLogInterval limits how often fault diagnostics are logged.
	FaultLogInterval time.Duration `flag:"fault-log-interval" toml:"fault-log-interval"`
}

func (c *Config) validate() error {
	l := c.Layout()
	if err := l.Valid(); err != nil {
		return err
	}
	if c.Frames == 0 {
		return fmt.Errorf("frames must be positive")
	}
	if c.Frames > 1<<20 {
		return fmt.Errorf("frames %d exceeds the limit of %d", c.Frames, 1<<20)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.FaultLogInterval < 0 {
		return fmt.Errorf("fault-log-interval must not be negative, got %v", c.FaultLogInterval)
	}
	return nil
}

// Layout returns the address space layout described by c.
func (c *Config) Layout() arch.Layout {
	return arch.Layout{
		KernelBase:  hostarch.Addr(c.KernelBase),
		MaxStack:    c.MaxStack,
		StackMargin: c.StackMargin,
	}
}

// KernelArgs returns the arguments to initialize a kernel configured by c.
func (c *Config) KernelArgs(console io.Writer) kernel.InitKernelArgs {
	return kernel.InitKernelArgs{
		Layout:            c.Layout(),
		Frames:            uint32(c.Frames),
		Evict:             c.Evict,
		SwapPath:          c.SwapFile,
		SwapSlots:         uint32(c.SwapSlots),
		AtomicStackGrowth: c.AtomicStackGrowth,
		Console:           console,
		FaultLogInterval:  c.FaultLogInterval,
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// loadFile merges the settings in the TOML file at path into c.
func (c *Config) loadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("parsing config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %q: unknown keys %v", path, undecoded)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("\t%s (--%s): %v", f.Name, name, obj.Field(i).Interface())
	}
}
