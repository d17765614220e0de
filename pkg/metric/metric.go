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

// Package metric provides primitives for collecting metrics.
//
// Metrics are diagnostic only. Nothing in the fault path may read a metric to
// make a decision.
package metric

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"vmfault.dev/vmfault/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that the metric name does not start with '/'
	// or contains characters other than [a-z0-9_/].
	ErrInvalidName = errors.New("metric name is invalid")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("metric field does not define any allowed values")

	// ErrTooManyFields indicates that more than one field was given. Only a
	// single breakdown dimension is supported.
	ErrTooManyFields = errors.New("metric supports at most one field")
)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues ...string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored, optionally broken down by a single Field.
type Uint64Metric struct {
	name        string
	description string
	cumulative  bool

	// field is nil for metrics without a breakdown.
	field *Field

	// values holds one counter per allowed field value, or a single counter.
	values []atomic.Uint64
}

// registry holds all registered metrics.
var registry = struct {
	mu      sync.Mutex
	metrics map[string]*Uint64Metric
}{
	metrics: make(map[string]*Uint64Metric),
}

func validName(name string) bool {
	if !strings.HasPrefix(name, "/") || len(name) < 2 {
		return false
	}
	for _, c := range name {
		if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '_' && c != '/' {
			return false
		}
	}
	return true
}

// NewUint64Metric creates and registers a new metric with the given name.
// Cumulative metrics only ever increase.
func NewUint64Metric(name string, cumulative bool, description string, fields ...Field) (*Uint64Metric, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	m := &Uint64Metric{
		name:        name,
		description: description,
		cumulative:  cumulative,
	}
	switch len(fields) {
	case 0:
		m.values = make([]atomic.Uint64, 1)
	case 1:
		if len(fields[0].allowedValues) == 0 {
			return nil, ErrFieldHasNoAllowedValues
		}
		m.field = &fields[0]
		m.values = make([]atomic.Uint64, len(fields[0].allowedValues))
	default:
		return nil, ErrTooManyFields
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.metrics[name]; ok {
		return nil, ErrNameInUse
	}
	registry.metrics[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns an
// error.
func MustCreateNewUint64Metric(name string, cumulative bool, description string, fields ...Field) *Uint64Metric {
	m, err := NewUint64Metric(name, cumulative, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// key maps field values to an index in m.values. It panics on a field value
// that was not registered, as that is a programming error.
func (m *Uint64Metric) key(fieldValues []string) int {
	if m.field == nil {
		if len(fieldValues) != 0 {
			panic(fmt.Sprintf("metric %s has no fields, got %v", m.name, fieldValues))
		}
		return 0
	}
	if len(fieldValues) != 1 {
		panic(fmt.Sprintf("metric %s needs one field value, got %v", m.name, fieldValues))
	}
	for i, v := range m.field.allowedValues {
		if v == fieldValues[0] {
			return i
		}
	}
	panic(fmt.Sprintf("metric %s: invalid value %q for field %s", m.name, fieldValues[0], m.field.name))
}

// Value returns the current value of the metric for the given set of fields.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	return m.values[m.key(fieldValues)].Load()
}

// Increment increments the metric field by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.values[m.key(fieldValues)].Add(1)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.values[m.key(fieldValues)].Add(v)
}

// Name returns the metric name.
func (m *Uint64Metric) Name() string {
	return m.name
}

// all returns the registered metrics sorted by name.
func all() []*Uint64Metric {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	ms := make([]*Uint64Metric, 0, len(registry.metrics))
	for _, m := range registry.metrics {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].name < ms[j].name })
	return ms
}

// Snapshot returns the current value of every registered metric. Metrics with
// a field are reported once per allowed value, keyed "name{value}".
func Snapshot() map[string]uint64 {
	values := make(map[string]uint64)
	for _, m := range all() {
		if m.field == nil {
			values[m.name] = m.Value()
			continue
		}
		for _, v := range m.field.allowedValues {
			values[fmt.Sprintf("%s{%s}", m.name, v)] = m.Value(v)
		}
	}
	return values
}
