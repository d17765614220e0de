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

package metric

import (
	"fmt"
	"io"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// prometheusPrefix is prepended to every exported metric name.
const prometheusPrefix = "vmfault"

// prometheusName converts "/mm/page_faults" to "vmfault_mm_page_faults".
func prometheusName(name string) string {
	return prometheusPrefix + strings.ReplaceAll(name, "/", "_")
}

func ptr[T any](v T) *T {
	return &v
}

// toMetricFamily builds the exposition-format representation of m.
func (m *Uint64Metric) toMetricFamily() *dto.MetricFamily {
	typ := dto.MetricType_GAUGE
	if m.cumulative {
		typ = dto.MetricType_COUNTER
	}
	mf := &dto.MetricFamily{
		Name: ptr(prometheusName(m.name)),
		Help: ptr(m.description),
		Type: &typ,
	}
	sample := func(v uint64, labels []*dto.LabelPair) *dto.Metric {
		metric := &dto.Metric{Label: labels}
		if m.cumulative {
			metric.Counter = &dto.Counter{Value: ptr(float64(v))}
		} else {
			metric.Gauge = &dto.Gauge{Value: ptr(float64(v))}
		}
		return metric
	}
	if m.field == nil {
		mf.Metric = append(mf.Metric, sample(m.Value(), nil))
		return mf
	}
	for _, v := range m.field.allowedValues {
		labels := []*dto.LabelPair{{Name: ptr(m.field.name), Value: ptr(v)}}
		mf.Metric = append(mf.Metric, sample(m.Value(v), labels))
	}
	return mf
}

// WritePrometheus writes every registered metric to w in the Prometheus text
// exposition format.
func WritePrometheus(w io.Writer) error {
	for _, m := range all() {
		if _, err := expfmt.MetricFamilyToText(w, m.toMetricFamily()); err != nil {
			return fmt.Errorf("writing metric %s: %w", m.name, err)
		}
	}
	return nil
}
