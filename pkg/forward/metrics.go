/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package forward

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	metricspkg "github.com/numaproj/streamcore/pkg/metrics"
)

// dispatchedElementsCount is the number of elements dispatched by the processor per kind
var dispatchedElementsCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "processor",
	Name:      "dispatched_elements_total",
	Help:      "Total number of stream elements dispatched by the input processor",
}, []string{metricspkg.LabelTask, "kind"})

// processorErrorCount is the number of errors which stopped the processor
var processorErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Subsystem: "processor",
	Name:      "error_total",
	Help:      "Total number of input processor errors",
}, []string{metricspkg.LabelTask})

// TaskMetricGroup serves the records in counter of a task from the registered collectors.
type TaskMetricGroup struct {
	TaskName string
}

// RecordsInCounter returns the task's records in counter.
func (g TaskMetricGroup) RecordsInCounter() (prometheus.Counter, error) {
	return metricspkg.RecordsInCount.GetMetricWithLabelValues(g.TaskName)
}

// newLocalRecordsInCounter is used when the operator can't provide a counter, it is not registered anywhere.
func newLocalRecordsInCounter(taskName string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem:   "input",
		Name:        "records_in_local_total",
		Help:        "Records processed by the operator, local fallback",
		ConstLabels: prometheus.Labels{metricspkg.LabelTask: taskName},
	})
}
