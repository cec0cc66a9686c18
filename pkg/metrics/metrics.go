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

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelTask   = "task"
	LabelMode   = "mode"
	LabelReason = "reason"
)

// Input processor metrics
var (
	// RecordsInCount is the number of records handed to the processing stage.
	RecordsInCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "input",
		Name:      "records_in_total",
		Help:      "Total number of records processed by the operator",
	}, []string{LabelTask})

	// InputWatermark is the last watermark forwarded to the processing stage.
	InputWatermark = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "input",
		Name:      "current_watermark",
		Help:      "Current input watermark of the operator in milliseconds",
	}, []string{LabelTask})

	// UnsupportedElementCount is the number of elements of an unknown kind, every one of them fails the task.
	UnsupportedElementCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "input",
		Name:      "unsupported_element_total",
		Help:      "Total number of elements of an unsupported kind",
	}, []string{LabelTask})
)

// Checkpoint alignment metrics
var (
	// CheckpointsTriggered is the number of checkpoints triggered on barriers.
	CheckpointsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "checkpoint",
		Name:      "triggered_total",
		Help:      "Total number of checkpoints triggered on barriers",
	}, []string{LabelTask, LabelMode})

	// CheckpointsAborted is the number of checkpoints aborted during alignment.
	CheckpointsAborted = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "checkpoint",
		Name:      "aborted_total",
		Help:      "Total number of checkpoints aborted on barriers",
	}, []string{LabelTask, LabelReason})

	// StaleBarriersCount is the number of barriers ignored because a newer checkpoint is already tracked.
	StaleBarriersCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "checkpoint",
		Name:      "stale_barrier_total",
		Help:      "Total number of ignored stale barriers",
	}, []string{LabelTask})
)

// alignmentTime reports the cumulative checkpoint alignment time of every registered task, including an alignment
// in progress. The values are read at scrape time.
var alignmentTime = &funcGaugeCollector{
	desc: prometheus.NewDesc(prometheus.BuildFQName("", "checkpoint", "alignment_time_ns"),
		"Cumulative checkpoint alignment duration in nanoseconds", []string{LabelTask}, nil),
	funcs: make(map[string]*func() int64),
}

func init() {
	prometheus.MustRegister(alignmentTime)
}

// RegisterAlignmentTime reports f as the alignment time of the task until the returned function is called.
// f is called from the scraping goroutine. A later registration of the same task replaces the previous one.
func RegisterAlignmentTime(task string, f func() int64) (unregister func()) {
	return alignmentTime.register(task, f)
}

type funcGaugeCollector struct {
	desc  *prometheus.Desc
	lock  sync.RWMutex
	funcs map[string]*func() int64
}

var _ prometheus.Collector = (*funcGaugeCollector)(nil)

func (c *funcGaugeCollector) register(label string, f func() int64) func() {
	entry := &f
	c.lock.Lock()
	c.funcs[label] = entry
	c.lock.Unlock()
	return func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		if c.funcs[label] == entry {
			delete(c.funcs, label)
		}
	}
}

func (c *funcGaugeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *funcGaugeCollector) Collect(ch chan<- prometheus.Metric) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	for label, f := range c.funcs {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64((*f)()), label)
	}
}
