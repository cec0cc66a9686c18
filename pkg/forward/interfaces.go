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
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/numaproj/streamcore/pkg/isb"
)

// MetricGroup gives access to the metrics of an operator.
type MetricGroup interface {
	RecordsInCounter() (prometheus.Counter, error)
}

// OneInputOperator is the user processing stage. The processor calls it while holding the shared lock, so its
// methods are never called concurrently with each other or with a timer callback.
type OneInputOperator interface {
	// SetKeyContextElement is called before ProcessElement for every record.
	SetKeyContextElement(record *isb.Record) error
	ProcessElement(record *isb.Record) error
	ProcessWatermark(wm isb.Watermark) error
	ProcessLatencyMarker(marker *isb.LatencyMarker) error
	// EndInput is called once, after every channel of the input reached the end of stream.
	EndInput(inputIdx int) error
	GetMetricGroup() MetricGroup
}

// StreamStatusMaintainer tracks the status of the whole task.
type StreamStatusMaintainer interface {
	ToggleStreamStatus(status isb.StreamStatus)
}

// InputProcessor processes one element of the input per call.
type InputProcessor interface {
	// ProcessInput returns false once the input is exhausted.
	ProcessInput(ctx context.Context) (bool, error)
	Close() error
}
