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

package isb

import (
	"fmt"
	"math"
)

// ElementKind represents the kind of element travelling on a channel.
type ElementKind int16

const (
	KindRecord                 ElementKind = iota + 1 // user data
	KindWatermark                                     // event time progress
	KindStreamStatus                                  // active/idle toggle
	KindLatencyMarker                                 // diagnostic latency probe
	KindCheckpointBarrier                             // checkpoint delimiter
	KindCancelCheckpointMarker                        // checkpoint cancellation
	KindEndOfPartition                                // the channel is exhausted
)

func (k ElementKind) String() string {
	switch k {
	case KindRecord:
		return "Record"
	case KindWatermark:
		return "Watermark"
	case KindStreamStatus:
		return "StreamStatus"
	case KindLatencyMarker:
		return "LatencyMarker"
	case KindCheckpointBarrier:
		return "CheckpointBarrier"
	case KindCancelCheckpointMarker:
		return "CancelCheckpointMarker"
	case KindEndOfPartition:
		return "EndOfPartition"
	default:
		return fmt.Sprintf("Unknown(%d)", int16(k))
	}
}

// Element is a single item read from a channel. Exactly one of the concrete
// types below is behind every Element, and an element is never mutated after
// it has been written to a channel.
type Element interface {
	Kind() ElementKind
}

// Record carries user data.
type Record struct {
	// Key is used by the processing stage to select the keyed state.
	Key   string
	Value interface{}
	// Timestamp is the event time of the record, only meaningful when HasTimestamp is set.
	Timestamp    int64
	HasTimestamp bool
}

func (r *Record) Kind() ElementKind { return KindRecord }

func (r *Record) String() string {
	if r.HasTimestamp {
		return fmt.Sprintf("Record{key:%s value:%v ts:%d}", r.Key, r.Value, r.Timestamp)
	}
	return fmt.Sprintf("Record{key:%s value:%v}", r.Key, r.Value)
}

const (
	// MinWatermark is the watermark of a channel that hasn't reported anything yet. It is never emitted downstream.
	MinWatermark = int64(math.MinInt64)
	// MaxWatermark signals the end of event time.
	MaxWatermark = int64(math.MaxInt64)
)

// Watermark asserts that no record with a timestamp lower than or equal to Timestamp will follow on the same channel.
type Watermark struct {
	Timestamp int64
}

func (w Watermark) Kind() ElementKind { return KindWatermark }

func (w Watermark) String() string {
	return fmt.Sprintf("Watermark@%d", w.Timestamp)
}

// StreamStatus tells whether a channel is expected to produce more data.
type StreamStatus int8

const (
	StatusActive StreamStatus = iota
	StatusIdle
)

func (s StreamStatus) Kind() ElementKind { return KindStreamStatus }

// IsActive returns true for StatusActive.
func (s StreamStatus) IsActive() bool { return s == StatusActive }

// IsIdle returns true for StatusIdle.
func (s StreamStatus) IsIdle() bool { return s == StatusIdle }

func (s StreamStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusIdle:
		return "IDLE"
	default:
		return "UNKNOWN"
	}
}

// LatencyMarker is injected at the sources to measure end-to-end latency. It is not user data.
type LatencyMarker struct {
	// MarkedTime is the wall clock time, in milliseconds, at which the marker was created.
	MarkedTime   int64
	OperatorID   string
	SubtaskIndex int
}

func (m *LatencyMarker) Kind() ElementKind { return KindLatencyMarker }

// CheckpointBarrier delimits the records that belong to checkpoint ID from the ones that follow it.
type CheckpointBarrier struct {
	ID        int64
	Timestamp int64
}

func (b *CheckpointBarrier) Kind() ElementKind { return KindCheckpointBarrier }

func (b *CheckpointBarrier) String() string {
	return fmt.Sprintf("CheckpointBarrier{id:%d ts:%d}", b.ID, b.Timestamp)
}

// CancelCheckpointMarker tells the downstream tasks that checkpoint CheckpointID has been abandoned upstream.
type CancelCheckpointMarker struct {
	CheckpointID int64
}

func (m *CancelCheckpointMarker) Kind() ElementKind { return KindCancelCheckpointMarker }

// EndOfPartition is produced by the input gate once a channel reports that it is exhausted.
type EndOfPartition struct{}

func (e *EndOfPartition) Kind() ElementKind { return KindEndOfPartition }

// UnspecifiedChannel is returned as the last channel before anything has been read.
const UnspecifiedChannel = -1

// BufferOrEvent is an element together with the channel that produced it.
type BufferOrEvent struct {
	Element Element
	Channel int
}

// IsEvent returns true if the element is an in-band control event rather than a stream element for the operator.
func (b *BufferOrEvent) IsEvent() bool {
	switch b.Element.Kind() {
	case KindCheckpointBarrier, KindCancelCheckpointMarker, KindEndOfPartition:
		return true
	default:
		return false
	}
}
