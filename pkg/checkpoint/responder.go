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

package checkpoint

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCheckpointSubsumed is the abort cause when a barrier of a newer checkpoint arrives before the alignment of the
	// current one completed.
	ErrCheckpointSubsumed = errors.New("checkpoint subsumed by a newer checkpoint")
	// ErrCheckpointCanceled is the abort cause when a cancellation marker was received.
	ErrCheckpointCanceled = errors.New("checkpoint canceled by cancellation barrier")
	// ErrAlignmentTimeout is the abort cause when the alignment took longer than the configured timeout.
	ErrAlignmentTimeout = errors.New("checkpoint alignment timed out")
	// ErrInputEndOfStream is the abort cause when a channel finished while the alignment was in progress.
	ErrInputEndOfStream = errors.New("checkpoint declined, input reached end of stream during alignment")
)

// CheckpointMetaData describes a checkpoint to be taken.
type CheckpointMetaData struct {
	CheckpointID int64
	// Timestamp is the time the checkpoint was started by the coordinator.
	Timestamp int64
}

// CheckpointMetrics carries the alignment statistics of a checkpoint.
type CheckpointMetrics struct {
	AlignmentDurationNanos int64
}

// Responder is the task which reacts to aligned barriers. TriggerCheckpointOnBarrier is called on the processing
// goroutine before any element after the barrier is handed out, so the task can snapshot its state.
type Responder interface {
	TriggerCheckpointOnBarrier(meta CheckpointMetaData, metrics CheckpointMetrics) error
	AbortCheckpointOnBarrier(checkpointID int64, cause error) error
}

// CheckpointingMode selects how barriers are handled.
type CheckpointingMode string

const (
	// ExactlyOnce blocks the channels which delivered a barrier until all channels delivered it.
	ExactlyOnce CheckpointingMode = "exactly-once"
	// AtLeastOnce only tracks barriers and never blocks a channel.
	AtLeastOnce CheckpointingMode = "at-least-once"
)

// ParseCheckpointingMode converts a configuration string to a CheckpointingMode.
func ParseCheckpointingMode(s string) (CheckpointingMode, error) {
	switch CheckpointingMode(strings.ToLower(strings.TrimSpace(s))) {
	case ExactlyOnce, "":
		return ExactlyOnce, nil
	case AtLeastOnce:
		return AtLeastOnce, nil
	default:
		return "", fmt.Errorf("unsupported checkpointing mode %q", s)
	}
}

// abortReason returns a metric label for an abort cause.
func abortReason(cause error) string {
	switch {
	case errors.Is(cause, ErrCheckpointSubsumed):
		return "subsumed"
	case errors.Is(cause, ErrCheckpointCanceled):
		return "canceled"
	case errors.Is(cause, ErrAlignmentTimeout):
		return "timeout"
	case errors.Is(cause, ErrInputEndOfStream):
		return "end_of_stream"
	default:
		return "other"
	}
}
