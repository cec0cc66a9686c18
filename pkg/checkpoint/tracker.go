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
	"fmt"

	"go.uber.org/zap"

	"github.com/numaproj/streamcore/pkg/isb"
	"github.com/numaproj/streamcore/pkg/metrics"
)

// maxConcurrentCheckpoints bounds the number of checkpoints tracked at the same time, the oldest ones are dropped.
const maxConcurrentCheckpoints = 50

type pendingCheckpoint struct {
	checkpointID int64
	barrierCount int
	aborted      bool
}

// BarrierTracker is the at-least-once barrier handler. It never blocks a channel, records after a barrier may be
// processed before the checkpoint is triggered.
type BarrierTracker struct {
	taskName      string
	responder     Responder
	totalChannels int
	// pendingCheckpoints is ordered by checkpoint id, oldest first.
	pendingCheckpoints        []*pendingCheckpoint
	latestPendingCheckpointID int64
	closedChannels            []bool
	numClosedChannels         int
	log                       *zap.SugaredLogger
}

var _ BarrierHandler = (*BarrierTracker)(nil)

// NewBarrierTracker returns an at-least-once barrier handler for numberOfChannels channels.
func NewBarrierTracker(numberOfChannels int, responder Responder, opts ...Option) (*BarrierTracker, error) {
	if responder == nil {
		return nil, fmt.Errorf("failed to create barrier tracker: responder can not be nil")
	}
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return &BarrierTracker{
		taskName:                  o.taskName,
		responder:                 responder,
		totalChannels:             numberOfChannels,
		latestPendingCheckpointID: -1,
		closedChannels:            make([]bool, numberOfChannels),
		log:                       o.logger.With("task", o.taskName, "mode", AtLeastOnce),
	}, nil
}

func (t *BarrierTracker) liveChannels() int {
	return t.totalChannels - t.numClosedChannels
}

// ProcessBarrier counts the barrier and triggers the checkpoint once every live channel delivered it.
func (t *BarrierTracker) ProcessBarrier(barrier *isb.CheckpointBarrier, channel int) error {
	barrierID := barrier.ID
	if t.liveChannels() <= 1 {
		if barrierID > t.latestPendingCheckpointID {
			t.latestPendingCheckpointID = barrierID
			t.pendingCheckpoints = nil
			return t.notifyCheckpoint(barrier)
		}
		return nil
	}

	for idx, pending := range t.pendingCheckpoints {
		if pending.checkpointID != barrierID {
			continue
		}
		pending.barrierCount++
		if pending.barrierCount >= t.liveChannels() {
			// the checkpoint is complete, it subsumes all older pending checkpoints
			t.pendingCheckpoints = t.pendingCheckpoints[idx+1:]
			if !pending.aborted {
				t.log.Debugw("Received all barriers for checkpoint", zap.Int64("checkpointID", barrierID))
				return t.notifyCheckpoint(barrier)
			}
		}
		return nil
	}

	if barrierID > t.latestPendingCheckpointID {
		t.latestPendingCheckpointID = barrierID
		t.pendingCheckpoints = append(t.pendingCheckpoints, &pendingCheckpoint{checkpointID: barrierID, barrierCount: 1})
		if len(t.pendingCheckpoints) > maxConcurrentCheckpoints {
			t.pendingCheckpoints = t.pendingCheckpoints[1:]
		}
		return nil
	}
	// either a stale barrier or the barrier of a checkpoint which has been subsumed already
	metrics.StaleBarriersCount.WithLabelValues(t.taskName).Inc()
	t.log.Debugw("Ignoring stale barrier", zap.Int64("checkpointID", barrierID), zap.Int("channel", channel))
	return nil
}

// ProcessCancellationBarrier aborts the checkpoint, older pending checkpoints are dropped.
func (t *BarrierTracker) ProcessCancellationBarrier(marker *isb.CancelCheckpointMarker) error {
	barrierID := marker.CheckpointID
	if t.liveChannels() <= 1 {
		if barrierID > t.latestPendingCheckpointID {
			t.latestPendingCheckpointID = barrierID
		}
		return t.notifyAbort(barrierID, ErrCheckpointCanceled)
	}

	for len(t.pendingCheckpoints) > 0 && t.pendingCheckpoints[0].checkpointID < barrierID {
		t.pendingCheckpoints = t.pendingCheckpoints[1:]
	}
	if len(t.pendingCheckpoints) > 0 && t.pendingCheckpoints[0].checkpointID == barrierID {
		first := t.pendingCheckpoints[0]
		if !first.aborted {
			first.aborted = true
			return t.notifyAbort(barrierID, ErrCheckpointCanceled)
		}
		return nil
	}
	if barrierID > t.latestPendingCheckpointID {
		t.latestPendingCheckpointID = barrierID
		// keep tracking the remaining barriers so they are not mistaken for a new checkpoint
		t.pendingCheckpoints = append(t.pendingCheckpoints, &pendingCheckpoint{checkpointID: barrierID, aborted: true})
		return t.notifyAbort(barrierID, ErrCheckpointCanceled)
	}
	return nil
}

// ProcessEndOfPartition counts the channel as closed and completes the pending checkpoints which now have all the
// barriers of the remaining channels.
func (t *BarrierTracker) ProcessEndOfPartition(channel int) error {
	if t.closedChannels[channel] {
		return nil
	}
	t.closedChannels[channel] = true
	t.numClosedChannels++
	for idx := len(t.pendingCheckpoints) - 1; idx >= 0; idx-- {
		pending := t.pendingCheckpoints[idx]
		if pending.barrierCount >= t.liveChannels() && t.liveChannels() > 0 {
			t.pendingCheckpoints = t.pendingCheckpoints[idx+1:]
			if !pending.aborted {
				return t.notifyCheckpoint(&isb.CheckpointBarrier{ID: pending.checkpointID})
			}
			return nil
		}
	}
	return nil
}

// AbortCheckpoint marks the pending checkpoint as aborted.
func (t *BarrierTracker) AbortCheckpoint(checkpointID int64, cause error) error {
	for _, pending := range t.pendingCheckpoints {
		if (checkpointID < 0 || pending.checkpointID == checkpointID) && !pending.aborted {
			pending.aborted = true
			if err := t.notifyAbort(pending.checkpointID, cause); err != nil {
				return err
			}
		}
	}
	return nil
}

// LatestCheckpointID returns the newest checkpoint id seen.
func (t *BarrierTracker) LatestCheckpointID() int64 {
	return t.latestPendingCheckpointID
}

// IsAligning is always false, the tracker never blocks.
func (t *BarrierTracker) IsAligning() bool {
	return false
}

// AlignmentDurationNanos is always zero.
func (t *BarrierTracker) AlignmentDurationNanos() int64 {
	return 0
}

// Close does nothing.
func (t *BarrierTracker) Close() {}

func (t *BarrierTracker) setAbortRequester(func(checkpointID int64, cause error)) {}

func (t *BarrierTracker) notifyCheckpoint(barrier *isb.CheckpointBarrier) error {
	metrics.CheckpointsTriggered.WithLabelValues(t.taskName, string(AtLeastOnce)).Inc()
	meta := CheckpointMetaData{CheckpointID: barrier.ID, Timestamp: barrier.Timestamp}
	if err := t.responder.TriggerCheckpointOnBarrier(meta, CheckpointMetrics{}); err != nil {
		return fmt.Errorf("failed to trigger checkpoint %d on barrier: %w", barrier.ID, err)
	}
	return nil
}

func (t *BarrierTracker) notifyAbort(checkpointID int64, cause error) error {
	metrics.CheckpointsAborted.WithLabelValues(t.taskName, abortReason(cause)).Inc()
	if err := t.responder.AbortCheckpointOnBarrier(checkpointID, cause); err != nil {
		return fmt.Errorf("failed to abort checkpoint %d on barrier: %w", checkpointID, err)
	}
	return nil
}
