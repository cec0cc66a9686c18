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
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/numaproj/streamcore/pkg/isb"
	"github.com/numaproj/streamcore/pkg/metrics"
)

// BarrierAligner blocks every channel which delivered the barrier of the current checkpoint until all channels
// delivered it. The blocked channels are not consumed, their elements stay in the transport.
type BarrierAligner struct {
	taskName      string
	blocker       isb.ChannelBlocker
	responder     Responder
	totalChannels int
	// currentCheckpointID is the newest checkpoint seen, whether it completed, is aligning, or got canceled.
	currentCheckpointID int64
	// channelsWithBarrier are the channels that delivered the barrier of currentCheckpointID, they are blocked.
	channelsWithBarrier []bool
	numBarriersReceived int
	closedChannels      []bool
	numClosedChannels   int
	alignmentStart      time.Time
	latestAlignment     time.Duration
	totalAlignment      time.Duration
	// aligningSince and reportedTotal mirror the alignment time for the metrics scraper, aligningSince is zero
	// while no alignment is in progress.
	aligningSince    *atomic.Time
	reportedTotal    *atomic.Duration
	unregisterMetric func()
	clock            clock.Clock
	alignmentTimeout func() time.Duration
	// timerLock guards timeoutTimer, Close may be called from another goroutine.
	timerLock    sync.Mutex
	timeoutTimer *clock.Timer
	requestAbort func(checkpointID int64, cause error)
	log          *zap.SugaredLogger
}

var _ BarrierHandler = (*BarrierAligner)(nil)

// NewBarrierAligner returns an exactly-once barrier handler blocking the channels of the given blocker.
func NewBarrierAligner(blocker isb.ChannelBlocker, responder Responder, opts ...Option) (*BarrierAligner, error) {
	if responder == nil {
		return nil, fmt.Errorf("failed to create barrier aligner: responder can not be nil")
	}
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	n := blocker.NumberOfChannels()
	h := &BarrierAligner{
		taskName:            o.taskName,
		blocker:             blocker,
		responder:           responder,
		totalChannels:       n,
		currentCheckpointID: -1,
		channelsWithBarrier: make([]bool, n),
		closedChannels:      make([]bool, n),
		clock:               o.clock,
		alignmentTimeout:    o.alignmentTimeout,
		aligningSince:       atomic.NewTime(time.Time{}),
		reportedTotal:       atomic.NewDuration(0),
		log:                 o.logger.With("task", o.taskName, "mode", ExactlyOnce),
	}
	h.unregisterMetric = metrics.RegisterAlignmentTime(o.taskName, h.scrapeAlignmentNanos)
	return h, nil
}

// ProcessBarrier handles a barrier received on the given channel.
func (h *BarrierAligner) ProcessBarrier(barrier *isb.CheckpointBarrier, channel int) error {
	barrierID := barrier.ID
	if h.numBarriersReceived > 0 {
		switch {
		case barrierID == h.currentCheckpointID:
			h.onBarrier(channel)
		case barrierID > h.currentCheckpointID:
			h.log.Warnw("Received checkpoint barrier before completing the current checkpoint, skipping current checkpoint",
				zap.Int64("checkpointID", barrierID), zap.Int64("currentCheckpointID", h.currentCheckpointID))
			subsumed := h.currentCheckpointID
			h.releaseBlocksAndResetBarriers()
			if err := h.notifyAbort(subsumed, ErrCheckpointSubsumed); err != nil {
				return err
			}
			h.beginNewAlignment(barrier, channel)
		default:
			h.ignoreStale(barrierID, channel)
			return nil
		}
	} else if barrierID > h.currentCheckpointID {
		h.beginNewAlignment(barrier, channel)
	} else {
		h.ignoreStale(barrierID, channel)
		return nil
	}

	if h.numBarriersReceived+h.numClosedChannels == h.totalChannels {
		h.log.Debugw("Received all barriers, triggering checkpoint", zap.Int64("checkpointID", barrierID))
		h.releaseBlocksAndResetBarriers()
		return h.notifyCheckpoint(barrier)
	}
	return nil
}

// ProcessCancellationBarrier releases the alignment of the canceled checkpoint without triggering it.
func (h *BarrierAligner) ProcessCancellationBarrier(marker *isb.CancelCheckpointMarker) error {
	barrierID := marker.CheckpointID
	if h.numBarriersReceived > 0 {
		switch {
		case barrierID == h.currentCheckpointID:
			h.log.Debugw("Checkpoint canceled by cancellation barrier", zap.Int64("checkpointID", barrierID))
			h.releaseBlocksAndResetBarriers()
			return h.notifyAbort(barrierID, ErrCheckpointCanceled)
		case barrierID > h.currentCheckpointID:
			h.log.Warnw("Received cancellation barrier for a newer checkpoint, skipping current checkpoint",
				zap.Int64("checkpointID", barrierID), zap.Int64("currentCheckpointID", h.currentCheckpointID))
			subsumed := h.currentCheckpointID
			h.releaseBlocksAndResetBarriers()
			if err := h.notifyAbort(subsumed, ErrCheckpointSubsumed); err != nil {
				return err
			}
			// later barriers of the canceled checkpoint are stale
			h.currentCheckpointID = barrierID
			return h.notifyAbort(barrierID, ErrCheckpointCanceled)
		default:
			return nil
		}
	}
	if barrierID > h.currentCheckpointID {
		h.currentCheckpointID = barrierID
		return h.notifyAbort(barrierID, ErrCheckpointCanceled)
	}
	return nil
}

// ProcessEndOfPartition counts the channel as closed. An alignment in progress can not complete anymore.
func (h *BarrierAligner) ProcessEndOfPartition(channel int) error {
	if !h.closedChannels[channel] {
		h.closedChannels[channel] = true
		h.numClosedChannels++
	}
	if h.numBarriersReceived > 0 {
		aborted := h.currentCheckpointID
		h.releaseBlocksAndResetBarriers()
		return h.notifyAbort(aborted, ErrInputEndOfStream)
	}
	return nil
}

// AbortCheckpoint aborts the alignment in progress if it belongs to checkpointID, or any alignment if the id is
// negative.
func (h *BarrierAligner) AbortCheckpoint(checkpointID int64, cause error) error {
	if h.numBarriersReceived == 0 {
		return nil
	}
	if checkpointID >= 0 && checkpointID != h.currentCheckpointID {
		return nil
	}
	aborted := h.currentCheckpointID
	h.log.Warnw("Aborting checkpoint alignment", zap.Int64("checkpointID", aborted), zap.Error(cause))
	h.releaseBlocksAndResetBarriers()
	return h.notifyAbort(aborted, cause)
}

// LatestCheckpointID returns the newest checkpoint id seen.
func (h *BarrierAligner) LatestCheckpointID() int64 {
	return h.currentCheckpointID
}

// IsAligning returns true while at least one channel is blocked.
func (h *BarrierAligner) IsAligning() bool {
	return h.numBarriersReceived > 0
}

// IsBlocked returns whether the channel delivered the barrier of the current alignment.
func (h *BarrierAligner) IsBlocked(channel int) bool {
	return h.channelsWithBarrier[channel]
}

// AlignmentDurationNanos returns the time spent aligning, including the alignment in progress.
func (h *BarrierAligner) AlignmentDurationNanos() int64 {
	total := h.totalAlignment
	if h.numBarriersReceived > 0 {
		total += h.clock.Since(h.alignmentStart)
	}
	return total.Nanoseconds()
}

// LatestAlignmentDurationNanos returns the duration of the last completed or released alignment.
func (h *BarrierAligner) LatestAlignmentDurationNanos() int64 {
	return h.latestAlignment.Nanoseconds()
}

// Close stops the timeout timer and the alignment time reporting.
func (h *BarrierAligner) Close() {
	h.stopTimeoutTimer()
	h.unregisterMetric()
}

// scrapeAlignmentNanos is AlignmentDurationNanos for other goroutines.
func (h *BarrierAligner) scrapeAlignmentNanos() int64 {
	total := h.reportedTotal.Load()
	if since := h.aligningSince.Load(); !since.IsZero() {
		total += h.clock.Since(since)
	}
	return total.Nanoseconds()
}

func (h *BarrierAligner) setAbortRequester(f func(checkpointID int64, cause error)) {
	h.requestAbort = f
}

func (h *BarrierAligner) beginNewAlignment(barrier *isb.CheckpointBarrier, channel int) {
	h.currentCheckpointID = barrier.ID
	h.alignmentStart = h.clock.Now()
	h.aligningSince.Store(h.alignmentStart)
	h.onBarrier(channel)
	h.log.Debugw("Starting stream alignment", zap.Int64("checkpointID", barrier.ID))
	if timeout := h.alignmentTimeout(); timeout > 0 && h.requestAbort != nil {
		checkpointID := barrier.ID
		requestAbort := h.requestAbort
		h.timerLock.Lock()
		h.timeoutTimer = h.clock.AfterFunc(timeout, func() {
			requestAbort(checkpointID, fmt.Errorf("%w after %v", ErrAlignmentTimeout, timeout))
		})
		h.timerLock.Unlock()
	}
}

func (h *BarrierAligner) onBarrier(channel int) {
	if h.channelsWithBarrier[channel] {
		return
	}
	h.channelsWithBarrier[channel] = true
	h.numBarriersReceived++
	h.blocker.SetBlocked(channel, true)
	h.log.Debugw("Received barrier from channel", zap.Int("channel", channel), zap.Int64("checkpointID", h.currentCheckpointID))
}

func (h *BarrierAligner) releaseBlocksAndResetBarriers() {
	for channel, blocked := range h.channelsWithBarrier {
		if blocked {
			h.blocker.SetBlocked(channel, false)
			h.channelsWithBarrier[channel] = false
		}
	}
	h.numBarriersReceived = 0
	h.stopTimeoutTimer()
	h.latestAlignment = h.clock.Since(h.alignmentStart)
	h.totalAlignment += h.latestAlignment
	h.reportedTotal.Store(h.totalAlignment)
	h.aligningSince.Store(time.Time{})
}

func (h *BarrierAligner) stopTimeoutTimer() {
	h.timerLock.Lock()
	defer h.timerLock.Unlock()
	if h.timeoutTimer != nil {
		h.timeoutTimer.Stop()
		h.timeoutTimer = nil
	}
}

func (h *BarrierAligner) ignoreStale(checkpointID int64, channel int) {
	metrics.StaleBarriersCount.WithLabelValues(h.taskName).Inc()
	h.log.Debugw("Ignoring stale barrier", zap.Int64("checkpointID", checkpointID),
		zap.Int64("currentCheckpointID", h.currentCheckpointID), zap.Int("channel", channel))
}

func (h *BarrierAligner) notifyCheckpoint(barrier *isb.CheckpointBarrier) error {
	metrics.CheckpointsTriggered.WithLabelValues(h.taskName, string(ExactlyOnce)).Inc()
	meta := CheckpointMetaData{CheckpointID: barrier.ID, Timestamp: barrier.Timestamp}
	cm := CheckpointMetrics{AlignmentDurationNanos: h.latestAlignment.Nanoseconds()}
	if err := h.responder.TriggerCheckpointOnBarrier(meta, cm); err != nil {
		return fmt.Errorf("failed to trigger checkpoint %d on barrier: %w", barrier.ID, err)
	}
	return nil
}

func (h *BarrierAligner) notifyAbort(checkpointID int64, cause error) error {
	metrics.CheckpointsAborted.WithLabelValues(h.taskName, abortReason(cause)).Inc()
	if err := h.responder.AbortCheckpointOnBarrier(checkpointID, cause); err != nil {
		return fmt.Errorf("failed to abort checkpoint %d on barrier: %w", checkpointID, err)
	}
	return nil
}
