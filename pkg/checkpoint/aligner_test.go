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
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/numaproj/streamcore/pkg/isb"
	"github.com/numaproj/streamcore/pkg/metrics"
)

type abortCall struct {
	checkpointID int64
	cause        error
}

// testResponder records the checkpoints it is asked to trigger and abort.
type testResponder struct {
	sync.Mutex
	triggered  []CheckpointMetaData
	cpMetrics  []CheckpointMetrics
	aborted    []abortCall
	triggerErr error
}

func (r *testResponder) TriggerCheckpointOnBarrier(meta CheckpointMetaData, m CheckpointMetrics) error {
	r.Lock()
	defer r.Unlock()
	r.triggered = append(r.triggered, meta)
	r.cpMetrics = append(r.cpMetrics, m)
	return r.triggerErr
}

func (r *testResponder) AbortCheckpointOnBarrier(checkpointID int64, cause error) error {
	r.Lock()
	defer r.Unlock()
	r.aborted = append(r.aborted, abortCall{checkpointID: checkpointID, cause: cause})
	return nil
}

func (r *testResponder) triggeredIDs() []int64 {
	r.Lock()
	defer r.Unlock()
	var ids []int64
	for _, m := range r.triggered {
		ids = append(ids, m.CheckpointID)
	}
	return ids
}

func (r *testResponder) abortedIDs() []int64 {
	r.Lock()
	defer r.Unlock()
	var ids []int64
	for _, a := range r.aborted {
		ids = append(ids, a.checkpointID)
	}
	return ids
}

// testBlocker records which channels are held back.
type testBlocker struct {
	blocked []bool
}

func newTestBlocker(n int) *testBlocker {
	return &testBlocker{blocked: make([]bool, n)}
}

func (b *testBlocker) SetBlocked(channel int, blocked bool) {
	b.blocked[channel] = blocked
}

func (b *testBlocker) NumberOfChannels() int {
	return len(b.blocked)
}

func newTestAligner(t *testing.T, n int, opts ...Option) (*BarrierAligner, *testBlocker, *testResponder) {
	blocker := newTestBlocker(n)
	responder := &testResponder{}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t).Sugar()), WithTaskName(t.Name())}, opts...)
	aligner, err := NewBarrierAligner(blocker, responder, opts...)
	require.NoError(t, err)
	t.Cleanup(aligner.Close)
	return aligner, blocker, responder
}

func barrier(id int64) *isb.CheckpointBarrier {
	return &isb.CheckpointBarrier{ID: id, Timestamp: id * 1000}
}

func TestNewBarrierAligner_NilResponder(t *testing.T) {
	_, err := NewBarrierAligner(newTestBlocker(1), nil)
	assert.Error(t, err)
}

func TestBarrierAligner_Alignment(t *testing.T) {
	aligner, blocker, responder := newTestAligner(t, 2)

	require.NoError(t, aligner.ProcessBarrier(barrier(5), 0))
	assert.Equal(t, []bool{true, false}, blocker.blocked)
	assert.True(t, aligner.IsAligning())
	assert.True(t, aligner.IsBlocked(0))
	assert.Empty(t, responder.triggeredIDs())

	require.NoError(t, aligner.ProcessBarrier(barrier(5), 1))
	assert.Equal(t, []bool{false, false}, blocker.blocked)
	assert.False(t, aligner.IsAligning())
	assert.Equal(t, []int64{5}, responder.triggeredIDs())
	assert.Equal(t, int64(5000), responder.triggered[0].Timestamp)

	// stale barriers are ignored
	require.NoError(t, aligner.ProcessBarrier(barrier(4), 0))
	require.NoError(t, aligner.ProcessBarrier(barrier(5), 1))
	assert.Equal(t, []bool{false, false}, blocker.blocked)
	assert.Equal(t, []int64{5}, responder.triggeredIDs())
	assert.Empty(t, responder.abortedIDs())
	assert.Equal(t, int64(5), aligner.LatestCheckpointID())
}

func TestBarrierAligner_Overtake(t *testing.T) {
	aligner, blocker, responder := newTestAligner(t, 2)

	require.NoError(t, aligner.ProcessBarrier(barrier(5), 0))
	require.NoError(t, aligner.ProcessBarrier(barrier(6), 0))
	assert.Equal(t, []int64{5}, responder.abortedIDs())
	assert.ErrorIs(t, responder.aborted[0].cause, ErrCheckpointSubsumed)
	assert.Empty(t, responder.triggeredIDs())
	assert.Equal(t, []bool{true, false}, blocker.blocked)
	assert.Equal(t, int64(6), aligner.LatestCheckpointID())

	// the late barrier of 5 is stale now
	require.NoError(t, aligner.ProcessBarrier(barrier(5), 1))
	assert.Equal(t, []bool{true, false}, blocker.blocked)

	require.NoError(t, aligner.ProcessBarrier(barrier(6), 1))
	assert.Equal(t, []int64{6}, responder.triggeredIDs())
	assert.Equal(t, []bool{false, false}, blocker.blocked)
}

func TestBarrierAligner_SingleChannel(t *testing.T) {
	aligner, blocker, responder := newTestAligner(t, 1)
	require.NoError(t, aligner.ProcessBarrier(barrier(1), 0))
	require.NoError(t, aligner.ProcessBarrier(barrier(2), 0))
	require.NoError(t, aligner.ProcessBarrier(barrier(2), 0))
	assert.Equal(t, []int64{1, 2}, responder.triggeredIDs())
	assert.Equal(t, []bool{false}, blocker.blocked)
}

func TestBarrierAligner_Cancellation(t *testing.T) {
	aligner, blocker, responder := newTestAligner(t, 3)

	// cancel the alignment in progress
	require.NoError(t, aligner.ProcessBarrier(barrier(1), 0))
	require.NoError(t, aligner.ProcessBarrier(barrier(1), 2))
	require.NoError(t, aligner.ProcessCancellationBarrier(&isb.CancelCheckpointMarker{CheckpointID: 1}))
	assert.Equal(t, []bool{false, false, false}, blocker.blocked)
	assert.Equal(t, []int64{1}, responder.abortedIDs())
	assert.ErrorIs(t, responder.aborted[0].cause, ErrCheckpointCanceled)
	// the remaining barrier of the canceled checkpoint must not start a new alignment
	require.NoError(t, aligner.ProcessBarrier(barrier(1), 1))
	assert.False(t, aligner.IsAligning())

	// cancel a checkpoint that has not been seen yet
	require.NoError(t, aligner.ProcessCancellationBarrier(&isb.CancelCheckpointMarker{CheckpointID: 2}))
	assert.Equal(t, []int64{1, 2}, responder.abortedIDs())
	require.NoError(t, aligner.ProcessBarrier(barrier(2), 0))
	assert.False(t, aligner.IsAligning())

	// a cancellation of a newer checkpoint subsumes the alignment in progress
	require.NoError(t, aligner.ProcessBarrier(barrier(3), 0))
	require.NoError(t, aligner.ProcessCancellationBarrier(&isb.CancelCheckpointMarker{CheckpointID: 4}))
	assert.Equal(t, []int64{1, 2, 3, 4}, responder.abortedIDs())
	assert.ErrorIs(t, responder.aborted[2].cause, ErrCheckpointSubsumed)
	assert.Equal(t, []bool{false, false, false}, blocker.blocked)

	// stale cancellation is ignored
	require.NoError(t, aligner.ProcessCancellationBarrier(&isb.CancelCheckpointMarker{CheckpointID: 3}))
	assert.Len(t, responder.abortedIDs(), 4)
	assert.Empty(t, responder.triggeredIDs())
}

func TestBarrierAligner_EndOfPartition(t *testing.T) {
	aligner, blocker, responder := newTestAligner(t, 2)
	require.NoError(t, aligner.ProcessBarrier(barrier(1), 0))
	require.NoError(t, aligner.ProcessEndOfPartition(1))
	assert.Equal(t, []int64{1}, responder.abortedIDs())
	assert.ErrorIs(t, responder.aborted[0].cause, ErrInputEndOfStream)
	assert.Equal(t, []bool{false, false}, blocker.blocked)

	// the finished channel no longer holds back later checkpoints
	require.NoError(t, aligner.ProcessBarrier(barrier(2), 0))
	assert.Equal(t, []int64{2}, responder.triggeredIDs())
	assert.Equal(t, []bool{false, false}, blocker.blocked)
}

func TestBarrierAligner_AbortCheckpoint(t *testing.T) {
	aligner, blocker, responder := newTestAligner(t, 2)
	// nothing in progress
	require.NoError(t, aligner.AbortCheckpoint(-1, ErrAlignmentTimeout))
	assert.Empty(t, responder.abortedIDs())

	require.NoError(t, aligner.ProcessBarrier(barrier(7), 1))
	// a request for another checkpoint is outdated
	require.NoError(t, aligner.AbortCheckpoint(6, ErrAlignmentTimeout))
	assert.True(t, aligner.IsAligning())

	require.NoError(t, aligner.AbortCheckpoint(7, ErrAlignmentTimeout))
	assert.False(t, aligner.IsAligning())
	assert.Equal(t, []bool{false, false}, blocker.blocked)
	assert.Equal(t, []int64{7}, responder.abortedIDs())
}

func TestBarrierAligner_AlignmentDuration(t *testing.T) {
	mock := clock.NewMock()
	aligner, _, responder := newTestAligner(t, 2, WithClock(mock))
	assert.Equal(t, int64(0), aligner.AlignmentDurationNanos())

	require.NoError(t, aligner.ProcessBarrier(barrier(1), 0))
	mock.Add(2 * time.Second)
	// the alignment in progress is accounted for
	assert.Equal(t, (2 * time.Second).Nanoseconds(), aligner.AlignmentDurationNanos())
	require.NoError(t, aligner.ProcessBarrier(barrier(1), 1))
	assert.Equal(t, (2 * time.Second).Nanoseconds(), aligner.LatestAlignmentDurationNanos())
	assert.Equal(t, (2 * time.Second).Nanoseconds(), responder.cpMetrics[0].AlignmentDurationNanos)

	// time outside of an alignment doesn't count
	mock.Add(time.Minute)
	require.NoError(t, aligner.ProcessBarrier(barrier(2), 1))
	mock.Add(3 * time.Second)
	require.NoError(t, aligner.ProcessBarrier(barrier(2), 0))
	assert.Equal(t, (5 * time.Second).Nanoseconds(), aligner.AlignmentDurationNanos())
	assert.Equal(t, (3 * time.Second).Nanoseconds(), aligner.LatestAlignmentDurationNanos())
}

// scrapedAlignmentTime returns the alignment time of the task as seen by the default gatherer.
func scrapedAlignmentTime(t *testing.T, task string) (float64, bool) {
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "checkpoint_alignment_time_ns" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == metrics.LabelTask && l.GetValue() == task {
					return m.GetGauge().GetValue(), true
				}
			}
		}
	}
	return 0, false
}

func TestBarrierAligner_AlignmentTimeMetric(t *testing.T) {
	mock := clock.NewMock()
	aligner, _, _ := newTestAligner(t, 2, WithClock(mock))
	value, ok := scrapedAlignmentTime(t, t.Name())
	require.True(t, ok)
	assert.Equal(t, float64(0), value)

	// an alignment which never completes shows up on the gauge
	require.NoError(t, aligner.ProcessBarrier(barrier(1), 0))
	mock.Add(4 * time.Second)
	value, _ = scrapedAlignmentTime(t, t.Name())
	assert.Equal(t, float64((4 * time.Second).Nanoseconds()), value)

	require.NoError(t, aligner.ProcessBarrier(barrier(1), 1))
	mock.Add(time.Minute)
	value, _ = scrapedAlignmentTime(t, t.Name())
	assert.Equal(t, float64((4 * time.Second).Nanoseconds()), value)

	aligner.Close()
	_, ok = scrapedAlignmentTime(t, t.Name())
	assert.False(t, ok)
}

func TestBarrierAligner_TriggerError(t *testing.T) {
	aligner, _, responder := newTestAligner(t, 1)
	responder.triggerErr = errors.New("snapshot failed")
	err := aligner.ProcessBarrier(barrier(1), 0)
	assert.ErrorContains(t, err, "failed to trigger checkpoint 1 on barrier: snapshot failed")
}
