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

/*
Package checkpoint reacts to the checkpoint barriers embedded in the input channels.

With ExactlyOnce, a channel which delivered the barrier of checkpoint c is blocked until every channel delivered it,
then the responder is asked to take the snapshot and all channels are released. A barrier of a newer checkpoint
subsumes the alignment in progress, barriers of older checkpoints are ignored. With AtLeastOnce the barriers are only
counted and no channel is ever blocked.
*/
package checkpoint

import (
	"github.com/numaproj/streamcore/pkg/isb"
)

// BarrierHandler processes the in-band checkpoint events of the channels. All methods are called from the
// processing goroutine.
type BarrierHandler interface {
	// ProcessBarrier handles a barrier received on the given channel.
	ProcessBarrier(barrier *isb.CheckpointBarrier, channel int) error
	// ProcessCancellationBarrier handles a cancellation marker.
	ProcessCancellationBarrier(marker *isb.CancelCheckpointMarker) error
	// ProcessEndOfPartition handles a channel which reached the end of stream.
	ProcessEndOfPartition(channel int) error
	// AbortCheckpoint aborts the pending checkpoint with the given id, or whatever is pending if the id is negative.
	AbortCheckpoint(checkpointID int64, cause error) error
	// LatestCheckpointID returns the id of the newest checkpoint seen, -1 if none.
	LatestCheckpointID() int64
	// IsAligning returns true while at least one channel is blocked.
	IsAligning() bool
	// AlignmentDurationNanos returns the cumulative time spent aligning.
	AlignmentDurationNanos() int64
	// Close releases timers.
	Close()

	setAbortRequester(func(checkpointID int64, cause error))
}
