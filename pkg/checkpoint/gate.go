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
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/numaproj/streamcore/pkg/isb"
)

// Input is the multiplexed input the gate reads from.
type Input interface {
	isb.ChannelBlocker
	PollNext() (*isb.BufferOrEvent, error)
	LastChannel() int
	AvailableOr(ctx context.Context, wake <-chan struct{}) <-chan struct{}
	IsFinished() bool
	Close() error
}

type abortRequest struct {
	checkpointID int64
	cause        error
}

// CheckpointedInputGate hands out the stream elements of the input and feeds the checkpoint events to the barrier
// handler. Barriers and cancellation markers never leave the gate, EndOfPartition events do.
type CheckpointedInputGate struct {
	input   Input
	handler BarrierHandler
	// abortRequests come from other goroutines (alignment timeout, checkpoint coordinator), they are applied on the
	// next poll.
	lock          sync.Mutex
	abortRequests []abortRequest
	// wake is closed and replaced on every abort request, so every pending wait sees it.
	wake chan struct{}
	log  *zap.SugaredLogger
}

// NewCheckpointedInputGate creates the barrier handler for the configured mode and wraps the input with it.
func NewCheckpointedInputGate(input Input, responder Responder, opts ...Option) (*CheckpointedInputGate, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	var handler BarrierHandler
	var err error
	switch o.mode {
	case AtLeastOnce:
		handler, err = NewBarrierTracker(input.NumberOfChannels(), responder, opts...)
	default:
		handler, err = NewBarrierAligner(input, responder, opts...)
	}
	if err != nil {
		return nil, err
	}
	g := &CheckpointedInputGate{
		input:   input,
		handler: handler,
		wake:    make(chan struct{}),
		log:     o.logger.With("task", o.taskName),
	}
	handler.setAbortRequester(g.requestAbort)
	g.log.Infow("Created checkpointed input gate", zap.String("mode", string(o.mode)), zap.Int("channels", input.NumberOfChannels()))
	return g, nil
}

// PollNext returns the next stream element or EndOfPartition event, or nil if nothing is ready. Checkpoint events
// are handled on the way, which may trigger or abort a checkpoint before the next element is returned.
func (g *CheckpointedInputGate) PollNext() (*isb.BufferOrEvent, error) {
	for {
		if err := g.processAbortRequests(); err != nil {
			return nil, err
		}
		boe, err := g.input.PollNext()
		if err != nil || boe == nil {
			return nil, err
		}
		switch e := boe.Element.(type) {
		case *isb.CheckpointBarrier:
			if err := g.handler.ProcessBarrier(e, boe.Channel); err != nil {
				return nil, err
			}
		case *isb.CancelCheckpointMarker:
			if err := g.handler.ProcessCancellationBarrier(e); err != nil {
				return nil, err
			}
		case *isb.EndOfPartition:
			if err := g.handler.ProcessEndOfPartition(boe.Channel); err != nil {
				return nil, err
			}
			return boe, nil
		default:
			return boe, nil
		}
	}
}

// LastChannel returns the channel of the last element returned by the input.
func (g *CheckpointedInputGate) LastChannel() int {
	return g.input.LastChannel()
}

// Available resolves when the input has something to poll or an abort request is pending. The wait is released
// when ctx is done.
func (g *CheckpointedInputGate) Available(ctx context.Context) <-chan struct{} {
	g.lock.Lock()
	pending := len(g.abortRequests) > 0
	wake := g.wake
	g.lock.Unlock()
	if pending {
		return closedChan
	}
	return g.input.AvailableOr(ctx, wake)
}

// IsFinished returns true once every channel reached the end of stream.
func (g *CheckpointedInputGate) IsFinished() bool {
	return g.input.IsFinished()
}

// AbortCurrentCheckpoint cancels the alignment in progress. It can be called from any goroutine, the abort is
// applied by the processing goroutine.
func (g *CheckpointedInputGate) AbortCurrentCheckpoint(cause error) {
	g.requestAbort(-1, cause)
}

// AlignmentDurationNanos returns the cumulative alignment time. It must be called from the processing goroutine.
func (g *CheckpointedInputGate) AlignmentDurationNanos() int64 {
	return g.handler.AlignmentDurationNanos()
}

// LatestCheckpointID returns the newest checkpoint id seen.
func (g *CheckpointedInputGate) LatestCheckpointID() int64 {
	return g.handler.LatestCheckpointID()
}

// IsAligning returns true while channels are blocked.
func (g *CheckpointedInputGate) IsAligning() bool {
	return g.handler.IsAligning()
}

// Close closes the handler and the input.
func (g *CheckpointedInputGate) Close() error {
	g.handler.Close()
	if err := g.input.Close(); err != nil {
		return fmt.Errorf("failed to close checkpointed input gate: %w", err)
	}
	return nil
}

func (g *CheckpointedInputGate) requestAbort(checkpointID int64, cause error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.abortRequests = append(g.abortRequests, abortRequest{checkpointID: checkpointID, cause: cause})
	close(g.wake)
	g.wake = make(chan struct{})
}

func (g *CheckpointedInputGate) processAbortRequests() error {
	g.lock.Lock()
	requests := g.abortRequests
	g.abortRequests = nil
	g.lock.Unlock()
	for _, r := range requests {
		if err := g.handler.AbortCheckpoint(r.checkpointID, r.cause); err != nil {
			return err
		}
	}
	return nil
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()
