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

// Package inputgate fans in the channels of a task into a single pull interface.
package inputgate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/numaproj/streamcore/pkg/isb"
	"github.com/numaproj/streamcore/pkg/shared/logging"
)

// closedChan is returned by Available when there is no need to wait.
var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// UnionInputGate presents a fixed set of channels as one source. Polling is round-robin, starting after the
// channel which produced the last element, so that a busy channel cannot starve the others.
// PollNext, SetBlocked and Available must be called from a single goroutine; Close can be called from anywhere.
type UnionInputGate struct {
	name     string
	channels []isb.ChannelReader
	// blocked channels are held back by the checkpoint aligner.
	blocked []bool
	// finished channels have reported the end of stream.
	finished    []bool
	numFinished *atomic.Int32
	next        int
	lastChannel int
	closed      *atomic.Bool
	// done is closed on Close so that pending availability waits resolve.
	done      chan struct{}
	closeOnce sync.Once
	log       *zap.SugaredLogger
}

var _ isb.ChannelBlocker = (*UnionInputGate)(nil)

// NewUnionInputGate returns a gate over the given channels, the index in the slice is the channel id.
func NewUnionInputGate(name string, channels []isb.ChannelReader, opts ...Option) (*UnionInputGate, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("failed to create input gate %q: at least one channel is required", name)
	}
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return &UnionInputGate{
		name:        name,
		channels:    channels,
		blocked:     make([]bool, len(channels)),
		finished:    make([]bool, len(channels)),
		numFinished: atomic.NewInt32(0),
		lastChannel: isb.UnspecifiedChannel,
		closed:      atomic.NewBool(false),
		done:        make(chan struct{}),
		log:         o.logger.With("inputGate", name),
	}, nil
}

// GetName returns the name of the gate.
func (u *UnionInputGate) GetName() string {
	return u.name
}

// NumberOfChannels returns the number of channels.
func (u *UnionInputGate) NumberOfChannels() int {
	return len(u.channels)
}

// PollNext returns the next element of the first ready channel in round-robin order, or nil if no channel is
// ready. A channel reporting the end of stream yields a single EndOfPartition event.
func (u *UnionInputGate) PollNext() (*isb.BufferOrEvent, error) {
	n := len(u.channels)
	for i := 0; i < n; i++ {
		if u.closed.Load() {
			return nil, nil
		}
		idx := (u.next + i) % n
		if u.blocked[idx] || u.finished[idx] {
			continue
		}
		element, err := u.channels[idx].PollNext()
		if err != nil {
			if errors.Is(err, isb.ErrEndOfStream) {
				u.finished[idx] = true
				u.numFinished.Inc()
				u.lastChannel = idx
				u.next = (idx + 1) % n
				u.log.Infow("Channel reached end of stream", zap.Int("channel", idx), zap.Int32("finished", u.numFinished.Load()))
				return &isb.BufferOrEvent{Element: &isb.EndOfPartition{}, Channel: idx}, nil
			}
			if errors.Is(err, isb.ErrChannelClosed) && u.closed.Load() {
				return nil, nil
			}
			return nil, isb.ChannelReadErr{Name: u.channels[idx].GetName(), Channel: idx, Err: err}
		}
		if element == nil {
			continue
		}
		u.lastChannel = idx
		u.next = (idx + 1) % n
		return &isb.BufferOrEvent{Element: element, Channel: idx}, nil
	}
	return nil, nil
}

// LastChannel returns the channel of the last element returned by PollNext.
func (u *UnionInputGate) LastChannel() int {
	return u.lastChannel
}

// SetBlocked blocks or unblocks a channel.
func (u *UnionInputGate) SetBlocked(channel int, blocked bool) {
	u.blocked[channel] = blocked
}

// IsBlocked returns whether the channel is currently held back.
func (u *UnionInputGate) IsBlocked(channel int) bool {
	return u.blocked[channel]
}

// IsChannelFinished returns whether the channel reported the end of stream.
func (u *UnionInputGate) IsChannelFinished(channel int) bool {
	return u.finished[channel]
}

// IsFinished returns true once every channel reported the end of stream.
func (u *UnionInputGate) IsFinished() bool {
	return int(u.numFinished.Load()) == len(u.channels)
}

// Available returns a signal which resolves once a channel that is neither blocked nor finished has something to
// poll, or the gate is finished or closed. The wait is released when ctx is done, cancel it once the signal is no
// longer needed.
func (u *UnionInputGate) Available(ctx context.Context) <-chan struct{} {
	return u.AvailableOr(ctx, nil)
}

// AvailableOr is Available with an additional wake-up source.
func (u *UnionInputGate) AvailableOr(ctx context.Context, wake <-chan struct{}) <-chan struct{} {
	if u.closed.Load() || u.IsFinished() {
		return closedChan
	}
	cases := []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(u.done)},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
	}
	if wake != nil {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(wake)})
	}
	for idx, ch := range u.channels {
		if u.blocked[idx] || u.finished[idx] {
			continue
		}
		avail := ch.Available()
		select {
		case <-avail:
			return closedChan
		default:
		}
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(avail)})
	}
	merged := make(chan struct{})
	go func() {
		_, _, _ = reflect.Select(cases)
		close(merged)
	}()
	return merged
}

// Close closes all the channels. It is safe to call Close more than once.
func (u *UnionInputGate) Close() error {
	var err error
	u.closeOnce.Do(func() {
		u.closed.Store(true)
		close(u.done)
		for idx, ch := range u.channels {
			if cErr := ch.Close(); cErr != nil {
				u.log.Errorw("Failed to close channel", zap.Int("channel", idx), zap.Error(cErr))
				err = multierr.Append(err, fmt.Errorf("failed to close channel %s: %w", ch.GetName(), cErr))
			}
		}
		u.log.Info("Closed input gate")
	})
	return err
}

// Option configures the input gate.
type Option func(*options) error

type options struct {
	logger *zap.SugaredLogger
}

func defaultOptions() *options {
	return &options{
		logger: logging.NewLogger(),
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) error {
		o.logger = l
		return nil
	}
}
