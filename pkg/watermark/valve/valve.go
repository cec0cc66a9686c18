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

// Package valve merges the watermarks and stream statuses of the input channels into a single watermark and
// status stream.
//
// The output watermark is the minimum watermark of the active channels which are aligned, a channel is aligned
// when its watermark is not behind the last output watermark. An idle channel does not hold back the output
// watermark, when it becomes active again it only takes part in the minimum once it caught up with the output.
package valve

import (
	"fmt"

	"github.com/numaproj/streamcore/pkg/isb"
)

// OutputHandler receives the merged watermark and status.
type OutputHandler interface {
	HandleWatermark(wm isb.Watermark) error
	HandleStreamStatus(status isb.StreamStatus) error
}

// StatusWatermarkValve keeps the watermark state of every channel in arrays indexed by channel id.
// It is not safe for concurrent use, all inputs come from the processing goroutine.
type StatusWatermarkValve struct {
	handler OutputHandler
	// per channel state
	watermarks []int64
	statuses   []isb.StreamStatus
	aligned    []bool
	ended      []bool

	lastOutputWatermark int64
	lastOutputStatus    isb.StreamStatus
}

// NewStatusWatermarkValve returns a valve for numberOfChannels channels. All channels start active with the
// minimum watermark.
func NewStatusWatermarkValve(numberOfChannels int, handler OutputHandler) (*StatusWatermarkValve, error) {
	if numberOfChannels <= 0 {
		return nil, fmt.Errorf("failed to create watermark valve: number of channels should be > 0, got %d", numberOfChannels)
	}
	if handler == nil {
		return nil, fmt.Errorf("failed to create watermark valve: output handler can not be nil")
	}
	v := &StatusWatermarkValve{
		handler:             handler,
		watermarks:          make([]int64, numberOfChannels),
		statuses:            make([]isb.StreamStatus, numberOfChannels),
		aligned:             make([]bool, numberOfChannels),
		ended:               make([]bool, numberOfChannels),
		lastOutputWatermark: isb.MinWatermark,
		lastOutputStatus:    isb.StatusActive,
	}
	for i := 0; i < numberOfChannels; i++ {
		v.watermarks[i] = isb.MinWatermark
		v.statuses[i] = isb.StatusActive
		v.aligned[i] = true
	}
	return v, nil
}

// InputWatermark feeds a watermark of the given channel. Watermarks which are not newer than the channel's own
// watermark are ignored, as are watermarks of idle or ended channels.
func (v *StatusWatermarkValve) InputWatermark(wm isb.Watermark, channel int) error {
	if err := v.checkChannel(channel); err != nil {
		return err
	}
	if v.ended[channel] || v.statuses[channel].IsIdle() {
		return nil
	}
	if wm.Timestamp <= v.watermarks[channel] {
		return nil
	}
	v.watermarks[channel] = wm.Timestamp
	if !v.aligned[channel] && wm.Timestamp >= v.lastOutputWatermark {
		v.aligned[channel] = true
	}
	return v.outputNewMinWatermark()
}

// InputStreamStatus feeds a status change of the given channel. The combined status is active as long as one
// channel is active, a change of the combined status is emitted once.
func (v *StatusWatermarkValve) InputStreamStatus(status isb.StreamStatus, channel int) error {
	if err := v.checkChannel(channel); err != nil {
		return err
	}
	if !status.IsActive() && !status.IsIdle() {
		return fmt.Errorf("invalid stream status %d on channel %d", status, channel)
	}
	if v.ended[channel] || v.statuses[channel] == status {
		return nil
	}
	v.statuses[channel] = status
	if status.IsIdle() {
		return v.channelBecameIdle(channel)
	}

	// the channel rejoins the minimum once it is no longer behind the output
	if v.watermarks[channel] >= v.lastOutputWatermark {
		v.aligned[channel] = true
	}
	if v.lastOutputStatus.IsIdle() {
		v.lastOutputStatus = isb.StatusActive
		return v.handler.HandleStreamStatus(isb.StatusActive)
	}
	return nil
}

// InputEndOfPartition excludes the channel for good. The combined status is only emitted if the channel was the
// last active one.
func (v *StatusWatermarkValve) InputEndOfPartition(channel int) error {
	if err := v.checkChannel(channel); err != nil {
		return err
	}
	if v.ended[channel] {
		return nil
	}
	v.ended[channel] = true
	if v.statuses[channel].IsIdle() {
		return nil
	}
	v.statuses[channel] = isb.StatusIdle
	return v.channelBecameIdle(channel)
}

// LastOutputWatermark returns the last emitted watermark, isb.MinWatermark before the first one.
func (v *StatusWatermarkValve) LastOutputWatermark() isb.Watermark {
	return isb.Watermark{Timestamp: v.lastOutputWatermark}
}

// LastOutputStatus returns the combined status.
func (v *StatusWatermarkValve) LastOutputStatus() isb.StreamStatus {
	return v.lastOutputStatus
}

func (v *StatusWatermarkValve) channelBecameIdle(channel int) error {
	v.aligned[channel] = false
	if !v.hasActiveChannel() {
		// quiescent, the output watermark stays where it is
		v.lastOutputStatus = isb.StatusIdle
		return v.handler.HandleStreamStatus(isb.StatusIdle)
	}
	// the idle channel may have been holding back the output
	if v.watermarks[channel] == v.lastOutputWatermark {
		return v.outputNewMinWatermark()
	}
	return nil
}

func (v *StatusWatermarkValve) outputNewMinWatermark() error {
	hasAligned := false
	minWm := isb.MaxWatermark
	for i, wm := range v.watermarks {
		if v.ended[i] || v.statuses[i].IsIdle() || !v.aligned[i] {
			continue
		}
		hasAligned = true
		if wm < minWm {
			minWm = wm
		}
	}
	if hasAligned && minWm > v.lastOutputWatermark {
		v.lastOutputWatermark = minWm
		return v.handler.HandleWatermark(isb.Watermark{Timestamp: minWm})
	}
	return nil
}

func (v *StatusWatermarkValve) hasActiveChannel() bool {
	for i, s := range v.statuses {
		if !v.ended[i] && s.IsActive() {
			return true
		}
	}
	return false
}

func (v *StatusWatermarkValve) checkChannel(channel int) error {
	if channel < 0 || channel >= len(v.watermarks) {
		return fmt.Errorf("channel %d out of range [0, %d)", channel, len(v.watermarks))
	}
	return nil
}
