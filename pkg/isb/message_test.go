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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestElementKind(t *testing.T) {
	tests := []struct {
		name    string
		element Element
		want    ElementKind
		event   bool
	}{
		{name: "record", element: &Record{Key: "k"}, want: KindRecord},
		{name: "watermark", element: Watermark{Timestamp: 10}, want: KindWatermark},
		{name: "status", element: StatusIdle, want: KindStreamStatus},
		{name: "latency", element: &LatencyMarker{MarkedTime: 1}, want: KindLatencyMarker},
		{name: "barrier", element: &CheckpointBarrier{ID: 1}, want: KindCheckpointBarrier, event: true},
		{name: "cancel", element: &CancelCheckpointMarker{CheckpointID: 1}, want: KindCancelCheckpointMarker, event: true},
		{name: "eop", element: &EndOfPartition{}, want: KindEndOfPartition, event: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.element.Kind())
			boe := &BufferOrEvent{Element: tt.element, Channel: 0}
			assert.Equal(t, tt.event, boe.IsEvent())
		})
	}
}

func TestElementKind_String(t *testing.T) {
	assert.Equal(t, "Record", KindRecord.String())
	assert.Equal(t, "EndOfPartition", KindEndOfPartition.String())
	assert.Equal(t, "Unknown(42)", ElementKind(42).String())
}

func TestStreamStatus(t *testing.T) {
	assert.True(t, StatusActive.IsActive())
	assert.False(t, StatusActive.IsIdle())
	assert.True(t, StatusIdle.IsIdle())
	assert.Equal(t, "IDLE", StatusIdle.String())
	assert.Equal(t, "ACTIVE", StatusActive.String())
}

func TestChannelReadErr(t *testing.T) {
	cause := errors.New("connection reset")
	err := ChannelReadErr{Name: "in-0", Channel: 0, Err: cause}
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "(in-0) failed to read from channel 0: connection reset", err.Error())
}

func TestUnsupportedElementErr(t *testing.T) {
	err := UnsupportedElementErr{Kind: KindCheckpointBarrier, Channel: 2}
	assert.Equal(t, "unknown type of stream element CheckpointBarrier from channel 2", err.Error())
}
