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
Package isb defines the elements that travel on the input channels of a task and the contract a channel transport has
to fulfil. A task reads from N channels (one per upstream partition), every channel is an ordered and lazy source of
elements, and reading is never allowed to block the task's processing goroutine.
*/

package isb

import (
	"io"
)

// ChannelReader is a single upstream channel.
type ChannelReader interface {
	io.Closer
	// GetName returns the name of the channel.
	GetName() string
	// PollNext returns the next element without blocking. It returns (nil, nil) if no element is ready yet and
	// ErrEndOfStream once the channel is exhausted. Any other error is a transport failure.
	PollNext() (Element, error)
	// Available returns a channel that is closed once PollNext has something to return, be it an element or the
	// end of stream. Callers are expected to call Available again after every PollNext which returned nothing.
	Available() <-chan struct{}
}

// ChannelWriter is the producing side of an in-process channel.
type ChannelWriter interface {
	GetName() string
	// Write appends the elements to the channel in order.
	Write(elements ...Element) error
	// EndOfStream marks the channel as exhausted, nothing can be written afterwards.
	EndOfStream() error
}

// ChannelBlocker allows holding back a channel without consuming it.
type ChannelBlocker interface {
	// SetBlocked blocks or unblocks the channel. A blocked channel is skipped by polling and by availability.
	SetBlocked(channel int, blocked bool)
	// NumberOfChannels returns the number of channels.
	NumberOfChannels() int
}
