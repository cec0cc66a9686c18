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
	"fmt"
)

var (
	// ErrEndOfStream is returned by a channel which will never produce another element.
	ErrEndOfStream = errors.New("end of stream")
	// ErrChannelClosed is returned when reading from or writing to a closed channel.
	ErrChannelClosed = errors.New("channel closed")
)

// ChannelReadErr is returned when the transport fails to deliver an element.
type ChannelReadErr struct {
	Name    string
	Channel int
	Err     error
}

func (e ChannelReadErr) Error() string {
	return fmt.Sprintf("(%s) failed to read from channel %d: %v", e.Name, e.Channel, e.Err)
}

func (e ChannelReadErr) Unwrap() error {
	return e.Err
}

// ChannelWriteErr is returned when an element cannot be appended to a channel.
type ChannelWriteErr struct {
	Name    string
	Message string
}

func (e ChannelWriteErr) Error() string {
	return fmt.Sprintf("(%s) %s", e.Name, e.Message)
}

// UnsupportedElementErr is raised when an element of an unexpected kind reaches the processor. It is fatal.
type UnsupportedElementErr struct {
	Kind    ElementKind
	Channel int
}

func (e UnsupportedElementErr) Error() string {
	return fmt.Sprintf("unknown type of stream element %s from channel %d", e.Kind, e.Channel)
}
