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

package simplebuffer

// OnFullWritingStrategy is what Write does when the buffer has no room left.
type OnFullWritingStrategy string

const (
	// RejectWrite stops at the first element that doesn't fit and returns a ChannelWriteErr. Retrying the rest is
	// up to the producer.
	RejectWrite OnFullWritingStrategy = "rejectWrite"
	// DiscardLatest silently drops the elements that don't fit.
	DiscardLatest OnFullWritingStrategy = "discardLatest"
)

// Options for simple buffer
type options struct {
	// onFullWritingStrategy is the writing strategy when buffer is full
	onFullWritingStrategy OnFullWritingStrategy
}

type Option func(options *options) error

// WithOnFullWritingStrategy sets the writing strategy when buffer is full
func WithOnFullWritingStrategy(s OnFullWritingStrategy) Option {
	return func(o *options) error {
		o.onFullWritingStrategy = s
		return nil
	}
}
