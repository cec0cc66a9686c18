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

/* package simplebuffer is an in memory ring buffer that implements the isb channel interfaces. This should be used only
for local development and testing purposes. The locking implementation is very coarse.
*/

package simplebuffer

import (
	"fmt"
	"sync"

	"github.com/numaproj/streamcore/pkg/isb"
)

// InMemoryBuffer implements both sides of an in-process channel.
type InMemoryBuffer struct {
	name     string
	size     int64
	buffer   []isb.Element
	writeIdx int64
	readIdx  int64
	count    int64
	// eos is set once the writer signals the end of stream.
	eos    bool
	closed bool
	// available is closed while there is something to poll, and replaced by a fresh channel once drained.
	available chan struct{}
	options   *options
	rwlock    *sync.RWMutex
}

var _ isb.ChannelReader = (*InMemoryBuffer)(nil)
var _ isb.ChannelWriter = (*InMemoryBuffer)(nil)

// NewInMemoryBuffer returns a new buffer which can hold up to size elements.
func NewInMemoryBuffer(name string, size int64, opts ...Option) *InMemoryBuffer {
	bufferOptions := &options{
		onFullWritingStrategy: RejectWrite, // default buffer full writing strategy
	}

	for _, o := range opts {
		_ = o(bufferOptions)
	}

	sb := &InMemoryBuffer{
		name:      name,
		size:      size,
		buffer:    make([]isb.Element, size),
		available: make(chan struct{}),
		rwlock:    new(sync.RWMutex),
		options:   bufferOptions,
	}
	return sb
}

// Stringer
func (b *InMemoryBuffer) String() string {
	b.rwlock.RLock()
	defer b.rwlock.RUnlock()
	return fmt.Sprintf("(%s) size:%d readIdx:%d writeIdx:%d count:%d eos:%t", b.name, b.size, b.readIdx, b.writeIdx, b.count, b.eos)
}

// GetName returns the buffer name.
func (b *InMemoryBuffer) GetName() string {
	return b.name
}

// IsFull returns whether the buffer is full.
func (b *InMemoryBuffer) IsFull() bool {
	b.rwlock.RLock()
	defer b.rwlock.RUnlock()
	return b.count == b.size
}

// IsEmpty returns whether the buffer is empty.
func (b *InMemoryBuffer) IsEmpty() bool {
	b.rwlock.RLock()
	defer b.rwlock.RUnlock()
	return b.count == 0
}

// Len returns the number of elements waiting to be polled.
func (b *InMemoryBuffer) Len() int64 {
	b.rwlock.RLock()
	defer b.rwlock.RUnlock()
	return b.count
}

// Write appends the elements in order. Elements that don't fit are rejected according to the writing strategy.
func (b *InMemoryBuffer) Write(elements ...isb.Element) error {
	b.rwlock.Lock()
	defer b.rwlock.Unlock()
	if b.closed {
		return isb.ErrChannelClosed
	}
	if b.eos {
		return isb.ChannelWriteErr{Name: b.name, Message: "write after end of stream"}
	}
	for idx, element := range elements {
		if b.count == b.size {
			if b.options.onFullWritingStrategy == DiscardLatest {
				break
			}
			b.notifyLocked()
			return isb.ChannelWriteErr{Name: b.name, Message: fmt.Sprintf("buffer full, %d of %d elements written", idx, len(elements))}
		}
		b.buffer[b.writeIdx] = element
		b.writeIdx = (b.writeIdx + 1) % b.size
		b.count++
	}
	b.notifyLocked()
	return nil
}

// EndOfStream marks the buffer as exhausted. Elements already written can still be polled.
func (b *InMemoryBuffer) EndOfStream() error {
	b.rwlock.Lock()
	defer b.rwlock.Unlock()
	if b.closed {
		return isb.ErrChannelClosed
	}
	b.eos = true
	b.notifyLocked()
	return nil
}

// PollNext returns the oldest element without blocking.
func (b *InMemoryBuffer) PollNext() (isb.Element, error) {
	b.rwlock.Lock()
	defer b.rwlock.Unlock()
	if b.closed {
		return nil, isb.ErrChannelClosed
	}
	if b.count == 0 {
		if b.eos {
			return nil, isb.ErrEndOfStream
		}
		return nil, nil
	}
	element := b.buffer[b.readIdx]
	b.buffer[b.readIdx] = nil
	b.readIdx = (b.readIdx + 1) % b.size
	b.count--
	if b.count == 0 && !b.eos {
		// drained, the next Available call has to wait for a write
		b.available = make(chan struct{})
	}
	return element, nil
}

// Available returns a channel which is closed when PollNext has something to return.
func (b *InMemoryBuffer) Available() <-chan struct{} {
	b.rwlock.RLock()
	defer b.rwlock.RUnlock()
	return b.available
}

// Close releases the buffer, pending elements are dropped.
func (b *InMemoryBuffer) Close() error {
	b.rwlock.Lock()
	defer b.rwlock.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.buffer = nil
	b.count = 0
	b.notifyLocked()
	return nil
}

// notifyLocked resolves the current availability signal if there is anything to report.
func (b *InMemoryBuffer) notifyLocked() {
	if b.count == 0 && !b.eos && !b.closed {
		return
	}
	select {
	case <-b.available:
	default:
		close(b.available)
	}
}
