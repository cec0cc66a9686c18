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

package forward

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Shutdown tracks the closing of the processor.
type Shutdown struct {
	closed          bool
	initiateTime    time.Time
	closeRequestCtr int
	closeErr        error
	rwlock          *sync.RWMutex
}

// IsShuttingDown returns whether the processor has been closed.
func (p *OneInputProcessor) IsShuttingDown() bool {
	p.Shutdown.rwlock.RLock()
	defer p.Shutdown.rwlock.RUnlock()
	return p.Shutdown.closed
}

func (s *Shutdown) String() string {
	s.rwlock.RLock()
	defer s.rwlock.RUnlock()
	return fmt.Sprintf("closed:%t closeRequestCtr:%d initiateTime:%s",
		s.closed, s.closeRequestCtr, s.initiateTime)
}

// Close closes the gate chain down to the channels. A ProcessInput waiting for data returns promptly. Close can be
// called from any goroutine and more than once, the later calls return the result of the first one.
func (p *OneInputProcessor) Close() error {
	p.Shutdown.rwlock.Lock()
	defer p.Shutdown.rwlock.Unlock()
	p.Shutdown.closeRequestCtr++
	if p.Shutdown.closed {
		return p.Shutdown.closeErr
	}
	p.Shutdown.initiateTime = time.Now()
	p.Shutdown.closed = true
	if err := p.gate.Close(); err != nil {
		p.log.Errorw("Failed to close the input", zap.Error(err))
		p.Shutdown.closeErr = fmt.Errorf("failed to close input processor %s: %w", p.opts.taskName, err)
	}
	p.log.Infow("Closed input processor", zap.String("shutdown", fmt.Sprintf("closeRequestCtr:%d initiateTime:%s",
		p.Shutdown.closeRequestCtr, p.Shutdown.initiateTime)))
	return p.Shutdown.closeErr
}
