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

// Package streamstatus tracks whether a task is active or idle.
package streamstatus

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/numaproj/streamcore/pkg/isb"
	"github.com/numaproj/streamcore/pkg/shared/logging"
)

// Listener is notified when the status of the task changes.
type Listener func(status isb.StreamStatus)

// Maintainer holds the stream status of a task. The status starts active.
type Maintainer struct {
	status    *atomic.Int32
	lock      sync.Mutex
	listeners []Listener
	log       *zap.SugaredLogger
}

// NewMaintainer returns an active maintainer.
func NewMaintainer(log *zap.SugaredLogger) *Maintainer {
	if log == nil {
		log = logging.NewLogger()
	}
	return &Maintainer{
		status: atomic.NewInt32(int32(isb.StatusActive)),
		log:    log,
	}
}

// AddListener registers a listener for status changes.
func (m *Maintainer) AddListener(l Listener) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.listeners = append(m.listeners, l)
}

// GetStreamStatus returns the current status.
func (m *Maintainer) GetStreamStatus() isb.StreamStatus {
	return isb.StreamStatus(m.status.Load())
}

// ToggleStreamStatus sets the status, listeners are only called if it changed.
func (m *Maintainer) ToggleStreamStatus(status isb.StreamStatus) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if old := isb.StreamStatus(m.status.Swap(int32(status))); old == status {
		return
	}
	m.log.Infow("Stream status changed", zap.Stringer("status", status))
	for _, l := range m.listeners {
		l(status)
	}
}
