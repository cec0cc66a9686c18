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

// Package timer runs processing time callbacks of the operator. Callbacks hold the same lock as the input
// processor, so they never run at the same time as a record, watermark or latency marker.
package timer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/numaproj/streamcore/pkg/shared/logging"
)

// ErrServiceQuiesced is returned when registering a timer after Quiesce or Shutdown.
var ErrServiceQuiesced = errors.New("timer service is quiesced")

// Callback is invoked with the processing time the timer was registered for.
type Callback func(timestamp time.Time) error

// ProcessingTimeService schedules callbacks on a clock.
type ProcessingTimeService struct {
	clock          clock.Clock
	lock           sync.Locker
	failureHandler func(error)

	mu       sync.Mutex
	timers   map[uint64]*clock.Timer
	nextID   uint64
	quiesced bool
	// running counts the callbacks which have started.
	running sync.WaitGroup
	log     *zap.SugaredLogger
}

// NewProcessingTimeService returns a timer service whose callbacks run while holding lock.
func NewProcessingTimeService(lock sync.Locker, opts ...Option) (*ProcessingTimeService, error) {
	if lock == nil {
		return nil, fmt.Errorf("failed to create timer service: lock can not be nil")
	}
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	s := &ProcessingTimeService{
		clock:  o.clock,
		lock:   lock,
		timers: make(map[uint64]*clock.Timer),
		log:    o.logger,
	}
	s.failureHandler = o.failureHandler
	if s.failureHandler == nil {
		s.failureHandler = func(err error) {
			s.log.Errorw("Processing timer callback failed", zap.Error(err))
		}
	}
	return s, nil
}

// CurrentProcessingTime returns the time of the service's clock.
func (s *ProcessingTimeService) CurrentProcessingTime() time.Time {
	return s.clock.Now()
}

// RegisterTimer schedules cb at the given time, a time in the past fires right away. The returned function
// cancels the timer if it has not fired yet.
func (s *ProcessingTimeService) RegisterTimer(at time.Time, cb Callback) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quiesced {
		return nil, ErrServiceQuiesced
	}
	id := s.nextID
	s.nextID++
	delay := at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.timers[id] = s.clock.AfterFunc(delay, func() {
		s.fire(id, at, cb)
	})
	return func() { s.cancel(id) }, nil
}

func (s *ProcessingTimeService) fire(id uint64, at time.Time, cb Callback) {
	s.mu.Lock()
	delete(s.timers, id)
	if s.quiesced {
		s.mu.Unlock()
		return
	}
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	s.lock.Lock()
	defer s.lock.Unlock()
	if err := cb(at); err != nil {
		s.failureHandler(fmt.Errorf("timer scheduled at %v failed: %w", at, err))
	}
}

func (s *ProcessingTimeService) cancel(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// NumPendingTimers returns the number of timers which have not fired yet.
func (s *ProcessingTimeService) NumPendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Quiesce stops accepting timers and waits for the running callbacks. Pending timers don't fire anymore.
func (s *ProcessingTimeService) Quiesce() {
	s.mu.Lock()
	s.quiesced = true
	s.mu.Unlock()
	s.running.Wait()
}

// Shutdown quiesces the service and cancels the pending timers.
func (s *ProcessingTimeService) Shutdown() {
	s.Quiesce()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.log.Info("Timer service shut down")
}

// Option configures the timer service.
type Option func(*options) error

type options struct {
	clock          clock.Clock
	failureHandler func(error)
	logger         *zap.SugaredLogger
}

func defaultOptions() *options {
	return &options{
		clock:  clock.New(),
		logger: logging.NewLogger(),
	}
}

// WithClock sets the clock, tests use a mock clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) error {
		o.clock = c
		return nil
	}
}

// WithFailureHandler sets the handler of callback errors. By default they are logged.
func WithFailureHandler(f func(error)) Option {
	return func(o *options) error {
		o.failureHandler = f
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) error {
		o.logger = l
		return nil
	}
}
