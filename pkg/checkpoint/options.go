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

package checkpoint

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/numaproj/streamcore/pkg/shared/logging"
)

type options struct {
	// taskName is used as the metrics label and in the logs
	taskName string
	// mode selects the barrier handler
	mode CheckpointingMode
	// alignmentTimeout returns the current alignment timeout, zero or less disables it
	alignmentTimeout func() time.Duration
	// clock measures the alignment duration and drives the timeout
	clock  clock.Clock
	logger *zap.SugaredLogger
}

type Option func(*options) error

func defaultOptions() *options {
	return &options{
		taskName:         "default",
		mode:             ExactlyOnce,
		alignmentTimeout: func() time.Duration { return 0 },
		clock:            clock.New(),
		logger:           logging.NewLogger(),
	}
}

// WithTaskName sets the task name
func WithTaskName(name string) Option {
	return func(o *options) error {
		o.taskName = name
		return nil
	}
}

// WithCheckpointingMode sets the checkpointing mode
func WithCheckpointingMode(m CheckpointingMode) Option {
	return func(o *options) error {
		if m != ExactlyOnce && m != AtLeastOnce {
			return fmt.Errorf("unsupported checkpointing mode %q", m)
		}
		o.mode = m
		return nil
	}
}

// WithAlignmentTimeout sets a fixed alignment timeout
func WithAlignmentTimeout(t time.Duration) Option {
	return func(o *options) error {
		o.alignmentTimeout = func() time.Duration { return t }
		return nil
	}
}

// WithAlignmentTimeoutFunc sets a function which is asked for the timeout whenever an alignment starts, so a
// reloaded configuration applies to the next alignment.
func WithAlignmentTimeoutFunc(f func() time.Duration) Option {
	return func(o *options) error {
		if f == nil {
			return fmt.Errorf("alignment timeout function can not be nil")
		}
		o.alignmentTimeout = f
		return nil
	}
}

// WithClock sets the clock
func WithClock(c clock.Clock) Option {
	return func(o *options) error {
		o.clock = c
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) error {
		o.logger = l
		return nil
	}
}
