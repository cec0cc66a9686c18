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
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/numaproj/streamcore/pkg/checkpoint"
	"github.com/numaproj/streamcore/pkg/config"
	"github.com/numaproj/streamcore/pkg/shared/logging"
)

// options for processing the input
type options struct {
	// taskName labels the metrics and the logs
	taskName string
	// checkpointingMode selects barrier alignment or barrier tracking
	checkpointingMode checkpoint.CheckpointingMode
	// alignmentTimeout is asked for the timeout whenever an alignment starts
	alignmentTimeout func() time.Duration
	// clock drives the alignment timeout
	clock clock.Clock
	// logger is used to pass the logger variable
	logger *zap.SugaredLogger
}

type Option func(*options) error

func DefaultOptions() *options {
	return &options{
		taskName:          "default",
		checkpointingMode: checkpoint.ExactlyOnce,
		alignmentTimeout:  func() time.Duration { return 0 },
		clock:             clock.New(),
		logger:            logging.NewLogger(),
	}
}

func (o *options) checkpointOptions() []checkpoint.Option {
	return []checkpoint.Option{
		checkpoint.WithTaskName(o.taskName),
		checkpoint.WithCheckpointingMode(o.checkpointingMode),
		checkpoint.WithAlignmentTimeoutFunc(o.alignmentTimeout),
		checkpoint.WithClock(o.clock),
		checkpoint.WithLogger(o.logger),
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
func WithCheckpointingMode(m checkpoint.CheckpointingMode) Option {
	return func(o *options) error {
		o.checkpointingMode = m
		return nil
	}
}

// WithAlignmentTimeout sets the alignment timeout, 0 disables it
func WithAlignmentTimeout(t time.Duration) Option {
	return func(o *options) error {
		o.alignmentTimeout = func() time.Duration { return t }
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

// WithLogger is used to return logger information
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) error {
		o.logger = l
		return nil
	}
}

// WithInputConfig applies the loaded configuration. The alignment timeout follows the reloads of the config.
func WithInputConfig(cfg *config.GlobalConfig) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("invalid input config: config can not be nil")
		}
		ic := cfg.GetInputConfig()
		if ic.TaskName != "" {
			o.taskName = ic.TaskName
		}
		mode, err := ic.GetCheckpointingMode()
		if err != nil {
			return fmt.Errorf("invalid input config: %w", err)
		}
		o.checkpointingMode = mode
		o.alignmentTimeout = cfg.GetAlignmentTimeout
		return nil
	}
}
