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

// Package config loads the input configuration of a task from a YAML file and keeps it up to date when the file
// changes. Every key can be overridden with an environment variable, e.g. STREAMCORE_INPUT_ALIGNMENTTIMEOUT.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/numaproj/streamcore/pkg/checkpoint"
	"github.com/numaproj/streamcore/pkg/shared/logging"
)

const envPrefix = "STREAMCORE"

// GlobalConfig is the task configuration, reloaded when the file changes.
type GlobalConfig struct {
	conf *config
	lock *sync.RWMutex
}

type config struct {
	Input *InputConfig `json:"input"`
}

// InputConfig configures the input processor of a task.
type InputConfig struct {
	TaskName          string        `json:"taskName"`
	CheckpointingMode string        `json:"checkpointingMode"`
	AlignmentTimeout  time.Duration `json:"alignmentTimeout"`
}

// NewGlobalConfig returns a static configuration, it is not backed by a file.
func NewGlobalConfig(ic InputConfig) (*GlobalConfig, error) {
	conf := &config{Input: &ic}
	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration. %w", err)
	}
	return &GlobalConfig{conf: conf, lock: new(sync.RWMutex)}, nil
}

// GetInputConfig returns a copy of the input configuration.
func (g *GlobalConfig) GetInputConfig() InputConfig {
	g.lock.RLock()
	defer g.lock.RUnlock()
	if g.conf.Input != nil {
		return *g.conf.Input
	}
	return InputConfig{}
}

// GetAlignmentTimeout returns the current alignment timeout, 0 means no timeout.
func (g *GlobalConfig) GetAlignmentTimeout() time.Duration {
	return g.GetInputConfig().AlignmentTimeout
}

// GetCheckpointingMode returns the parsed checkpointing mode.
func (ic InputConfig) GetCheckpointingMode() (checkpoint.CheckpointingMode, error) {
	return checkpoint.ParseCheckpointingMode(ic.CheckpointingMode)
}

func (c *config) validate() error {
	if c.Input == nil {
		return nil
	}
	if _, err := c.Input.GetCheckpointingMode(); err != nil {
		return err
	}
	if c.Input.AlignmentTimeout < 0 {
		return fmt.Errorf("alignment timeout can not be negative, got %v", c.Input.AlignmentTimeout)
	}
	return nil
}

// LoadConfig reads the configuration file and watches it for changes. A change which fails to parse or validate
// is reported to onErrorReloading, or logged if it is nil, and the previous configuration is kept.
func LoadConfig(path string, onErrorReloading func(error)) (*GlobalConfig, error) {
	if onErrorReloading == nil {
		log := logging.NewLogger().Named("config")
		onErrorReloading = func(err error) {
			log.Warnw("Failed to reload configuration, keeping the previous one", zap.String("path", path), zap.Error(err))
		}
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{"input.taskName", "input.checkpointingMode", "input.alignmentTimeout"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s. %w", key, err)
		}
	}
	err := v.ReadInConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration file. %w", err)
	}
	r := &GlobalConfig{
		lock: new(sync.RWMutex),
	}
	conf := &config{}
	err = v.Unmarshal(conf)
	if err != nil {
		return nil, fmt.Errorf("failed unmarshal configuration file. %w", err)
	}
	if err = conf.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration. %w", err)
	}
	r.conf = conf
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		cf := &config{}
		if err := v.Unmarshal(cf); err != nil {
			onErrorReloading(err)
			return
		}
		if err := cf.validate(); err != nil {
			onErrorReloading(err)
			return
		}
		r.lock.Lock()
		defer r.lock.Unlock()
		r.conf = cf
	})
	return r, nil
}
