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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/numaproj/streamcore/pkg/checkpoint"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	// replace the file in one step so that the watcher never sees a partial write
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    InputConfig
		wantErr bool
	}{
		{
			name: "full",
			content: `input:
  taskName: map-1
  checkpointingMode: at-least-once
  alignmentTimeout: 30s
`,
			want: InputConfig{TaskName: "map-1", CheckpointingMode: "at-least-once", AlignmentTimeout: 30 * time.Second},
		},
		{
			name:    "empty",
			content: "",
			want:    InputConfig{},
		},
		{
			name: "bad mode",
			content: `input:
  checkpointingMode: at-most-once
`,
			wantErr: true,
		},
		{
			name: "negative timeout",
			content: `input:
  alignmentTimeout: -1s
`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeConfig(t, path, tt.content)
			conf, err := LoadConfig(path, func(error) {})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, conf.GetInputConfig())
		})
	}
}

func TestNewGlobalConfig(t *testing.T) {
	conf, err := NewGlobalConfig(InputConfig{TaskName: "sink", AlignmentTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "sink", conf.GetInputConfig().TaskName)
	assert.Equal(t, time.Second, conf.GetAlignmentTimeout())

	_, err = NewGlobalConfig(InputConfig{CheckpointingMode: "never"})
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), func(error) {})
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "input:\n  taskName: map-1\n")
	t.Setenv("STREAMCORE_INPUT_TASKNAME", "from-env")
	t.Setenv("STREAMCORE_INPUT_ALIGNMENTTIMEOUT", "2m")
	conf, err := LoadConfig(path, func(error) {})
	require.NoError(t, err)
	assert.Equal(t, "from-env", conf.GetInputConfig().TaskName)
	assert.Equal(t, 2*time.Minute, conf.GetAlignmentTimeout())
	mode, err := conf.GetInputConfig().GetCheckpointingMode()
	assert.NoError(t, err)
	assert.Equal(t, checkpoint.ExactlyOnce, mode)
}

func TestLoadConfig_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "input:\n  alignmentTimeout: 10s\n")
	reloadErrs := atomic.NewInt32(0)
	conf, err := LoadConfig(path, func(error) { reloadErrs.Inc() })
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, conf.GetAlignmentTimeout())

	writeConfig(t, path, "input:\n  alignmentTimeout: 20s\n")
	assert.Eventually(t, func() bool {
		return conf.GetAlignmentTimeout() == 20*time.Second
	}, 10*time.Second, 50*time.Millisecond)

	// an invalid change is reported and ignored
	writeConfig(t, path, "input:\n  checkpointingMode: best-effort\n  alignmentTimeout: 1s\n")
	assert.Eventually(t, func() bool {
		return reloadErrs.Load() > 0
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, 20*time.Second, conf.GetAlignmentTimeout())
}

func TestLoadConfig_NilReloadCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "input:\n  alignmentTimeout: 10s\n")
	conf, err := LoadConfig(path, nil)
	require.NoError(t, err)

	// the invalid change is logged, the watcher keeps going
	writeConfig(t, path, "input:\n  checkpointingMode: best-effort\n")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 10*time.Second, conf.GetAlignmentTimeout())
	writeConfig(t, path, "input:\n  alignmentTimeout: 30s\n")
	assert.Eventually(t, func() bool {
		return conf.GetAlignmentTimeout() == 30*time.Second
	}, 10*time.Second, 50*time.Millisecond)
}
