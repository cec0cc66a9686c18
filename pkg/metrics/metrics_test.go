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

package metrics

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type healthChecker struct {
	healthy *atomic.Bool
}

func (h healthChecker) IsHealthy(context.Context) error {
	if !h.healthy.Load() {
		return fmt.Errorf("not healthy")
	}
	return nil
}

func TestMetricsServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_records_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)
	healthy := atomic.NewBool(true)

	ms := NewMetricsServer(WithAddr("127.0.0.1:0"), WithGatherer(reg), WithHealthChecker(healthChecker{healthy: healthy}))
	addr, shutdown, err := ms.Start(context.Background())
	require.NoError(t, err)
	defer func() { assert.NoError(t, shutdown(context.Background())) }()
	e := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  "http://" + addr,
		Reporter: httpexpect.NewRequireReporter(t),
	})

	body := e.GET("/metrics").Expect().Status(http.StatusOK).Body().Raw()
	assert.Contains(t, body, "test_records_total 3")
	e.GET("/livez").Expect().Status(http.StatusNoContent)
	e.GET("/readyz").Expect().Status(http.StatusNoContent)

	healthy.Store(false)
	body = e.GET("/readyz").Expect().Status(http.StatusInternalServerError).Body().Raw()
	assert.Equal(t, "not healthy", body)
}

func TestMetricsServer_BadAddr(t *testing.T) {
	_, _, err := NewMetricsServer(WithAddr("not-an-address")).Start(context.Background())
	assert.Error(t, err)
}

func TestCheckpointCollectors(t *testing.T) {
	CheckpointsTriggered.WithLabelValues("collector-test", "exactly-once").Inc()
	CheckpointsAborted.WithLabelValues("collector-test", "timeout").Add(2)
	assert.Equal(t, float64(1), testutil.ToFloat64(CheckpointsTriggered.WithLabelValues("collector-test", "exactly-once")))
	assert.Equal(t, float64(2), testutil.ToFloat64(CheckpointsAborted.WithLabelValues("collector-test", "timeout")))
}

func TestRegisterAlignmentTime(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := &funcGaugeCollector{desc: alignmentTime.desc, funcs: make(map[string]*func() int64)}
	reg.MustRegister(collector)

	unregisterOld := collector.register("map-1", func() int64 { return 1 })
	unregisterNew := collector.register("map-1", func() int64 { return 5 })
	collector.register("map-2", func() int64 { return 7 })
	assert.Equal(t, 2, testutil.CollectAndCount(collector))

	// a replaced registration can't remove its successor
	unregisterOld()
	assert.Equal(t, 2, testutil.CollectAndCount(collector))
	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, m := range families[0].GetMetric() {
		values[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{"map-1": 5, "map-2": 7}, values)

	unregisterNew()
	assert.Equal(t, 1, testutil.CollectAndCount(collector))
}
