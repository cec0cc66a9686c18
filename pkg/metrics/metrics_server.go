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
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/numaproj/streamcore/pkg/shared/logging"
)

const (
	// DefaultMetricsAddr is the address the metrics server listens on by default
	DefaultMetricsAddr = ":2469"
	// EnvPPROF enables the pprof endpoints when set to "true"
	EnvPPROF = "STREAMCORE_PPROF"
)

// metricsServer runs an HTTP server to:
// 1. Expose metrics;
// 2. Serve the liveness and readiness endpoints
type metricsServer struct {
	addr               string
	gatherer           prometheus.Gatherer
	healthCheckTimeout time.Duration
	healthCheckers     []HealthChecker
}

type Option func(*metricsServer)

// WithAddr sets the listen address
func WithAddr(addr string) Option {
	return func(m *metricsServer) {
		m.addr = addr
	}
}

// WithGatherer sets the gatherer served on /metrics, the default one is prometheus.DefaultGatherer
func WithGatherer(g prometheus.Gatherer) Option {
	return func(m *metricsServer) {
		m.gatherer = g
	}
}

// WithHealthChecker appends a health checker executed on /readyz
func WithHealthChecker(hc HealthChecker) Option {
	return func(m *metricsServer) {
		m.healthCheckers = append(m.healthCheckers, hc)
	}
}

// WithHealthCheckTimeout sets the timeout of each health check
func WithHealthCheckTimeout(d time.Duration) Option {
	return func(m *metricsServer) {
		m.healthCheckTimeout = d
	}
}

// NewMetricsServer returns a metrics server instance, which can be used to start an HTTP service to expose the
// collectors of the task.
func NewMetricsServer(opts ...Option) *metricsServer {
	m := &metricsServer{
		addr:               DefaultMetricsAddr,
		gatherer:           prometheus.DefaultGatherer,
		healthCheckTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (ms *metricsServer) checkHealth(ctx context.Context) error {
	for _, hc := range ms.healthCheckers {
		cctx, cancel := context.WithTimeout(ctx, ms.healthCheckTimeout)
		err := hc.IsHealthy(cctx)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// Start starts the HTTP service, it returns the bound address and a shutdown function.
func (ms *metricsServer) Start(ctx context.Context) (string, func(ctx context.Context) error, error) {
	log := logging.FromContext(ctx)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ms.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := ms.checkHealth(r.Context()); err != nil {
			log.Errorw("Health check failed", zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if os.Getenv(EnvPPROF) == "true" {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		log.Info("Not enabling pprof debug endpoints")
	}

	ln, err := net.Listen("tcp", ms.addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", ms.addr, err)
	}
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("Starting metrics HTTP server", zap.String("addr", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("Metrics server stopped unexpectedly", zap.Error(err))
		}
		log.Info("Metrics server shutdown")
	}()
	return ln.Addr().String(), httpServer.Shutdown, nil
}
