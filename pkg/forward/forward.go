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

/*
Package forward does the Poll (input gate) -> Align (barriers) -> Dispatch (operator / valve) loop of a single input
task. Every call into the operator holds the shared lock, which is also taken by the timer callbacks.
*/
package forward

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/numaproj/streamcore/pkg/checkpoint"
	"github.com/numaproj/streamcore/pkg/inputgate"
	"github.com/numaproj/streamcore/pkg/isb"
	"github.com/numaproj/streamcore/pkg/metrics"
	"github.com/numaproj/streamcore/pkg/shared/logging"
	"github.com/numaproj/streamcore/pkg/watermark/valve"
)

// OneInputProcessor feeds the elements of all the input channels of a task to its operator.
// ProcessInput must be called from a single goroutine.
type OneInputProcessor struct {
	gate       *checkpoint.CheckpointedInputGate
	valve      *valve.StatusWatermarkValve
	operator   OneInputOperator
	maintainer StreamStatusMaintainer
	// lock is shared with the timer service.
	lock sync.Locker
	// recordsIn is resolved on the first ProcessInput call.
	recordsIn      prometheus.Counter
	endInputCalled bool
	// failure is the error which stopped the processor, read by the health checks.
	failure *atomic.Error
	opts    options
	log     *zap.SugaredLogger
	Shutdown
}

var (
	_ InputProcessor        = (*OneInputProcessor)(nil)
	_ metrics.HealthChecker = (*OneInputProcessor)(nil)
)

// NewOneInputProcessor creates the input gate over the channels, the index of a channel in the slice is its id.
// A nil lock is replaced with a new mutex, get it with Lock to share it with the timer service.
func NewOneInputProcessor(channels []isb.ChannelReader,
	responder checkpoint.Responder,
	lock sync.Locker,
	operator OneInputOperator,
	maintainer StreamStatusMaintainer,
	opts ...Option) (*OneInputProcessor, error) {

	options := DefaultOptions()
	for _, o := range opts {
		if err := o(options); err != nil {
			return nil, err
		}
	}
	if operator == nil {
		return nil, fmt.Errorf("failed to create input processor: operator can not be nil")
	}
	if maintainer == nil {
		return nil, fmt.Errorf("failed to create input processor: stream status maintainer can not be nil")
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}
	log := options.logger.With("task", options.taskName)

	union, err := inputgate.NewUnionInputGate(options.taskName, channels, inputgate.WithLogger(log))
	if err != nil {
		return nil, err
	}
	gate, err := checkpoint.NewCheckpointedInputGate(union, responder, options.checkpointOptions()...)
	if err != nil {
		_ = union.Close()
		return nil, err
	}

	p := &OneInputProcessor{
		gate:       gate,
		operator:   operator,
		maintainer: maintainer,
		lock:       lock,
		failure:    atomic.NewError(nil),
		opts:       *options,
		log:        log,
		Shutdown: Shutdown{
			rwlock: new(sync.RWMutex),
		},
	}
	p.valve, err = valve.NewStatusWatermarkValve(len(channels), valveOutputHandler{p: p})
	if err != nil {
		_ = gate.Close()
		return nil, err
	}
	return p, nil
}

// Run calls ProcessInput until the input is exhausted, an error occurs or the context is canceled.
func (p *OneInputProcessor) Run(ctx context.Context) error {
	ctx = logging.WithLogger(ctx, p.log)
	log := logging.FromContext(ctx)
	log.Info("Starting input processor...")
	for {
		select {
		case <-ctx.Done():
			log.Info("Context canceled, stopping input processor")
			return nil
		default:
		}
		more, err := p.ProcessInput(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				log.Info("Context canceled, stopping input processor")
				return nil
			}
			log.Errorw("Input processor failed", zap.Error(err))
			return err
		}
		if !more {
			log.Infow("Input processor stopped", zap.Bool("finished", p.gate.IsFinished()), zap.Stringer("shutdown", &p.Shutdown))
			return nil
		}
	}
}

// ProcessInput dispatches at most one element. If nothing can be polled it waits until the input is available
// again, and returns false if every channel reached the end of stream or the processor was closed.
func (p *OneInputProcessor) ProcessInput(ctx context.Context) (bool, error) {
	if p.IsShuttingDown() {
		return false, nil
	}
	p.initializeRecordsInCounter()

	boe, err := p.gate.PollNext()
	if err != nil {
		return false, p.fail(err)
	}
	if boe == nil {
		waitCtx, cancel := context.WithCancel(ctx)
		avail := p.gate.Available(waitCtx)
		select {
		case <-avail:
		case <-ctx.Done():
		}
		cancel()
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		finished, err := p.checkFinished()
		if err != nil {
			return false, p.fail(err)
		}
		return !finished && !p.IsShuttingDown(), nil
	}

	if err := p.dispatch(boe); err != nil {
		return false, p.fail(err)
	}
	return true, nil
}

func (p *OneInputProcessor) fail(err error) error {
	processorErrorCount.WithLabelValues(p.opts.taskName).Inc()
	p.failure.Store(err)
	return err
}

// IsHealthy returns the error which stopped the processor, if any.
func (p *OneInputProcessor) IsHealthy(_ context.Context) error {
	if err := p.failure.Load(); err != nil {
		return fmt.Errorf("input processor %s failed: %w", p.opts.taskName, err)
	}
	return nil
}

func (p *OneInputProcessor) dispatch(boe *isb.BufferOrEvent) error {
	kind := boe.Element.Kind()
	switch e := boe.Element.(type) {
	case *isb.Record:
		if err := p.processRecord(e); err != nil {
			return err
		}
	case isb.Watermark:
		if err := p.valve.InputWatermark(e, boe.Channel); err != nil {
			return err
		}
	case isb.StreamStatus:
		if err := p.valve.InputStreamStatus(e, boe.Channel); err != nil {
			return err
		}
	case *isb.LatencyMarker:
		if err := p.processLatencyMarker(e); err != nil {
			return err
		}
	case *isb.EndOfPartition:
		if err := p.valve.InputEndOfPartition(boe.Channel); err != nil {
			return err
		}
	default:
		metrics.UnsupportedElementCount.WithLabelValues(p.opts.taskName).Inc()
		return isb.UnsupportedElementErr{Kind: kind, Channel: boe.Channel}
	}
	dispatchedElementsCount.WithLabelValues(p.opts.taskName, kind.String()).Inc()
	return nil
}

func (p *OneInputProcessor) processRecord(record *isb.Record) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.recordsIn.Inc()
	if err := p.operator.SetKeyContextElement(record); err != nil {
		return err
	}
	return p.operator.ProcessElement(record)
}

func (p *OneInputProcessor) processLatencyMarker(marker *isb.LatencyMarker) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.operator.ProcessLatencyMarker(marker)
}

// checkFinished tells the operator about the end of the input the first time every channel is exhausted.
func (p *OneInputProcessor) checkFinished() (bool, error) {
	if !p.gate.IsFinished() {
		return false, nil
	}
	if p.endInputCalled {
		return true, nil
	}
	p.endInputCalled = true
	p.log.Info("All input channels reached the end of stream")
	p.lock.Lock()
	defer p.lock.Unlock()
	if err := p.operator.EndInput(1); err != nil {
		return true, fmt.Errorf("failed to end input of the operator: %w", err)
	}
	return true, nil
}

func (p *OneInputProcessor) initializeRecordsInCounter() {
	if p.recordsIn != nil {
		return
	}
	var err error
	if group := p.operator.GetMetricGroup(); group != nil {
		p.recordsIn, err = group.RecordsInCounter()
	} else {
		err = fmt.Errorf("operator has no metric group")
	}
	if err != nil || p.recordsIn == nil {
		p.log.Warnw("An error occurred while initializing the records in counter, using a local counter", zap.Error(err))
		p.recordsIn = newLocalRecordsInCounter(p.opts.taskName)
	}
}

// AbortCurrentCheckpoint cancels the alignment in progress, it can be called from any goroutine.
func (p *OneInputProcessor) AbortCurrentCheckpoint(cause error) {
	p.gate.AbortCurrentCheckpoint(cause)
}

// AlignmentDurationNanos returns the cumulative checkpoint alignment time. It must be called from the goroutine
// calling ProcessInput.
func (p *OneInputProcessor) AlignmentDurationNanos() int64 {
	return p.gate.AlignmentDurationNanos()
}

// Lock returns the lock guarding the operator.
func (p *OneInputProcessor) Lock() sync.Locker {
	return p.lock
}

// valveOutputHandler forwards the output of the valve to the operator and the status maintainer.
type valveOutputHandler struct {
	p *OneInputProcessor
}

func (h valveOutputHandler) HandleWatermark(wm isb.Watermark) error {
	h.p.lock.Lock()
	defer h.p.lock.Unlock()
	metrics.InputWatermark.WithLabelValues(h.p.opts.taskName).Set(float64(wm.Timestamp))
	if err := h.p.operator.ProcessWatermark(wm); err != nil {
		return ValveOutputErr{Output: wm.String(), Err: err}
	}
	return nil
}

func (h valveOutputHandler) HandleStreamStatus(status isb.StreamStatus) error {
	h.p.lock.Lock()
	defer h.p.lock.Unlock()
	h.p.maintainer.ToggleStreamStatus(status)
	return nil
}
