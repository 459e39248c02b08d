// Copyright 2025 The flowsteer Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package periodic runs a task at a fixed period until it is stopped or
// killed. It is used for background jobs like flushing batched steering
// mutations to the driver.
package periodic

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowsteer/flowsteer/pkg/log"
)

// Event types reported by the Events metric.
const (
	EventStop    = "stop"
	EventKill    = "kill"
	EventTrigger = "triggered"
)

// A Task that has to be periodically executed.
type Task interface {
	// Run executes the task once, it should return within the context's
	// timeout.
	Run(context.Context)
	// Name returns the task's name for use in metrics and tracing.
	Name() string
}

// Func implements the Task interface.
type Func struct {
	// Task is the function that is executed on Run.
	Task func(context.Context)
	// TaskName is the name of the task.
	TaskName string
}

// Run runs the task function.
func (f Func) Run(ctx context.Context) {
	f.Task(ctx)
}

// Name returns the task name.
func (f Func) Name() string {
	return f.TaskName
}

// Metrics contains the metrics that a Runner reports. All fields are
// optional.
type Metrics struct {
	// Events returns the counter for the given event type.
	Events func(string) prometheus.Counter
	// Period is set to the period of the runner in seconds.
	Period prometheus.Gauge
	// Runtime is set to the duration of the last run in seconds.
	Runtime prometheus.Gauge
	// StartTime is set to the unix time of the last run start.
	StartTime prometheus.Gauge
}

func (m *Metrics) event(e string) {
	if m == nil || m.Events == nil {
		return
	}
	m.Events(e).Inc()
}

func (m *Metrics) setPeriod(p time.Duration) {
	if m == nil || m.Period == nil {
		return
	}
	m.Period.Set(p.Seconds())
}

func (m *Metrics) setRun(start time.Time, runtime time.Duration) {
	if m == nil {
		return
	}
	if m.StartTime != nil {
		m.StartTime.Set(float64(start.Unix()))
	}
	if m.Runtime != nil {
		m.Runtime.Set(runtime.Seconds())
	}
}

// Runner runs a task periodically.
type Runner struct {
	task         Task
	ticker       *time.Ticker
	timeout      time.Duration
	stop         chan struct{}
	done         chan struct{}
	ctx          context.Context
	cancelF      context.CancelFunc
	trigger      chan struct{}
	metric       *Metrics
	stopOnce     sync.Once
	logger       log.Logger
	firstRunDone bool
}

// Start creates and starts a new Runner to run the given task periodically.
// The timeout is used for the context timeout of the task. The timeout can be
// larger than the periodicity of the task. That means if a task takes a long
// time it will be immediately retriggered.
func Start(task Task, period, timeout time.Duration) *Runner {
	return StartWithMetrics(task, nil, period, timeout)
}

// StartWithMetrics is identical to Start but reports to the given metrics.
func StartWithMetrics(task Task, metric *Metrics, period, timeout time.Duration) *Runner {
	ctx, cancelF := context.WithCancel(context.Background())
	logger := log.New("debug_id", task.Name())
	ctx = log.CtxWith(ctx, logger)
	r := &Runner{
		task:    task,
		ticker:  time.NewTicker(period),
		timeout: timeout,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancelF: cancelF,
		trigger: make(chan struct{}),
		metric:  metric,
		logger:  logger,
	}
	logger.Info("Starting periodic task", "task", task.Name())
	metric.setPeriod(period)
	go func() {
		defer log.HandlePanic()
		r.runLoop()
	}()
	return r
}

// Stop stops the periodic execution of the Runner. If the task is currently
// running this method blocks until it is done.
func (r *Runner) Stop() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() {
		r.ticker.Stop()
		close(r.stop)
		<-r.done
		r.metric.event(EventStop)
	})
}

// Kill is like stop but it also cancels the context of the current running
// method.
func (r *Runner) Kill() {
	if r == nil {
		return
	}
	r.stopOnce.Do(func() {
		r.ticker.Stop()
		close(r.stop)
		r.cancelF()
		<-r.done
		r.metric.event(EventKill)
	})
}

// TriggerRun triggers the periodic task to run now. This does not impact the
// normal periodicity of this task. That means if the task runs every minute
// and we call TriggerRun after 30 seconds, the task still runs at the next
// full minute. TriggerRun blocks until the run has been scheduled.
func (r *Runner) TriggerRun() {
	select {
	case <-r.stop:
	case r.trigger <- struct{}{}:
		r.metric.event(EventTrigger)
	}
}

func (r *Runner) runLoop() {
	defer close(r.done)
	defer r.logger.Info("Stopped periodic task", "task", r.task.Name())
	r.onTick()
	for {
		select {
		case <-r.stop:
			return
		case <-r.ticker.C:
			r.onTick()
		case <-r.trigger:
			r.onTick()
		}
	}
}

func (r *Runner) onTick() {
	select {
	case <-r.stop:
		return
	default:
	}
	if !r.firstRunDone {
		r.logger.Debug("First run of periodic task", "task", r.task.Name())
		r.firstRunDone = true
	}
	ctx, cancelF := context.WithTimeout(r.ctx, r.timeout)
	defer cancelF()
	start := time.Now()
	r.task.Run(ctx)
	r.metric.setRun(start, time.Since(start))
}
