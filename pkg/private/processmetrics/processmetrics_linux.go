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

//go:build linux

// Package processmetrics exports the scheduling time of the process threads.
//
// A thread is either running, runnable or sleeping. A runnable thread is
// denied exactly one core, so the summed runnable time of all threads is the
// CPU time the process did not get. Relating it to the steering counters
// gives the throughput per available CPU second, e.g.:
//
//	rate(steering_evaluated_pkts_total[1m])
//	  / on (instance, job) group_left ()
//	(go_sched_maxprocs_threads - rate(process_runnable_seconds_total[1m]))
//
// Only Linux is supported. Elsewhere Register does nothing.
package processmetrics

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
)

var (
	runningTime = prometheus.NewDesc(
		"process_running_seconds_total",
		"CPU time the process used (running state) since it started (all threads summed).",
		nil, nil,
	)
	runnableTime = prometheus.NewDesc(
		"process_runnable_seconds_total",
		"CPU time the process was denied (runnable state) since it started (all threads summed).",
		nil, nil,
	)
	goCores = prometheus.NewDesc(
		"go_sched_maxprocs_threads",
		"The current runtime.GOMAXPROCS setting.",
		nil, nil,
	)
	threadScans = prometheus.NewDesc(
		"process_metrics_thread_scans_total",
		"Number of times the thread list of the process was rebuilt.",
		nil, nil,
	)
)

type collector struct {
	pid  int
	task *os.File

	mu       sync.Mutex
	threads  procfs.Procs
	nthreads uint64
	scans    int64
	running  uint64
	runnable uint64
}

// update sums the schedstat of all threads. The thread list is only rebuilt
// when the link count of /proc/<pid>/task changes, Go never ends threads it
// started.
func (c *collector) update() error {
	var st syscall.Stat_t
	if err := syscall.Fstat(int(c.task.Fd()), &st); err != nil {
		return err
	}
	//nolint:unconvert // Nlink is uint32 on arm64.
	n := uint64(st.Nlink - 2)
	if n != c.nthreads {
		threads, err := procfs.AllThreads(c.pid)
		if err != nil {
			return err
		}
		c.threads, c.nthreads = threads, n
		c.scans++
	}
	var running, runnable uint64
	var err error
	for _, p := range c.threads {
		s, serr := p.Schedstat()
		if serr != nil {
			// The thread is gone, the others are still valid.
			err = serr
			continue
		}
		running += s.RunningNanoseconds
		runnable += s.WaitingNanoseconds
	}
	c.running, c.runnable = running, runnable
	return err
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.update()
	ch <- prometheus.MustNewConstMetric(runningTime, prometheus.CounterValue,
		float64(c.running)/1e9)
	ch <- prometheus.MustNewConstMetric(runnableTime, prometheus.CounterValue,
		float64(c.runnable)/1e9)
	ch <- prometheus.MustNewConstMetric(goCores, prometheus.GaugeValue,
		float64(runtime.GOMAXPROCS(-1)))
	ch <- prometheus.MustNewConstMetric(threadScans, prometheus.CounterValue,
		float64(c.scans))
}

// Register registers the collector with reg, or the default registerer if
// reg is nil. Registering twice with the same registerer fails. Callers can
// ignore the error, the metrics are then missing.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	pid := os.Getpid()
	path := filepath.Join(procfs.DefaultMountPoint, strconv.Itoa(pid), "task")
	task, err := os.Open(path)
	if err != nil {
		return serrors.Wrap("opening task directory", err, "pid", pid)
	}
	c := &collector{pid: pid, task: task}
	if err := c.update(); err != nil {
		task.Close()
		return serrors.Wrap("reading thread statistics", err)
	}
	if err := reg.Register(c); err != nil {
		task.Close()
		return serrors.Wrap("registering collector", err)
	}
	return nil
}
