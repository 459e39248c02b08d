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

package steering

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowsteer/flowsteer/pkg/metrics"
)

// Drop reasons reported in the dropped packets metric.
const (
	dropReasonAction   = "drop_action"
	dropReasonLoop     = "loop_detected"
	dropReasonDangling = "dangling_reference"
	dropReasonClosed   = "closed"
)

// Metrics are the steering metrics.
type Metrics struct {
	EvaluatedPackets   *prometheus.CounterVec
	DroppedPackets     *prometheus.CounterVec
	TableHits          *prometheus.CounterVec
	TableMisses        *prometheus.CounterVec
	Rules              *prometheus.GaugeVec
	Syncs              *prometheus.CounterVec
	QueueDelivered     *prometheus.CounterVec
	QueueDropped       *prometheus.CounterVec
	FlowCacheLookups   *prometheus.CounterVec
	TransmittedPackets *prometheus.CounterVec
}

// NewMetrics creates the steering metrics with the given factory.
func NewMetrics(f metrics.Factory) *Metrics {
	return &Metrics{
		EvaluatedPackets: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steering_evaluated_pkts_total",
				Help: "Total number of packets evaluated by a domain.",
			},
			[]string{"domain"},
		),
		DroppedPackets: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steering_dropped_pkts_total",
				Help: "Total number of packets dropped by a domain.",
			},
			[]string{"domain", "reason"},
		),
		TableHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steering_table_hits_total",
				Help: "Total number of packets that matched a rule in a table.",
			},
			[]string{"domain", "table"},
		),
		TableMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steering_table_misses_total",
				Help: "Total number of packets that matched no rule in a table.",
			},
			[]string{"domain", "table"},
		),
		Rules: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "steering_rules",
				Help: "Number of rules in a domain.",
			},
			[]string{"domain"},
		),
		Syncs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steering_sync_total",
				Help: "Total number of table programs submitted to the driver.",
			},
			[]string{"domain", "result"},
		),
		QueueDelivered: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steering_queue_delivered_pkts_total",
				Help: "Total number of packets delivered to a queue.",
			},
			[]string{"queue"},
		),
		QueueDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steering_queue_dropped_pkts_total",
				Help: "Total number of packets dropped because a queue was full.",
			},
			[]string{"queue"},
		),
		FlowCacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steering_flow_cache_lookups_total",
				Help: "Total number of flow cache lookups.",
			},
			[]string{"domain", "result"},
		),
		TransmittedPackets: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steering_transmitted_pkts_total",
				Help: "Total number of packets transmitted by a port.",
			},
			[]string{"port"},
		),
	}
}

func newUnregisteredMetrics() *Metrics {
	return NewMetrics(metrics.NewFactory(metrics.WithRegistry(prometheus.NewRegistry())))
}

// domainMetrics are the metrics of one domain with the domain label bound.
// The per table counters are bound when the table is built into a program.
type domainMetrics struct {
	m           *Metrics
	name        string
	evaluated   prometheus.Counter
	rules       prometheus.Gauge
	syncOk      prometheus.Counter
	syncErr     prometheus.Counter
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	drops       map[string]prometheus.Counter
}

func newDomainMetrics(m *Metrics, domain string) domainMetrics {
	drops := make(map[string]prometheus.Counter, 4)
	for _, reason := range []string{
		dropReasonAction, dropReasonLoop, dropReasonDangling, dropReasonClosed,
	} {
		drops[reason] = m.DroppedPackets.WithLabelValues(domain, reason)
	}
	return domainMetrics{
		m:           m,
		name:        domain,
		evaluated:   m.EvaluatedPackets.WithLabelValues(domain),
		rules:       m.Rules.WithLabelValues(domain),
		syncOk:      m.Syncs.WithLabelValues(domain, "ok"),
		syncErr:     m.Syncs.WithLabelValues(domain, "err"),
		cacheHits:   m.FlowCacheLookups.WithLabelValues(domain, "hit"),
		cacheMisses: m.FlowCacheLookups.WithLabelValues(domain, "miss"),
		drops:       drops,
	}
}

func (m domainMetrics) dropped(reason string) {
	m.drops[reason].Inc()
}

// tableCounters returns the hit and miss counters of a table.
func (m domainMetrics) tableCounters(table string) (prometheus.Counter, prometheus.Counter) {
	return m.m.TableHits.WithLabelValues(m.name, table),
		m.m.TableMisses.WithLabelValues(m.name, table)
}

// forgetTable removes the series of a destroyed table.
func (m domainMetrics) forgetTable(table string) {
	m.m.TableHits.DeleteLabelValues(m.name, table)
	m.m.TableMisses.DeleteLabelValues(m.name, table)
}
