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

// Package metrics contains the Factory used by flowsteer components to
// create and register their prometheus collectors. Components accept a
// Factory instead of registering on the default registry so that tests can
// construct them with a private registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the prometheus namespace shared by all flowsteer metrics.
const Namespace = "flowsteer"

type Option func(*Options)

// Options configures the metrics Factory, construct it using the ApplyOptions
// function.
type Options struct {
	registry            prometheus.Registerer
	constLabels         prometheus.Labels
	collectorCustomizer func(string, prometheus.Collector) prometheus.Collector
}

func (o Options) registerer() prometheus.Registerer {
	reg := o.registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(o.constLabels) > 0 {
		reg = prometheus.WrapRegistererWith(o.constLabels, reg)
	}
	return reg
}

// WithCollectorCustomizer sets a customizer function that is called for each
// collector before it is registered. The function receives the fully qualified
// name of the collector and must return the collector to be registered.
func WithCollectorCustomizer(
	customizer func(string, prometheus.Collector) prometheus.Collector,
) Option {
	return func(o *Options) {
		o.collectorCustomizer = customizer
	}
}

// WithRegistry registers all collectors on registry instead of the default
// registerer.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(o *Options) {
		o.registry = registry
	}
}

// WithConstLabels attaches the labels to every collector created by the
// Factory, e.g. the instance ID of the service.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(o *Options) {
		o.constLabels = labels
	}
}

func ApplyOptions(options ...Option) Options {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}
	return opts
}

// Auto creates a Factory that uses the provided Options as registry. If no
// explicit registry is set the default registry is used.
func (o Options) Auto() Factory {
	return Factory{opts: o}
}

// NewFactory is a shorthand for ApplyOptions(opts...).Auto().
func NewFactory(opts ...Option) Factory {
	return ApplyOptions(opts...).Auto()
}

// Factory is a metrics Factory that registers metrics using the provided
// Options. Construct it using the Options.Auto function. The zero value
// registers on the default registerer.
type Factory struct {
	opts Options
}

func (f Factory) register(fqName string, c prometheus.Collector) {
	if f.opts.collectorCustomizer != nil {
		c = f.opts.collectorCustomizer(fqName, c)
	}
	f.opts.registerer().MustRegister(c)
}

func (f Factory) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	f.register(prometheus.BuildFQName(opts.Namespace, opts.Subsystem, opts.Name), c)
	return c
}

func (f Factory) NewCounterVec(
	opts prometheus.CounterOpts,
	labelNames []string,
) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labelNames)
	f.register(prometheus.BuildFQName(opts.Namespace, opts.Subsystem, opts.Name), c)
	return c
}

func (f Factory) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(opts, labelNames)
	f.register(prometheus.BuildFQName(opts.Namespace, opts.Subsystem, opts.Name), g)
	return g
}

func (f Factory) NewGaugeFunc(
	opts prometheus.GaugeOpts,
	function func() float64,
) prometheus.GaugeFunc {
	g := prometheus.NewGaugeFunc(opts, function)
	f.register(prometheus.BuildFQName(opts.Namespace, opts.Subsystem, opts.Name), g)
	return g
}

func (f Factory) NewHistogramVec(
	opts prometheus.HistogramOpts,
	labelNames []string,
) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labelNames)
	f.register(prometheus.BuildFQName(opts.Namespace, opts.Subsystem, opts.Name), h)
	return h
}
