// Package metrics provides the Provider abstraction that counters and
// gauges are published through. Its one publisher in this module is the
// event bus (published and dropped event counts); the controller and the
// plugin runtimes publish nothing through it. It keeps the
// same minimal interface shape the teacher's internal
// metrics package exposes, but backed here by a real
// prometheus/client_golang registry instead of a noop implementation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Provider is the minimal metrics provider contract used by the runtime.
type Provider interface {
	NewCounter(opts CommonOpts) Counter
	NewGauge(opts CommonOpts) Gauge
	NewHistogram(opts HistogramOpts) Histogram
}

type Counter interface{ Inc(delta float64, labels ...string) }
type Gauge interface {
	Set(v float64, labels ...string)
	Add(delta float64, labels ...string)
}
type Histogram interface{ Observe(v float64, labels ...string) }

// CommonOpts names a metric and its label dimensions.
type CommonOpts struct {
	Namespace, Subsystem, Name, Help string
	Labels                           []string
}

// HistogramOpts adds bucket boundaries to CommonOpts.
type HistogramOpts struct {
	CommonOpts
	Buckets []float64
}

// PromProvider is a Provider backed by a prometheus.Registry.
type PromProvider struct {
	reg *prometheus.Registry
}

// NewPromProvider returns a Provider registering all metrics against reg.
// A nil reg creates a fresh, isolated registry (useful in tests).
func NewPromProvider(reg *prometheus.Registry) *PromProvider {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &PromProvider{reg: reg}
}

// Registry exposes the underlying registry, e.g. for an HTTP /metrics handler.
func (p *PromProvider) Registry() *prometheus.Registry { return p.reg }

func (p *PromProvider) NewCounter(o CommonOpts) Counter {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help,
	}, o.Labels)
	p.reg.MustRegister(v)
	return promCounter{v}
}

func (p *PromProvider) NewGauge(o CommonOpts) Gauge {
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help,
	}, o.Labels)
	p.reg.MustRegister(v)
	return promGauge{v}
}

func (p *PromProvider) NewHistogram(o HistogramOpts) Histogram {
	buckets := o.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help, Buckets: buckets,
	}, o.Labels)
	p.reg.MustRegister(v)
	return promHistogram{v}
}

type promCounter struct{ v *prometheus.CounterVec }

func (c promCounter) Inc(delta float64, labels ...string) { c.v.WithLabelValues(labels...).Add(delta) }

type promGauge struct{ v *prometheus.GaugeVec }

func (g promGauge) Set(v float64, labels ...string) { g.v.WithLabelValues(labels...).Set(v) }
func (g promGauge) Add(v float64, labels ...string)  { g.v.WithLabelValues(labels...).Add(v) }

type promHistogram struct{ v *prometheus.HistogramVec }

func (h promHistogram) Observe(v float64, labels ...string) { h.v.WithLabelValues(labels...).Observe(v) }
