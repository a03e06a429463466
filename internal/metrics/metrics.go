// Package metrics exposes prometheus collectors for checkout, pricing and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkout"

type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	phaseFailures *prometheus.CounterVec
	phaseLatency  *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	reprices      *prometheus.CounterVec
	repriceTime   prometheus.Histogram
	requests      *prometheus.CounterVec
	requestTime   *prometheus.HistogramVec
}

// New builds every collector on a fresh registry that also carries the process and Go
// runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_transitions_total",
			Help:      "Checkout lock states entered.",
		}, []string{"state"}),
		phaseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_failures_total",
			Help:      "Checkout phases that failed and triggered compensation.",
		}, []string{"phase"}),
		phaseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Checkout phase side-effect latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing_cache",
			Name:      "lookups_total",
			Help:      "Pricing cache lookups by type and result.",
		}, []string{"type", "result"}),
		reprices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "reprices_total",
			Help:      "Cart reprices by trigger.",
		}, []string{"trigger"}),
		repriceTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "reprice_duration_seconds",
			Help:      "Cart reprice latency.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		requestTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions, m.phaseFailures, m.phaseLatency,
		m.cacheLookups, m.reprices, m.repriceTime,
		m.requests, m.requestTime,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Transition(state string) {
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) PhaseFailed(phase string) {
	m.phaseFailures.WithLabelValues(phase).Inc()
}

func (m *Metrics) PhaseDuration(phase string, took time.Duration) {
	m.phaseLatency.WithLabelValues(phase).Observe(took.Seconds())
}

func (m *Metrics) CacheLookup(cacheType, result string) {
	m.cacheLookups.WithLabelValues(cacheType, result).Inc()
}

func (m *Metrics) Repriced(trigger string, took time.Duration) {
	m.reprices.WithLabelValues(trigger).Inc()
	m.repriceTime.Observe(took.Seconds())
}

func (m *Metrics) Request(route string, status int, took time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestTime.WithLabelValues(route).Observe(took.Seconds())
}
