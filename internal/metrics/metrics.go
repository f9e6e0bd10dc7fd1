// Package metrics holds the Prometheus collectors for the HTTP surface and
// the submission pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grant_intake"

type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	submissions   *prometheus.CounterVec
	crmSteps      *prometheus.HistogramVec
	partialWrites *prometheus.CounterVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submissions",
			Name:      "total",
			Help:      "Submissions by round and result.",
		}, []string{"round", "result"}),
		crmSteps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crm",
			Name:      "step_duration_seconds",
			Help:      "Duration of CRM orchestration steps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"step", "outcome"}),
		partialWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crm",
			Name:      "partial_writes_total",
			Help:      "Records created whose attachment was not uploaded or linked.",
		}, []string{"round"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight, m.httpRequests, m.httpDuration,
		m.submissions, m.crmSteps, m.partialWrites,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) InFlight(delta float64) {
	m.httpInFlight.Add(delta)
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordSubmission counts one submission outcome, e.g. "success" or
// "validation_failed".
func (m *Metrics) RecordSubmission(round, result string) {
	m.submissions.WithLabelValues(round, result).Inc()
}

func (m *Metrics) RecordStep(step string, ok bool, d time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.crmSteps.WithLabelValues(step, outcome).Observe(d.Seconds())
}

func (m *Metrics) RecordPartialWrite(round string) {
	m.partialWrites.WithLabelValues(round).Inc()
}
