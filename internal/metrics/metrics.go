// Package metrics provides Prometheus metrics for the face-matching service
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "facematch"

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Engine metrics
	EngineDuration *prometheus.HistogramVec
	EngineErrors   *prometheus.CounterVec
	FacesDetected  prometheus.Histogram

	// Comparison metrics
	Comparisons *prometheus.CounterVec
}

// New creates all metrics on a private registry, together with the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code",
		}, []string{"route", "method", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		EngineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_call_duration_seconds",
			Help:      "Face engine call latency by operation",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		EngineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Failed face engine calls by operation",
		}, []string{"op"}),
		FacesDetected: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "faces_detected",
			Help:      "Faces found per detection call",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		}),

		Comparisons: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comparisons_total",
			Help:      "Encoding comparisons by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, method, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, status).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveEngine records one face engine call.
func (m *Metrics) ObserveEngine(op string, d time.Duration, err error) {
	m.EngineDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		m.EngineErrors.WithLabelValues(op).Inc()
	}
}

// ObserveComparison counts a comparison as a match or a non-match.
func (m *Metrics) ObserveComparison(isMatch bool) {
	outcome := "no_match"
	if isMatch {
		outcome = "match"
	}
	m.Comparisons.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
