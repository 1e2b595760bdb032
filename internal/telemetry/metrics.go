// Package telemetry exposes Prometheus metrics for HTTP requests, warehouse
// queries and insight detectors.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

const namespace = "intelligent_ops"

// Metrics holds every collector on its own registry.
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	RateLimitHits    prometheus.Counter
	QueryLatency     prometheus.Histogram
	QueryErrors      *prometheus.CounterVec
	DetectorLatency  *prometheus.HistogramVec
	DetectorFindings *prometheus.GaugeVec
	DetectorFailures *prometheus.CounterVec
	registry         *prometheus.Registry
}

// New creates and registers all collectors, plus the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		RequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		QueryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "warehouse_query_duration_seconds",
			Help:      "Warehouse query latency.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warehouse_query_errors_total",
			Help:      "Failed warehouse queries by error kind.",
		}, []string{"kind"}),
		DetectorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "insight_detector_duration_seconds",
			Help:      "Insight detector run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"detector"}),
		DetectorFindings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "insight_detector_findings",
			Help:      "Findings produced by the last run of each detector.",
		}, []string{"detector"}),
		DetectorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insight_detector_failures_total",
			Help:      "Detector runs that failed and were skipped.",
		}, []string{"detector"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.RequestCounter, m.RequestLatency, m.RateLimitHits,
		m.QueryLatency, m.QueryErrors,
		m.DetectorLatency, m.DetectorFindings, m.DetectorFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveQuery implements engine.QueryObserver.
func (m *Metrics) ObserveQuery(d time.Duration, err error) {
	m.QueryLatency.Observe(d.Seconds())
	if err != nil {
		m.QueryErrors.WithLabelValues(errorKind(err)).Inc()
	}
}

// ObserveDetector implements insights.DetectorObserver.
func (m *Metrics) ObserveDetector(category domain.Category, d time.Duration, findings int, err error) {
	det := string(category)
	m.DetectorLatency.WithLabelValues(det).Observe(d.Seconds())
	if err != nil {
		m.DetectorFailures.WithLabelValues(det).Inc()
		m.DetectorFindings.WithLabelValues(det).Set(0)
		return
	}
	m.DetectorFindings.WithLabelValues(det).Set(float64(findings))
}

// IncrementRateLimitHit counts one rejected request.
func (m *Metrics) IncrementRateLimitHit() {
	m.RateLimitHits.Inc()
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.RequestLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "query"
	}
}
