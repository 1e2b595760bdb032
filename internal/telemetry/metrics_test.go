package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

func TestObserveQuery(t *testing.T) {
	m := New()

	m.ObserveQuery(5*time.Millisecond, nil)
	m.ObserveQuery(time.Millisecond, errors.New("syntax error"))
	m.ObserveQuery(time.Millisecond, fmt.Errorf("query: %w", context.DeadlineExceeded))

	assert.Equal(t, 1, promtestutil.CollectAndCount(m.QueryLatency))
	assert.InDelta(t, 1, promtestutil.ToFloat64(m.QueryErrors.WithLabelValues("query")), 0)
	assert.InDelta(t, 1, promtestutil.ToFloat64(m.QueryErrors.WithLabelValues("timeout")), 0)
	assert.InDelta(t, 0, promtestutil.ToFloat64(m.QueryErrors.WithLabelValues("canceled")), 0)
}

func TestObserveDetector(t *testing.T) {
	m := New()

	m.ObserveDetector(domain.CategoryAnomaly, time.Millisecond, 7, nil)
	m.ObserveDetector(domain.CategoryBenchmark, time.Millisecond, 3, nil)
	m.ObserveDetector(domain.CategoryBenchmark, time.Millisecond, 0, errors.New("boom"))

	assert.InDelta(t, 7, promtestutil.ToFloat64(m.DetectorFindings.WithLabelValues("anomaly")), 0)
	assert.InDelta(t, 0, promtestutil.ToFloat64(m.DetectorFindings.WithLabelValues("benchmark")), 0)
	assert.InDelta(t, 1, promtestutil.ToFloat64(m.DetectorFailures.WithLabelValues("benchmark")), 0)
	assert.Equal(t, 2, promtestutil.CollectAndCount(m.DetectorLatency))
}

func TestMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/v1/sessions/a", "/v1/sessions/b", "/v1/health"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, 2, promtestutil.ToFloat64(m.RequestCounter.WithLabelValues("GET", "/v1/sessions/{id}", "404")), 0)
	assert.InDelta(t, 1, promtestutil.ToFloat64(m.RequestCounter.WithLabelValues("GET", "/v1/health", "200")), 0)
}

func TestHandler(t *testing.T) {
	m := New()
	m.IncrementRateLimitHit()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "intelligent_ops_rate_limit_hits_total 1")
	assert.True(t, strings.Contains(body, "go_goroutines"), "runtime collectors are registered")
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncrementRateLimitHit()
	assert.InDelta(t, 0, promtestutil.ToFloat64(b.RateLimitHits), 0)
}
