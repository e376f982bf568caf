package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest("/health", "GET", "200", 10*time.Millisecond)
	m.ObserveRequest("/health", "GET", "200", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/health", "GET", "200")))
}

func TestObserveEngine(t *testing.T) {
	m := New()
	m.ObserveEngine("detect", time.Millisecond, nil)
	m.ObserveEngine("detect", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineErrors.WithLabelValues("detect")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EngineErrors.WithLabelValues("encode")))
}

func TestObserveComparison(t *testing.T) {
	m := New()
	m.ObserveComparison(true)
	m.ObserveComparison(false)
	m.ObserveComparison(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Comparisons.WithLabelValues("match")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Comparisons.WithLabelValues("no_match")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveComparison(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `facematch_comparisons_total{outcome="match"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
