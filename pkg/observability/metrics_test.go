package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.AccessDecisionsTotal.WithLabelValues("company_section", "allowed").Inc()
	m.WebhookAttemptsTotal.WithLabelValues("notify.email", "succeeded").Inc()
	m.RateLimitHitsTotal.WithLabelValues("api").Add(3)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.AccessDecisionsTotal.WithLabelValues("company_section", "allowed")))
	assert.Equal(t, float64(3),
		testutil.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("api")))
}

func TestNewMetricsDoubleRegisterPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/roles", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/roles", "418")))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.SessionsActive.Set(12)

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "portal_sessions_active 12")
}
