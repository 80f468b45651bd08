package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication / authorization metrics
	LoginAttemptsTotal   *prometheus.CounterVec
	APIKeyAuthTotal      *prometheus.CounterVec
	AccessDecisionsTotal *prometheus.CounterVec
	CSRFRejectionsTotal  prometheus.Counter
	RateLimitHitsTotal   *prometheus.CounterVec

	// Session metrics
	SessionsActive       prometheus.Gauge
	SessionsSweptTotal   prometheus.Counter

	// Webhook delivery metrics
	WebhookAttemptsTotal  *prometheus.CounterVec
	WebhookAttemptSeconds *prometheus.HistogramVec
	WebhookQueueDepth     *prometheus.GaugeVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_login_attempts_total",
				Help: "Total number of login attempts",
			},
			[]string{"outcome"},
		),
		APIKeyAuthTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_api_key_auth_total",
				Help: "API-key authentication outcomes",
			},
			[]string{"outcome"},
		),
		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_access_decisions_total",
				Help: "Access-decision outcomes by check kind",
			},
			[]string{"check", "outcome"},
		),
		CSRFRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_csrf_rejections_total",
				Help: "Requests rejected by the CSRF guard",
			},
		),
		RateLimitHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_rate_limit_hits_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"limiter"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_sessions_active",
				Help: "Number of live sessions",
			},
		),
		SessionsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_sessions_swept_total",
				Help: "Expired sessions removed by the sweep",
			},
		),
		WebhookAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_webhook_attempts_total",
				Help: "Outbound webhook delivery attempts by outcome",
			},
			[]string{"name", "outcome"},
		),
		WebhookAttemptSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_webhook_attempt_duration_seconds",
				Help:    "Outbound webhook attempt duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"name"},
		),
		WebhookQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "portal_webhook_queue_depth",
				Help: "Outbound webhook events by status",
			},
			[]string{"status"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_notifications_total",
				Help: "Notifications dispatched by channel",
			},
			[]string{"channel"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.APIKeyAuthTotal,
		m.AccessDecisionsTotal,
		m.CSRFRejectionsTotal,
		m.RateLimitHitsTotal,
		m.SessionsActive,
		m.SessionsSweptTotal,
		m.WebhookAttemptsTotal,
		m.WebhookAttemptSeconds,
		m.WebhookQueueDepth,
		m.NotificationsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// ObserveDBStats copies the pool counters onto the gauges. Callers run it
// on a ticker.
func (m *Metrics) ObserveDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// ObserveWebhookAttempt records one delivery attempt. Satisfies the
// webhook monitor's observer interface.
func (m *Metrics) ObserveWebhookAttempt(name, outcome string, seconds float64) {
	m.WebhookAttemptsTotal.WithLabelValues(name, outcome).Inc()
	m.WebhookAttemptSeconds.WithLabelValues(name).Observe(seconds)
}

// ObserveNotification records one dispatched notification. Satisfies the
// notification dispatcher's observer interface.
func (m *Metrics) ObserveNotification(channel string) {
	m.NotificationsTotal.WithLabelValues(channel).Inc()
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
