package observability

import (
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

	// Access decision metrics
	AccessDecisionsTotal *prometheus.CounterVec
	AccessDenialsTotal   *prometheus.CounterVec
	DecisionCacheHits    *prometheus.CounterVec
	DecisionCacheMisses  *prometheus.CounterVec

	// Scope transition metrics
	ScopeTransitionsTotal *prometheus.CounterVec
	ScopeViolationsTotal  *prometheus.CounterVec
	EntryIntentsCreated   prometheus.Counter
	EntryIntentsConsumed  prometheus.Counter
	EntryIntentsExpired   prometheus.Counter

	// Session metrics
	SessionsActive      prometheus.Gauge
	SessionRefreshTotal *prometheus.CounterVec
	IdleWarningsTotal   prometheus.Counter
	IdleExpiriesTotal   prometheus.Counter

	// Audit sink metrics
	AuditEventsTotal   *prometheus.CounterVec
	AuditSinkFailures  *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearway_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clearway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearway_access_decisions_total",
				Help: "Total number of access decisions by guard and effect",
			},
			[]string{"guard", "effect"},
		),
		AccessDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearway_access_denials_total",
				Help: "Total number of denials by reason code",
			},
			[]string{"guard", "reason"},
		),
		DecisionCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearway_decision_cache_hits_total",
				Help: "Total number of resolver decision cache hits",
			},
			[]string{"check"},
		),
		DecisionCacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearway_decision_cache_misses_total",
				Help: "Total number of resolver decision cache misses",
			},
			[]string{"check"},
		),

		ScopeTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearway_scope_transitions_total",
				Help: "Total number of validated scope transitions",
			},
			[]string{"from", "to"},
		),
		ScopeViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearway_scope_violations_total",
				Help: "Total number of blocked cross-scope transitions",
			},
			[]string{"from", "to", "reason"},
		),
		EntryIntentsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clearway_entry_intents_created_total",
				Help: "Total number of scope entry intents created",
			},
		),
		EntryIntentsConsumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clearway_entry_intents_consumed_total",
				Help: "Total number of scope entry intents consumed by validation",
			},
		),
		EntryIntentsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clearway_entry_intents_expired_total",
				Help: "Total number of scope entry intents discarded as expired",
			},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clearway_sessions_active",
				Help: "Number of cached active sessions",
			},
		),
		SessionRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearway_session_refresh_total",
				Help: "Total number of session refreshes by trigger",
			},
			[]string{"trigger"},
		),
		IdleWarningsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clearway_idle_warnings_total",
				Help: "Total number of inactivity warnings issued",
			},
		),
		IdleExpiriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clearway_idle_expiries_total",
				Help: "Total number of sessions expired for inactivity",
			},
		),

		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearway_audit_events_total",
				Help: "Total number of audit events written",
			},
			[]string{"sink", "status"},
		),
		AuditSinkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearway_audit_sink_failures_total",
				Help: "Total number of best-effort audit writes that failed",
			},
			[]string{"sink"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clearway_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clearway_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AccessDecisionsTotal,
		m.AccessDenialsTotal,
		m.DecisionCacheHits,
		m.DecisionCacheMisses,
		m.ScopeTransitionsTotal,
		m.ScopeViolationsTotal,
		m.EntryIntentsCreated,
		m.EntryIntentsConsumed,
		m.EntryIntentsExpired,
		m.SessionsActive,
		m.SessionRefreshTotal,
		m.IdleWarningsTotal,
		m.IdleExpiriesTotal,
		m.AuditEventsTotal,
		m.AuditSinkFailures,
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

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
