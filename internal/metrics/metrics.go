// Package metrics provides Prometheus metrics for the auth service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Authentication metrics
	loginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"status"}, // "success", "failure", "locked"
	)

	registrationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Total number of user registrations",
		},
	)

	tokenRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_token_refreshes_total",
			Help: "Total number of refresh-token exchanges",
		},
	)

	accountLockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_account_lockouts_total",
			Help: "Total number of account lockouts",
		},
	)

	// OIDC metrics
	oidcFlowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_oidc_flows_total",
			Help: "Total number of OIDC federation flows",
		},
		[]string{"stage"}, // "started", "completed", "failed"
	)

	// Rate limiting metrics
	rateLimitExceededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_rate_limit_exceeded_total",
			Help: "Total number of rate limit exceeded events",
		},
		[]string{"endpoint"},
	)
)

// RecordLogin records a login attempt.
func RecordLogin(status string) {
	loginAttemptsTotal.WithLabelValues(status).Inc()
}

// RecordRegistration records a user registration.
func RecordRegistration() {
	registrationsTotal.Inc()
}

// RecordTokenRefresh records a refresh-token exchange.
func RecordTokenRefresh() {
	tokenRefreshesTotal.Inc()
}

// RecordLockout records an account lockout.
func RecordLockout() {
	accountLockoutsTotal.Inc()
}

// RecordOIDCFlow records an OIDC federation flow stage.
func RecordOIDCFlow(stage string) {
	oidcFlowsTotal.WithLabelValues(stage).Inc()
}

// RecordRateLimitExceeded records a rate limit exceeded event.
func RecordRateLimitExceeded(endpoint string) {
	rateLimitExceededTotal.WithLabelValues(endpoint).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes the path for metrics to avoid high cardinality.
func normalizePath(path string) string {
	knownPaths := []string{
		"/",
		"/healthz",
		"/readyz",
		"/metrics",
		"/api/auth/token",
		"/api/auth/login",
		"/api/auth/register",
		"/api/auth/refresh",
		"/api/auth/me",
		"/api/auth/change-password",
		"/api/auth/logout",
		"/api/auth/users",
		"/api/auth/oidc/login",
		"/api/auth/oidc/callback",
		"/api/auth/oidc/status",
		"/dummy-oidc/.well-known/openid_configuration",
		"/dummy-oidc/jwks",
		"/dummy-oidc/auth",
		"/dummy-oidc/token",
		"/dummy-oidc/userinfo",
	}

	for _, known := range knownPaths {
		if path == known {
			return path
		}
	}

	// Normalize unknown paths to prevent high cardinality
	return "/other"
}
