package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Security core metrics
var (
	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_refresh_total",
			Help: "Refresh token exchanges by result.",
		},
		[]string{"result"},
	)

	csrfRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "csrf_rejections_total",
		Help: "Unsafe requests rejected by the CSRF guard.",
	})

	auditWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_write_failures_total",
		Help: "Audit entries that could not be persisted after retries.",
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginTotal, refreshTotal, csrfRejections, auditWriteFailures,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin counts a login attempt. result is one of ok, invalid, disabled,
// throttled.
func ObserveLogin(result string) { loginTotal.WithLabelValues(result).Inc() }

// ObserveRefresh counts a refresh exchange by result.
func ObserveRefresh(result string) { refreshTotal.WithLabelValues(result).Inc() }

// ObserveCSRFRejection counts a rejected unsafe request.
func ObserveCSRFRejection() { csrfRejections.Inc() }

// ObserveAuditWriteFailure counts an audit entry dropped after retries.
func ObserveAuditWriteFailure() { auditWriteFailures.Inc() }

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses unknown paths so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "other"
}

var knownPaths = map[string]struct{}{
	"/":                                  {},
	"/metrics":                           {},
	"/health":                            {},
	"/healthz":                           {},
	"/readyz":                            {},
	"/api/v1/info":                       {},
	"/api/v1/auth/register":              {},
	"/api/v1/auth/login":                 {},
	"/api/v1/auth/refresh":               {},
	"/api/v1/auth/logout":                {},
	"/api/v1/auth/me":                    {},
	"/api/v1/auth/password/change":       {},
	"/api/v1/auth/password-reset/request": {},
	"/api/v1/auth/password-reset/confirm": {},
	"/api/v1/admin/logs":                 {},
	"/api/v1/admin/activity":             {},
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
