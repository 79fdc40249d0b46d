// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector is the recording interface used by services, middleware and workers.
type MetricsCollector interface {
	RecordCodeIssued()
	RecordCodeVerification(result string)
	RecordLogin(method, result string)
	RecordTokenIssued()
	RecordTokensRevoked(count int)
	RecordRateLimited(scope string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordCodesPurged(count int64)
}

// Collector is the Prometheus implementation of MetricsCollector.
type Collector struct {
	codesIssued    prometheus.Counter
	verifications  *prometheus.CounterVec
	logins         *prometheus.CounterVec
	tokensIssued   prometheus.Counter
	tokensRevoked  prometheus.Counter
	rateLimited    *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	codesPurged    prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		codesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_codes_issued_total",
			Help: "Verification codes issued and delivered.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_code_verifications_total",
			Help: "Code verification attempts by result.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_logins_total",
			Help: "Login attempts by method and result.",
		}, []string{"method", "result"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_tokens_issued_total",
			Help: "Bearer tokens issued.",
		}),
		tokensRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_tokens_revoked_total",
			Help: "Bearer tokens revoked by logout or password change.",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_rate_limited_total",
			Help: "Requests rejected by a rate limit, by scope.",
		}, []string{"scope"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_http_status_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authcore_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		codesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_codes_purged_total",
			Help: "Dead verification codes deleted by the cleanup worker.",
		}),
	}

	reg.MustRegister(
		c.codesIssued,
		c.verifications,
		c.logins,
		c.tokensIssued,
		c.tokensRevoked,
		c.rateLimited,
		c.httpStatus,
		c.requestLatency,
		c.codesPurged,
	)

	return c
}

// RecordCodeIssued counts a delivered code.
func (c *Collector) RecordCodeIssued() {
	c.codesIssued.Inc()
}

// RecordCodeVerification counts a verification by result label.
func (c *Collector) RecordCodeVerification(result string) {
	c.verifications.WithLabelValues(result).Inc()
}

// RecordLogin counts a login attempt.
func (c *Collector) RecordLogin(method, result string) {
	c.logins.WithLabelValues(method, result).Inc()
}

// RecordTokenIssued counts an issued token.
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordTokensRevoked adds count revoked tokens.
func (c *Collector) RecordTokensRevoked(count int) {
	if count <= 0 {
		return
	}
	c.tokensRevoked.Add(float64(count))
}

// RecordRateLimited counts a rejected request for scope.
func (c *Collector) RecordRateLimited(scope string) {
	c.rateLimited.WithLabelValues(scope).Inc()
}

// RecordHTTPStatus counts a response status code.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency observes a request duration.
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordCodesPurged adds count deleted codes.
func (c *Collector) RecordCodesPurged(count int64) {
	if count <= 0 {
		return
	}
	c.codesPurged.Add(float64(count))
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute returns a mux serving Handler at /metrics.
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
