package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "folio"

// PrometheusRecorder exposes metrics through a Prometheus registry.
type PrometheusRecorder struct {
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	authResults      *prometheus.CounterVec
	loginAttempts    *prometheus.CounterVec
	usersRegistered  prometheus.Counter
	ownerResolutions *prometheus.CounterVec
	ownerCache       *prometheus.CounterVec
	ownerDuration    prometheus.Histogram
	auditPublished   *prometheus.CounterVec
	auditProcessed   *prometheus.CounterVec
	auditBatchSize   prometheus.Histogram
	auditBatchTime   prometheus.Histogram
	auditQueueDepth  prometheus.Gauge
	auditIngestLag   prometheus.Histogram
}

// NewPrometheus creates a recorder and registers its collectors with reg.
// Registration errors panic, as with prometheus.MustRegister.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	p := &PrometheusRecorder{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status class",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_results_total",
			Help:      "Bearer token authentication outcomes",
		}, []string{"outcome"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome",
		}, []string{"outcome"}),
		usersRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "users_registered_total",
			Help:      "Registered users",
		}),
		ownerResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "owner_resolutions_total",
			Help:      "Owner resolutions by source or failure",
		}, []string{"source"}),
		ownerCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "owner_cache_lookups_total",
			Help:      "Owner binding cache lookups",
		}, []string{"result"}),
		ownerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "owner_resolve_duration_seconds",
			Help:      "Owner resolution duration",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		}),
		auditPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_published_total",
			Help:      "Login audit events published to the stream",
		}, []string{"status"}),
		auditProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_processed_total",
			Help:      "Login audit events processed by the worker",
		}, []string{"status"}),
		auditBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audit_batch_size",
			Help:      "Audit worker batch size",
			Buckets:   []float64{1, 5, 10, 25, 50, 100},
		}),
		auditBatchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audit_batch_duration_seconds",
			Help:      "Audit worker batch duration",
			Buckets:   prometheus.DefBuckets,
		}),
		auditQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_queue_depth",
			Help:      "Pending audit events",
		}),
		auditIngestLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audit_ingest_lag_seconds",
			Help:      "Delay between a login attempt and its persistence",
			Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		}),
	}

	reg.MustRegister(
		p.httpRequests,
		p.httpDuration,
		p.authResults,
		p.loginAttempts,
		p.usersRegistered,
		p.ownerResolutions,
		p.ownerCache,
		p.ownerDuration,
		p.auditPublished,
		p.auditProcessed,
		p.auditBatchSize,
		p.auditBatchTime,
		p.auditQueueDepth,
		p.auditIngestLag,
	)

	return p
}

// ObserveHTTPRequest records a served request.
func (p *PrometheusRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncAuthResult increments the counter for an auth outcome.
func (p *PrometheusRecorder) IncAuthResult(outcome string) {
	p.authResults.WithLabelValues(outcome).Inc()
}

// IncLoginAttempt increments the counter for a login outcome.
func (p *PrometheusRecorder) IncLoginAttempt(outcome string) {
	p.loginAttempts.WithLabelValues(outcome).Inc()
}

// IncUserRegistered increments the registration counter.
func (p *PrometheusRecorder) IncUserRegistered() {
	p.usersRegistered.Inc()
}

// IncOwnerResolution increments the counter for an owner resolution source.
func (p *PrometheusRecorder) IncOwnerResolution(source string) {
	p.ownerResolutions.WithLabelValues(source).Inc()
}

// IncOwnerCacheHit increments owner cache hit counter.
func (p *PrometheusRecorder) IncOwnerCacheHit() {
	p.ownerCache.WithLabelValues("hit").Inc()
}

// IncOwnerCacheMiss increments owner cache miss counter.
func (p *PrometheusRecorder) IncOwnerCacheMiss() {
	p.ownerCache.WithLabelValues("miss").Inc()
}

// ObserveOwnerResolveDuration records owner resolution duration.
func (p *PrometheusRecorder) ObserveOwnerResolveDuration(duration time.Duration) {
	p.ownerDuration.Observe(duration.Seconds())
}

// IncAuditEventPublished increments the published counter for a status.
func (p *PrometheusRecorder) IncAuditEventPublished(status string) {
	p.auditPublished.WithLabelValues(status).Inc()
}

// IncAuditEventProcessed increments the processed counter for a status.
func (p *PrometheusRecorder) IncAuditEventProcessed(status string) {
	p.auditProcessed.WithLabelValues(status).Inc()
}

// ObserveAuditBatchSize records a batch size.
func (p *PrometheusRecorder) ObserveAuditBatchSize(size int) {
	p.auditBatchSize.Observe(float64(size))
}

// ObserveAuditBatchDuration records batch processing time.
func (p *PrometheusRecorder) ObserveAuditBatchDuration(duration time.Duration) {
	p.auditBatchTime.Observe(duration.Seconds())
}

// SetAuditQueueDepth sets the pending event gauge.
func (p *PrometheusRecorder) SetAuditQueueDepth(depth int64) {
	p.auditQueueDepth.Set(float64(depth))
}

// ObserveAuditIngestLag records ingest lag.
func (p *PrometheusRecorder) ObserveAuditIngestLag(lag time.Duration) {
	p.auditIngestLag.Observe(lag.Seconds())
}

// statusClass collapses a status code to "2xx", "4xx", etc.
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
