package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/webguard/internal/version"
)

type ServerMetrics struct {
	reg       *prometheus.Registry
	handler   http.Handler
	inflight  prometheus.Gauge
	reqTotal  *prometheus.CounterVec
	reqDur    *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec
	buildInfo *prometheus.GaugeVec

	httpPanicTotal prometheus.Counter
	errorsTotal    *prometheus.CounterVec

	// security pipeline
	rateLimitedTotal    *prometheus.CounterVec
	rateLimitStoreErrs  *prometheus.CounterVec
	burstDeniedTotal    prometheus.Counter
	burstCapacityTotal  prometheus.Counter
	csrfRejectedTotal   *prometheus.CounterVec
	csrfIssuedTotal     prometheus.Counter
	auditDroppedTotal   *prometheus.CounterVec
	policyInfo          *prometheus.GaugeVec
	policyLoadedTs      prometheus.Gauge
	validationFailTotal *prometheus.CounterVec

	profilingActive prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP and security metrics.
// Labels stay low cardinality: method, route, status, tier, reason.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304},
		}, []string{"method", "route"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		rateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Requests rejected by a window rate limiter, by tier",
		}, []string{"tier"}),
		rateLimitStoreErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Rate limit store failures (requests were allowed), by tier",
		}, []string{"tier"}),
		burstDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_burst_denied_total",
			Help: "Requests rejected by the per-ip burst guard",
		}),
		burstCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_burst_capacity_total",
			Help: "New ips turned away because the burst guard was full",
		}),
		csrfRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csrf_rejected_total",
			Help: "Requests rejected by CSRF protection, by reason code",
		}, []string{"reason"}),
		csrfIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csrf_tokens_issued_total",
			Help: "CSRF tokens issued",
		}),
		auditDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Security audit events that could not be delivered, by sink",
		}, []string{"sink"}),
		policyInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "security_policy_info",
			Help: "Active security policy (labels carry identity, value is always 1)",
		}, []string{"version", "hash", "source"}),
		policyLoadedTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "security_policy_loaded_timestamp_seconds",
			Help: "Unix timestamp of when the active security policy was loaded",
		}),
		validationFailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_validation_failures_total",
			Help: "Request payloads rejected by validation, by route",
		}, []string{"route"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.buildInfo,
		m.httpPanicTotal,
		m.errorsTotal,
		m.rateLimitedTotal,
		m.rateLimitStoreErrs,
		m.burstDeniedTotal,
		m.burstCapacityTotal,
		m.csrfRejectedTotal,
		m.csrfIssuedTotal,
		m.auditDroppedTotal,
		m.policyInfo,
		m.policyLoadedTs,
		m.validationFailTotal,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the registry for components registering their own collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.Modified != nil {
		dirty = strconv.FormatBool(*vi.Modified)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildID,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimited(tier string) {
	m.rateLimitedTotal.WithLabelValues(tier).Inc()
}

func (m *ServerMetrics) IncRateLimitStoreError(tier string) {
	m.rateLimitStoreErrs.WithLabelValues(tier).Inc()
}

func (m *ServerMetrics) IncBurstDenied() {
	m.burstDeniedTotal.Inc()
}

func (m *ServerMetrics) IncBurstCapacity() {
	m.burstCapacityTotal.Inc()
}

func (m *ServerMetrics) IncCSRFRejected(reason string) {
	m.csrfRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *ServerMetrics) IncCSRFIssued() {
	m.csrfIssuedTotal.Inc()
}

func (m *ServerMetrics) IncAuditDropped(sink string) {
	m.auditDroppedTotal.WithLabelValues(sink).Inc()
}

func (m *ServerMetrics) IncValidationFailure(route string) {
	m.validationFailTotal.WithLabelValues(route).Inc()
}

// SetPolicy records the active policy; previous label values are cleared.
func (m *ServerMetrics) SetPolicy(version, hash, source string, loaded time.Time) {
	m.policyInfo.Reset()
	m.policyInfo.WithLabelValues(version, hash, source).Set(1)
	m.policyLoadedTs.Set(float64(loaded.Unix()))
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}
