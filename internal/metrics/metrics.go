// Package metrics exposes Prometheus collectors for ingestion runs, upstream
// API traffic and contact lookups.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chingest"

// Wait sources for RateLimitWait.
const (
	WaitBudget      = "budget"
	WaitRetryAfter  = "retry_after"
	ServiceRegistry = "companies_house"
	ServicePeople   = "people_search"
)

// Metrics holds every collector on a dedicated registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	companiesIngested prometheus.Counter
	officersIngested  prometheus.Counter
	pagesFetched      prometheus.Counter
	rateLimitWaits    *prometheus.CounterVec
	rateLimitSeconds  *prometheus.CounterVec
	staleRunsFailed   prometheus.Counter
	contactLookups    *prometheus.CounterVec
	upstreamRequests  *prometheus.CounterVec
	upstreamDuration  *prometheus.HistogramVec
	uploadsTotal      *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Ingestion runs by terminal status.",
	}, []string{"status"})

	m.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of ingestion runs.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
	})

	m.companiesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "companies_ingested_total",
		Help:      "Company records persisted.",
	})

	m.officersIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "officers_ingested_total",
		Help:      "Officer records persisted.",
	})

	m.pagesFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pages_fetched_total",
		Help:      "Search result pages fetched.",
	})

	m.rateLimitWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_waits_total",
		Help:      "Waits imposed by the request budget or upstream 429 responses.",
	}, []string{"source"})

	m.rateLimitSeconds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_wait_seconds_total",
		Help:      "Seconds spent waiting on rate limits.",
	}, []string{"source"})

	m.staleRunsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_runs_failed_total",
		Help:      "Running rows failed by the sweeper after their heartbeat expired.",
	})

	m.contactLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "contact_lookups_total",
		Help:      "Contact lookups by outcome and resolving tier.",
	}, []string{"outcome", "tier"})

	m.upstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Outbound HTTP requests by service, status code and method.",
	}, []string{"service", "code", "method"})

	m.upstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Outbound HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "method"})

	m.uploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "export_uploads_total",
		Help:      "Artifact uploads by format and result.",
	}, []string{"format", "result"})

	m.registry.MustRegister(
		m.runsTotal, m.runDuration, m.companiesIngested, m.officersIngested,
		m.pagesFetched, m.rateLimitWaits, m.rateLimitSeconds, m.staleRunsFailed,
		m.contactLookups, m.upstreamRequests, m.upstreamDuration, m.uploadsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InstrumentTransport wraps next so every request is counted and timed
// under the given service label.
func (m *Metrics) InstrumentTransport(service string, next http.RoundTripper) http.RoundTripper {
	if m == nil {
		return next
	}
	if next == nil {
		next = http.DefaultTransport
	}
	labels := prometheus.Labels{"service": service}
	return promhttp.InstrumentRoundTripperCounter(
		m.upstreamRequests.MustCurryWith(labels),
		promhttp.InstrumentRoundTripperDuration(m.upstreamDuration.MustCurryWith(labels), next),
	)
}

func (m *Metrics) RunFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) PageFetched(companies int) {
	if m == nil {
		return
	}
	m.pagesFetched.Inc()
	m.companiesIngested.Add(float64(companies))
}

func (m *Metrics) OfficersIngested(n int) {
	if m == nil {
		return
	}
	m.officersIngested.Add(float64(n))
}

func (m *Metrics) RateLimitWait(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWaits.WithLabelValues(source).Inc()
	m.rateLimitSeconds.WithLabelValues(source).Add(d.Seconds())
}

func (m *Metrics) StaleRunsFailed(n int) {
	if m == nil {
		return
	}
	m.staleRunsFailed.Add(float64(n))
}

// ContactLookup records one resolver outcome. tier is empty when no tier
// produced a profile.
func (m *Metrics) ContactLookup(outcome, tier string) {
	if m == nil {
		return
	}
	if tier == "" {
		tier = "none"
	}
	m.contactLookups.WithLabelValues(outcome, tier).Inc()
}

func (m *Metrics) Upload(format string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.uploadsTotal.WithLabelValues(format, result).Inc()
}
