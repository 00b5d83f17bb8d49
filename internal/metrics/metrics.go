// Package metrics exposes Prometheus collectors for scoring outcomes and
// degraded-mode conditions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/claimguard/internal/domain"
)

const namespace = "claimguard"

// Metrics holds all collectors on a dedicated registry.
// It implements scoring.Observer.
type Metrics struct {
	registry *prometheus.Registry

	claimsScored      *prometheus.CounterVec
	probability       prometheus.Histogram
	rulesFired        *prometheus.CounterVec
	modelDegraded     *prometheus.CounterVec
	categoryFallbacks *prometheus.CounterVec
	auditFailures     *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	rateLimited  *prometheus.CounterVec
	replays      *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry
// that also carries the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		claimsScored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scoring",
				Name:      "claims_total",
				Help:      "Total number of scored claims by verdict",
			},
			[]string{"tenant", "verdict"},
		),
		probability: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scoring",
				Name:      "probability",
				Help:      "Distribution of final fraud probabilities",
				Buckets:   prometheus.LinearBuckets(0, 0.05, 21),
			},
		),
		rulesFired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rules",
				Name:      "fired_total",
				Help:      "Total number of times each adjustment rule fired",
			},
			[]string{"rule_id"},
		),
		modelDegraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scoring",
				Name:      "model_degraded_total",
				Help:      "Scoring calls where inference failed and the base probability fell back to 0",
			},
			[]string{"tenant"},
		),
		categoryFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scoring",
				Name:      "category_fallback_total",
				Help:      "Categorical values encoded with the fallback code",
			},
			[]string{"tenant", "feature"},
		),
		auditFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "failures_total",
				Help:      "Scoring results that could not be persisted",
			},
			[]string{"tenant"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"method", "route"},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "rate_limited_total",
				Help:      "Scoring requests rejected by the per-tenant rate limit",
			},
			[]string{"tenant"},
		),
		replays: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "idempotent_replays_total",
				Help:      "Scoring responses served from the idempotency cache",
			},
			[]string{"tenant"},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ModelDegraded implements scoring.Observer.
func (m *Metrics) ModelDegraded(tenantID string, _ error) {
	m.modelDegraded.WithLabelValues(tenantID).Inc()
}

// CategoryFallback implements scoring.Observer. The raw value is not used
// as a label to keep cardinality bounded.
func (m *Metrics) CategoryFallback(tenantID, feature, _ string) {
	m.categoryFallbacks.WithLabelValues(tenantID, feature).Inc()
}

// AuditFailed implements scoring.Observer.
func (m *Metrics) AuditFailed(tenantID string, _ error) {
	m.auditFailures.WithLabelValues(tenantID).Inc()
}

// Scored implements scoring.Observer.
func (m *Metrics) Scored(result *domain.ScoringResult) {
	m.claimsScored.WithLabelValues(result.TenantID, string(result.Verdict)).Inc()
	m.probability.Observe(result.Probability)
	for _, hit := range result.RulesFired {
		m.rulesFired.WithLabelValues(hit.RuleID).Inc()
	}
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, http.StatusText(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RateLimited records a rejected request.
func (m *Metrics) RateLimited(tenantID string) {
	m.rateLimited.WithLabelValues(tenantID).Inc()
}

// Replayed records a response served from the idempotency cache.
func (m *Metrics) Replayed(tenantID string) {
	m.replays.WithLabelValues(tenantID).Inc()
}
