package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus collector the gateway exposes at /metrics.
// BreakerOpen, ForwarderRetries and ReconcileFailures are registered but
// nothing in the gateway updates them: BreakerOpen and ReconcileFailures
// expose no series and ForwarderRetries stays at 0.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestLatencyMs   *prometheus.HistogramVec
	QuotaRejections    *prometheus.CounterVec
	BudgetRejections   *prometheus.CounterVec
	BreakerOpen        *prometheus.GaugeVec
	ForwarderRetries   prometheus.Counter
	ReconcileFailures  *prometheus.CounterVec
	IPRateLimitRejects prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total proxied requests, by model and final status code",
		}, []string{"model", "status"}),
		RequestLatencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_latency_ms",
			Help:    "End-to-end request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"model"}),
		QuotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_quota_rejections_total",
			Help: "Requests rejected by the quota gate, by dimension",
		}, []string{"dimension"}),
		BudgetRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_budget_rejections_total",
			Help: "Requests rejected by the budget gate, by scope",
		}, []string{"scope"}),
		BreakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_breaker_open",
			Help: "1 if the circuit breaker for an endpoint is currently open, else 0",
		}, []string{"endpoint"}),
		ForwarderRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_forwarder_context_window_retries_total",
			Help: "Total context-window auto-recovery retries issued by the forwarder",
		}),
		ReconcileFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_reconcile_failures_total",
			Help: "Reconciliation effects that failed and were swallowed, by effect",
		}, []string{"effect"}),
		IPRateLimitRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ip_rate_limit_rejections_total",
			Help: "Requests rejected by the per-IP token bucket before auth was even checked",
		}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestLatencyMs, m.QuotaRejections, m.BudgetRejections,
		m.BreakerOpen, m.ForwarderRetries, m.ReconcileFailures, m.IPRateLimitRejects)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
