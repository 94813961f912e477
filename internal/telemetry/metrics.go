package telemetry

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tournevent/shiprate/pkg/shipping"
)

// Metrics holds all Prometheus metrics for the service. It implements
// shipping.Observer.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	ProviderErrors   *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	HookWarnings     *prometheus.CounterVec
}

// NewMetrics creates metrics registered with the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates metrics registered with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiprate_requests_total",
				Help: "Total number of requests by operation and status",
			},
			[]string{"operation", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shiprate_request_duration_seconds",
				Help:    "Request duration in seconds by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiprate_provider_calls_total",
				Help: "Rate provider invocations by provider type and status",
			},
			[]string{"provider_type", "status"},
		),
		ProviderDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shiprate_provider_duration_seconds",
				Help:    "Rate provider latency in seconds by provider type",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider_type"},
		),
		ProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiprate_provider_errors_total",
				Help: "Rate provider errors by provider type and error code",
			},
			[]string{"provider_type", "code"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiprate_cache_lookups_total",
				Help: "Cache lookups by entry kind, tier and result",
			},
			[]string{"kind", "tier", "hit"},
		),
		HookWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shiprate_hook_warnings_total",
				Help: "Ignored incompatible hook results by hook point",
			},
			[]string{"hook"},
		),
	}
}

// RecordRequest records a request metric.
func (m *Metrics) RecordRequest(operation, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(duration)
}

// ProviderCall records one rate provider invocation.
func (m *Metrics) ProviderCall(providerType, _ string, seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.RecordError(providerType, errorCode(err))
	}
	m.ProviderCalls.WithLabelValues(providerType, status).Inc()
	m.ProviderDuration.WithLabelValues(providerType).Observe(seconds)
}

// RecordError records a provider error metric.
func (m *Metrics) RecordError(providerType, code string) {
	m.ProviderErrors.WithLabelValues(providerType, code).Inc()
}

// CacheLookup records a cache lookup outcome.
func (m *Metrics) CacheLookup(kind, tier string, hit bool) {
	m.CacheLookups.WithLabelValues(kind, tier, strconv.FormatBool(hit)).Inc()
}

// HookWarning records an ignored hook result.
func (m *Metrics) HookWarning(point string) {
	m.HookWarnings.WithLabelValues(point).Inc()
}

func errorCode(err error) string {
	var perr *shipping.ProviderError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return "unknown"
}

var _ shipping.Observer = (*Metrics)(nil)
