package marquee

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for transport calls and
// chain outcomes. It is safe for concurrent use and all methods are no-ops
// on a nil receiver.
type MetricsCollector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	chainsInFlight  *prometheus.GaugeVec
	chainsTotal     *prometheus.CounterVec
	chainCalls      *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	policyReloads   prometheus.Counter
	registry        *prometheus.Registry
}

// NewMetricsCollector creates a collector on a fresh registry.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied registry.
func NewMetricsCollectorWithRegistry(registry *prometheus.Registry) *MetricsCollector {
	factory := promauto.With(registry)

	build := ReadBuildInfo()
	factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marquee_build_info",
			Help: "Build metadata of the running binary, always 1",
		},
		[]string{"version", "commit", "go_version"},
	).WithLabelValues(build.Version, build.Commit, build.GoVersion).Set(1)

	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marquee_requests_total",
				Help: "Total number of transport calls made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marquee_request_duration_seconds",
				Help:    "Duration of transport calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		chainsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marquee_chains_in_flight",
				Help: "Number of request chains currently executing",
			},
			[]string{"method", "endpoint"},
		),
		chainsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marquee_chains_total",
				Help: "Total number of completed request chains by outcome",
			},
			[]string{"outcome", "endpoint"},
		),
		chainCalls: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marquee_chain_calls",
				Help:    "Transport calls issued per request chain",
				Buckets: []float64{1, 2, 3, 4, 6, 8, 16},
			},
			[]string{"endpoint"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marquee_retries_total",
				Help: "Total number of policy actions taken",
			},
			[]string{"action", "status_code", "endpoint"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marquee_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "method", "endpoint"},
		),
		policyReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "marquee_policy_reloads_total",
				Help: "Total number of retry policy swaps",
			},
		),
		registry: registry,
	}
}

// RecordRequest records a transport call count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordChainStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordChainStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.chainsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordChainEnd decrements the in-flight gauge and records the outcome.
func (mc *MetricsCollector) RecordChainEnd(method, endpoint, outcome string, calls int) {
	if mc == nil {
		return
	}

	mc.chainsInFlight.WithLabelValues(method, endpoint).Dec()
	mc.chainsTotal.WithLabelValues(outcome, endpoint).Inc()
	mc.chainCalls.WithLabelValues(endpoint).Observe(float64(calls))
}

// RecordRetry increments the counter for a policy action triggered by status.
func (mc *MetricsCollector) RecordRetry(action Action, statusCode int, endpoint string) {
	if mc == nil {
		return
	}

	mc.retriesTotal.WithLabelValues(action.String(), strconv.Itoa(statusCode), endpoint).Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

// RecordPolicyReload increments the policy swap counter.
func (mc *MetricsCollector) RecordPolicyReload() {
	if mc == nil {
		return
	}

	mc.policyReloads.Inc()
}

// GetRegistry exposes the underlying prometheus registry.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	return mc.registry
}
