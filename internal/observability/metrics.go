package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dev.helix.ensemble/internal/events"
	"dev.helix.ensemble/internal/llm"
)

// Metrics is the explicit instrumentation registry. It is constructed once
// at startup against a prometheus.Registerer and passed by reference; there
// is no package-level metric state.
type Metrics struct {
	PipelineRequests *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	ProviderLatency  *prometheus.HistogramVec
	ProviderFailures *prometheus.CounterVec
	CircuitState     *prometheus.GaugeVec
	CacheOps         *prometheus.CounterVec
	AdmissionDenied  *prometheus.CounterVec
	BusFramesDropped prometheus.Gauge
	BusSubscribers   prometheus.Gauge
}

// New registers the ensemble metric set on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PipelineRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensemble_pipeline_requests_total",
				Help: "Pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		PipelineDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ensemble_pipeline_duration_seconds",
				Help:    "End to end pipeline latency",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ensemble_provider_latency_seconds",
				Help:    "Per provider call latency by stage",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"provider", "stage"},
		),
		ProviderFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensemble_provider_failures_total",
				Help: "Failed provider calls by stage",
			},
			[]string{"provider", "stage"},
		),
		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ensemble_circuit_state",
				Help: "Circuit breaker state per provider: 0 closed, 1 half-open, 2 open",
			},
			[]string{"provider"},
		),
		CacheOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensemble_cache_operations_total",
				Help: "Cache lookups by result",
			},
			[]string{"result"},
		),
		AdmissionDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ensemble_admission_denied_total",
				Help: "Requests rejected by the admission controller, by tier",
			},
			[]string{"tier"},
		),
		BusFramesDropped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ensemble_bus_frames_dropped",
				Help: "Progress frames dropped on slow subscribers since startup",
			},
		),
		BusSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ensemble_bus_subscribers",
				Help: "Active progress bus subscriptions",
			},
		),
	}
}

// UpdateBus mirrors the progress bus counters into gauges.
func (m *Metrics) UpdateBus(stats events.BusMetrics) {
	m.BusFramesDropped.Set(float64(stats.FramesDropped))
	m.BusSubscribers.Set(float64(stats.SubscribersActive))
}

// ObserveRun records one pipeline run.
func (m *Metrics) ObserveRun(outcome string, duration time.Duration) {
	m.PipelineRequests.WithLabelValues(outcome).Inc()
	m.PipelineDuration.Observe(duration.Seconds())
}

// ObserveProvider records one provider call.
func (m *Metrics) ObserveProvider(provider, stage string, latency time.Duration, failed bool) {
	m.ProviderLatency.WithLabelValues(provider, stage).Observe(latency.Seconds())
	if failed {
		m.ProviderFailures.WithLabelValues(provider, stage).Inc()
	}
}

// UpdateCircuits mirrors the registry's circuit snapshot into gauges.
func (m *Metrics) UpdateCircuits(statuses []llm.ProviderStatus) {
	for _, s := range statuses {
		m.CircuitState.WithLabelValues(s.Name).Set(circuitStateValue(s.Circuit.State))
	}
}

func circuitStateValue(state llm.CircuitState) float64 {
	switch state {
	case llm.CircuitOpen:
		return 2
	case llm.CircuitHalfOpen:
		return 1
	default:
		return 0
	}
}
