package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.ensemble/internal/events"
	"dev.helix.ensemble/internal/llm"
)

func TestMetrics_ObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun("completed", 250*time.Millisecond)
	m.ObserveRun("completed", 100*time.Millisecond)
	m.ObserveRun("failed", 50*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PipelineRequests.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRequests.WithLabelValues("failed")))
}

func TestMetrics_ObserveProvider(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveProvider("claude", "initial", 80*time.Millisecond, false)
	m.ObserveProvider("claude", "initial", 90*time.Millisecond, true)
	m.ObserveProvider("openai", "synthesis", 200*time.Millisecond, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderFailures.WithLabelValues("claude", "initial")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ProviderFailures.WithLabelValues("openai", "synthesis")))
}

func TestMetrics_UpdateCircuits(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.UpdateCircuits([]llm.ProviderStatus{
		{Name: "a", Circuit: llm.CircuitBreakerStats{State: llm.CircuitClosed}},
		{Name: "b", Circuit: llm.CircuitBreakerStats{State: llm.CircuitOpen}},
		{Name: "c", Circuit: llm.CircuitBreakerStats{State: llm.CircuitHalfOpen}},
	})

	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitState.WithLabelValues("a")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitState.WithLabelValues("b")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitState.WithLabelValues("c")))
}

func TestMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.CacheOps.WithLabelValues("hit").Inc()
	m.UpdateBus(events.BusMetrics{FramesDropped: 3, SubscribersActive: 2})

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ensemble_cache_operations_total"])
	assert.True(t, names["ensemble_bus_frames_dropped"])
	assert.Equal(t, 3.0, testutil.ToFloat64(m.BusFramesDropped))
}
