package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())

	// Core metrics are registered and gatherable
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_events_total",
		Help: "Test counter",
	})

	err := registry.RegisterCounter("test-service", "events_total", counter)
	require.NoError(t, err)

	// Duplicate registration under the same key fails
	err = registry.RegisterCounter("test-service", "events_total", counter)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRegisterCounterVec(t *testing.T) {
	registry := NewMetricsRegistry()

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_outcomes_total",
		Help: "Test counter vec",
	}, []string{"outcome"})

	require.NoError(t, registry.RegisterCounterVec("processor", "outcomes_total", vec))

	vec.WithLabelValues("ok").Inc()
	vec.WithLabelValues("rejected").Add(2)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := false
	for _, f := range families {
		if f.GetName() == "test_outcomes_total" {
			found = true
			assert.Len(t, f.GetMetric(), 2)
		}
	}
	assert.True(t, found)
}

func TestRegisterGaugeAndHistogram(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_buffer_utilization",
		Help: "Test gauge",
	})
	require.NoError(t, registry.RegisterGauge("udp-input", "buffer_utilization", gauge))

	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_write_duration_seconds",
		Help:    "Test histogram",
		Buckets: prometheus.DefBuckets,
	})
	require.NoError(t, registry.RegisterHistogram("influx-output", "write_duration_seconds", hist))
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_removable_total",
		Help: "Test counter",
	})
	require.NoError(t, registry.RegisterCounter("svc", "removable", counter))

	assert.True(t, registry.Unregister("svc", "removable"))
	assert.False(t, registry.Unregister("svc", "removable"))

	// Re-registration after unregister succeeds
	require.NoError(t, registry.RegisterCounter("svc", "removable", counter))
}

func TestCoreMetricsRecording(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordServiceStatus("feature-processor", 2)
	core.RecordMessageReceived("feature-processor", "raw_event")
	core.RecordMessageProcessed("feature-processor", "raw_event", "success")
	core.RecordMessagePublished("feature-processor", "features.extracted")
	core.RecordProcessingDuration("feature-processor", "extract", 5*time.Millisecond)
	core.RecordError("feature-processor", "validation")
	core.RecordHealthStatus("feature-processor", true)
	core.RecordNATSStatus(true)
	core.RecordNATSRTT(3 * time.Millisecond)
	core.RecordNATSReconnect()
	core.RecordCircuitBreakerState(0)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["machinehealth_service_status"])
	assert.True(t, names["machinehealth_messages_processed_total"])
	assert.True(t, names["machinehealth_nats_connected"])
}
