package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/siffror/iiot-machine-health/metric"
)

// jetstreamMetrics exposes stream depth and consumer progress for the
// signal stream. Only streams and consumers created through this
// client are tracked; a nil receiver disables everything so callers
// never have to branch on whether metrics are enabled.
type jetstreamMetrics struct {
	streamMessages *prometheus.GaugeVec
	streamBytes    *prometheus.GaugeVec
	streamState    *prometheus.GaugeVec

	consumerPending     *prometheus.GaugeVec
	consumerDelivered   *prometheus.CounterVec
	consumerAcked       *prometheus.CounterVec
	consumerRedelivered *prometheus.CounterVec

	errors *prometheus.CounterVec

	mu        sync.RWMutex
	streams   map[string]jetstream.Stream
	consumers map[string]jetstream.Consumer
}

func jsGauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "machinehealth",
		Subsystem: "jetstream",
		Name:      name,
		Help:      help,
	}, labels)
}

func jsCounter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "machinehealth",
		Subsystem: "jetstream",
		Name:      name,
		Help:      help,
	}, labels)
}

func newJetStreamMetrics(registry *metric.MetricsRegistry) (*jetstreamMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &jetstreamMetrics{
		streamMessages: jsGauge("stream_messages",
			"Current number of messages in stream", "stream"),
		streamBytes: jsGauge("stream_bytes",
			"Storage bytes used by stream", "stream"),
		streamState: jsGauge("stream_state",
			"Stream state (1=active, 0=inactive)", "stream"),
		consumerPending: jsGauge("consumer_pending_messages",
			"Number of pending messages for consumer", "stream", "consumer"),
		consumerDelivered: jsCounter("consumer_delivered_total",
			"Total messages delivered to consumer", "stream", "consumer"),
		consumerAcked: jsCounter("consumer_acked_total",
			"Total messages acknowledged by consumer", "stream", "consumer"),
		consumerRedelivered: jsCounter("consumer_redelivered_total",
			"Total messages redelivered to consumer", "stream", "consumer"),
		errors: jsCounter("operation_errors_total",
			"Total number of JetStream operation errors", "operation"),
		streams:   make(map[string]jetstream.Stream),
		consumers: make(map[string]jetstream.Consumer),
	}

	gauges := map[string]*prometheus.GaugeVec{
		"stream_messages":  m.streamMessages,
		"stream_bytes":     m.streamBytes,
		"stream_state":     m.streamState,
		"consumer_pending": m.consumerPending,
	}
	for name, g := range gauges {
		if err := registry.RegisterGaugeVec("jetstream", name, g); err != nil {
			return nil, err
		}
	}

	counters := map[string]*prometheus.CounterVec{
		"consumer_delivered":   m.consumerDelivered,
		"consumer_acked":       m.consumerAcked,
		"consumer_redelivered": m.consumerRedelivered,
		"errors":               m.errors,
	}
	for name, cv := range counters {
		if err := registry.RegisterCounterVec("jetstream", name, cv); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *jetstreamMetrics) trackStream(name string, stream jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[name] = stream
	m.streamState.WithLabelValues(name).Set(1)
}

func (m *jetstreamMetrics) trackConsumer(streamName, consumerName string, consumer jetstream.Consumer) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers[streamName+":"+consumerName] = consumer
}

func (m *jetstreamMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// updateStats refreshes gauges from live stream/consumer info. Lookup
// failures mark the stream inactive rather than erroring; the broker
// may legitimately have dropped it.
func (m *jetstreamMetrics) updateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	streams := make(map[string]jetstream.Stream, len(m.streams))
	for k, v := range m.streams {
		streams[k] = v
	}
	consumers := make([]jetstream.Consumer, 0, len(m.consumers))
	for _, v := range m.consumers {
		consumers = append(consumers, v)
	}
	m.mu.RUnlock()

	for name, stream := range streams {
		info, err := stream.Info(ctx)
		if err != nil {
			m.streamState.WithLabelValues(name).Set(0)
			continue
		}
		m.streamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
		m.streamBytes.WithLabelValues(name).Set(float64(info.State.Bytes))
		m.streamState.WithLabelValues(name).Set(1)
	}

	for _, consumer := range consumers {
		info, err := consumer.Info(ctx)
		if err != nil {
			continue
		}
		m.consumerPending.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumPending))
		m.consumerDelivered.WithLabelValues(info.Stream, info.Name).Add(float64(info.Delivered.Stream))
		m.consumerAcked.WithLabelValues(info.Stream, info.Name).Add(float64(info.AckFloor.Stream))
		m.consumerRedelivered.WithLabelValues(info.Stream, info.Name).Add(float64(info.NumRedelivered))
	}
}

// startPoller refreshes stats on an interval until the returned cancel
// is called.
func (m *jetstreamMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.updateStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel
}
