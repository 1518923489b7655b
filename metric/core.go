package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// namespace prefixes every core metric.
const namespace = "machinehealth"

// Metrics holds the platform-level instruments shared by every
// component: message counters labelled by component name, processing
// latency, error counts, and connection-level NATS gauges. Components
// add their own domain metrics on top through the registry.
type Metrics struct {
	ServiceStatus      *prometheus.GaugeVec
	MessagesReceived   *prometheus.CounterVec
	MessagesProcessed  *prometheus.CounterVec
	MessagesPublished  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec

	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

func coreGaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func coreCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func natsGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "nats",
		Name:      name,
		Help:      help,
	})
}

// NewMetrics builds the full core instrument set, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: coreGaugeVec("service", "status",
			"Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			"service"),
		MessagesReceived: coreCounterVec("messages", "received_total",
			"Total number of messages received",
			"service", "type"),
		MessagesProcessed: coreCounterVec("messages", "processed_total",
			"Total number of messages processed",
			"service", "type", "status"),
		MessagesPublished: coreCounterVec("messages", "published_total",
			"Total number of messages published",
			"service", "subject"),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processing",
			Name:      "duration_seconds",
			Help:      "Message processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "operation"}),
		ErrorsTotal: coreCounterVec("errors", "total",
			"Total number of errors",
			"service", "type"),
		HealthCheckStatus: coreGaugeVec("health", "status",
			"Health check status (0=unhealthy, 1=healthy)",
			"service"),

		NATSConnected: natsGauge("connected",
			"NATS connection status (0=disconnected, 1=connected)"),
		NATSRTT: natsGauge("rtt_milliseconds",
			"NATS round-trip time in milliseconds"),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
		NATSCircuitBreaker: natsGauge("circuit_breaker",
			"NATS circuit breaker status (0=closed, 1=open, 2=half-open)"),
	}
}

func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

func (c *Metrics) RecordMessageReceived(service, messageType string) {
	c.MessagesReceived.WithLabelValues(service, messageType).Inc()
}

func (c *Metrics) RecordMessageProcessed(service, messageType, status string) {
	c.MessagesProcessed.WithLabelValues(service, messageType, status).Inc()
}

func (c *Metrics) RecordMessagePublished(service, subject string) {
	c.MessagesPublished.WithLabelValues(service, subject).Inc()
}

func (c *Metrics) RecordProcessingDuration(service, operation string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

func (c *Metrics) RecordError(service, errorType string) {
	c.ErrorsTotal.WithLabelValues(service, errorType).Inc()
}

func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(service).Set(value)
}

func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
