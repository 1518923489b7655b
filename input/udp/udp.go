package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/siffror/iiot-machine-health/component"
	"github.com/siffror/iiot-machine-health/errors"
	"github.com/siffror/iiot-machine-health/metric"
	"github.com/siffror/iiot-machine-health/natsclient"
	"github.com/siffror/iiot-machine-health/pkg/buffer"
	"github.com/siffror/iiot-machine-health/pkg/retry"
)

// Metrics holds Prometheus metrics for the UDP input component.
type Metrics struct {
	packetsReceived   prometheus.Counter
	bytesReceived     prometheus.Counter
	packetsDropped    prometheus.Counter
	bufferUtilization prometheus.Gauge
	batchSize         prometheus.Histogram
	publishLatency    prometheus.Histogram
	socketErrors      prometheus.Counter
	lastActivity      prometheus.Gauge
}

// newMetrics creates and registers UDP input metrics. A nil registry
// yields nil metrics, and callers guard on that.
func newMetrics(registry *metric.MetricsRegistry, port int) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "machinehealth",
			Subsystem: "udp",
			Name:      "packets_received_total",
			Help:      "Total UDP packets received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "machinehealth",
			Subsystem: "udp",
			Name:      "bytes_received_total",
			Help:      "Total bytes received from UDP",
		}),
		packetsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "machinehealth",
			Subsystem: "udp",
			Name:      "packets_dropped_total",
			Help:      "Packets dropped due to buffer full",
		}),
		bufferUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "machinehealth",
			Subsystem: "udp",
			Name:      "buffer_utilization_ratio",
			Help:      "Staging buffer usage (0-1) showing backpressure",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "machinehealth",
			Subsystem: "udp",
			Name:      "batch_size",
			Help:      "Distribution of publish batch sizes",
			Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500},
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "machinehealth",
			Subsystem: "udp",
			Name:      "publish_duration_seconds",
			Help:      "Time to publish datagrams to the stream",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "machinehealth",
			Subsystem: "udp",
			Name:      "socket_errors_total",
			Help:      "Socket read errors encountered",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "machinehealth",
			Subsystem: "udp",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of last received packet",
		}),
	}

	serviceName := fmt.Sprintf("udp_%d", port)
	_ = registry.RegisterCounter(serviceName, "packets_received", m.packetsReceived)
	_ = registry.RegisterCounter(serviceName, "bytes_received", m.bytesReceived)
	_ = registry.RegisterCounter(serviceName, "packets_dropped", m.packetsDropped)
	_ = registry.RegisterGauge(serviceName, "buffer_utilization", m.bufferUtilization)
	_ = registry.RegisterHistogram(serviceName, "batch_size", m.batchSize)
	_ = registry.RegisterHistogram(serviceName, "publish_latency", m.publishLatency)
	_ = registry.RegisterCounter(serviceName, "socket_errors", m.socketErrors)
	_ = registry.RegisterGauge(serviceName, "last_activity", m.lastActivity)

	return m
}

// Config holds configuration for the UDP input component.
type Config struct {
	Bind       string `json:"bind"`
	Port       int    `json:"port"`
	Subject    string `json:"subject"`
	BufferSize int    `json:"buffer_size"`
	BatchSize  int    `json:"batch_size"`
}

// DefaultConfig returns sensible defaults for UDP input.
func DefaultConfig() Config {
	return Config{
		Bind:       "0.0.0.0",
		Port:       5005,
		Subject:    "signals.raw",
		BufferSize: 5000,
		BatchSize:  100,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", c.Port),
			"udp-input", "Validate", "port validation")
	}
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"udp-input", "Validate", "subject is required")
	}
	if c.BufferSize <= 0 {
		return errors.WrapInvalid(fmt.Errorf("buffer size %d must be positive", c.BufferSize),
			"udp-input", "Validate", "buffer validation")
	}
	if c.BatchSize <= 0 {
		return errors.WrapInvalid(fmt.Errorf("batch size %d must be positive", c.BatchSize),
			"udp-input", "Validate", "batch validation")
	}
	return nil
}

// Input listens for UDP datagrams and forwards them to the raw-events
// stream.
type Input struct {
	name       string
	cfg        Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	buffer      *buffer.Ring[[]byte]
	retryConfig retry.Config

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	conn      *net.UDPConn

	packetsReceived atomic.Int64
	bytesReceived   atomic.Int64
	errors          atomic.Int64
	lastActivity    atomic.Value // time.Time

	metrics *Metrics
}

var (
	_ component.Discoverable       = (*Input)(nil)
	_ component.LifecycleComponent = (*Input)(nil)
)

// NewInput creates a UDP input component from raw configuration.
func NewInput(
	rawConfig json.RawMessage, deps component.Dependencies,
) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "udp-input", "NewInput", "config unmarshal")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ring, err := buffer.NewRing[[]byte](cfg.BufferSize, buffer.DropOldest)
	if err != nil {
		return nil, errors.WrapInvalid(err, "udp-input", "NewInput", "create staging buffer")
	}

	u := &Input{
		name:        "udp-input",
		cfg:         cfg,
		natsClient:  deps.NATSClient,
		logger:      deps.GetLoggerWithComponent("udp-input"),
		buffer:      ring,
		retryConfig: retry.DefaultConfig(),
		startTime:   time.Now(),
		metrics:     newMetrics(deps.MetricsRegistry, cfg.Port),
	}
	u.lastActivity.Store(time.Time{})
	return u, nil
}

// Meta returns the component metadata.
func (u *Input) Meta() component.Metadata {
	return component.Metadata{
		Name: u.name,
		Type: "input",
		Description: fmt.Sprintf("UDP listener on %s:%d publishing to %s",
			u.cfg.Bind, u.cfg.Port, u.cfg.Subject),
		Version: "0.1.0",
	}
}

// Health returns the current health status of the component.
func (u *Input) Health() component.HealthStatus {
	u.mu.RLock()
	connected := u.conn != nil
	u.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    u.running.Load() && connected,
		LastCheck:  time.Now(),
		ErrorCount: int(u.errors.Load()),
		Uptime:     time.Since(u.startTime),
	}
}

// DataFlow returns the current data flow metrics.
func (u *Input) DataFlow() component.FlowMetrics {
	packets := u.packetsReceived.Load()
	bytes := u.bytesReceived.Load()
	errorCount := u.errors.Load()
	lastActivity, _ := u.lastActivity.Load().(time.Time)

	var messagesPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(u.startTime).Seconds(); uptime > 0 {
		messagesPerSecond = float64(packets) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if packets > 0 {
		errorRate = float64(errorCount) / float64(packets)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates dependencies before the listener starts.
func (u *Input) Initialize() error {
	if u.natsClient == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"udp-input", "Initialize", "NATS client validation")
	}
	return nil
}

// Start binds the socket and begins forwarding datagrams.
func (u *Input) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running.Load() {
		return nil // idempotent
	}

	u.shutdown = make(chan struct{})
	u.done = make(chan struct{})

	if err := retry.Do(ctx, u.retryConfig, u.bindSocket); err != nil {
		u.cleanupUnlocked()
		return errors.WrapTransient(err, "udp-input", "Start", "socket binding")
	}

	u.running.Store(true)
	u.startTime = time.Now()

	u.wg.Add(1)
	done := u.done
	go func() {
		defer u.wg.Done()
		defer close(done)
		u.readLoop(ctx)
	}()

	// u.mu is held here, so ask for the port without re-locking.
	u.logger.Info("UDP input started",
		"bind", u.cfg.Bind,
		"port", u.boundPort(),
		"subject", u.cfg.Subject)
	return nil
}

// bindSocket creates and binds the UDP socket.
func (u *Input) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", u.cfg.Bind, u.cfg.Port))
	if err != nil {
		return fmt.Errorf("resolve UDP address %s:%d: %w", u.cfg.Bind, u.cfg.Port, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on UDP port %d: %w", u.cfg.Port, err)
	}

	// Large OS socket buffer so bursts survive until the read loop
	// catches up. Some systems cap this; a failure is not fatal.
	const socketBufferSize = 2 * 1024 * 1024
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		u.logger.Warn("Could not set UDP socket buffer size",
			"buffer_size", socketBufferSize,
			"error", err)
	}

	u.conn = conn
	return nil
}

// Port returns the bound port. With port 0 in the config the OS
// assigns one, so callers must ask after Start.
func (u *Input) Port() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.boundPort()
}

// boundPort reads the port from the live socket. Callers hold u.mu.
func (u *Input) boundPort() int {
	if u.conn != nil {
		if addr, ok := u.conn.LocalAddr().(*net.UDPAddr); ok {
			return addr.Port
		}
	}
	return u.cfg.Port
}

// Stop gracefully stops the listener.
func (u *Input) Stop(timeout time.Duration) error {
	if !u.running.Load() {
		return nil
	}
	u.running.Store(false)

	u.mu.Lock()
	if u.shutdown != nil {
		select {
		case <-u.shutdown:
		default:
			close(u.shutdown)
		}
	}
	// Closing the connection unblocks the read loop
	if u.conn != nil {
		_ = u.conn.Close()
	}
	done := u.done
	u.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
				"udp-input", "Stop", "graceful shutdown")
		}
	}

	u.mu.Lock()
	u.cleanupUnlocked()
	u.mu.Unlock()

	u.logger.Info("UDP input stopped",
		"packets", u.packetsReceived.Load(),
		"dropped_errors", u.errors.Load())
	return nil
}

// cleanupUnlocked releases resources. Caller holds u.mu.
func (u *Input) cleanupUnlocked() {
	if u.conn != nil {
		_ = u.conn.Close()
		u.conn = nil
	}
	u.done = nil
	u.shutdown = nil
}

// readLoop reads datagrams, stages them in the ring buffer and drains
// the buffer to NATS.
func (u *Input) readLoop(ctx context.Context) {
	datagram := make([]byte, 65536)

	for u.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-u.shutdown:
			return
		default:
		}

		u.mu.RLock()
		conn := u.conn
		u.mu.RUnlock()
		if conn == nil {
			return
		}

		// Short deadline so shutdown is noticed promptly
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, _, err := conn.ReadFromUDP(datagram)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				u.drainBuffer(ctx)
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-u.shutdown:
				return
			default:
				u.errors.Add(1)
				if u.metrics != nil {
					u.metrics.socketErrors.Inc()
				}
				continue
			}
		}

		now := time.Now()
		u.packetsReceived.Add(1)
		u.bytesReceived.Add(int64(n))
		u.lastActivity.Store(now)

		if u.metrics != nil {
			u.metrics.packetsReceived.Inc()
			u.metrics.bytesReceived.Add(float64(n))
			u.metrics.lastActivity.Set(float64(now.Unix()))
		}

		data := make([]byte, n)
		copy(data, datagram[:n])

		if err := u.buffer.Write(data); err != nil {
			u.errors.Add(1)
			if u.metrics != nil {
				u.metrics.packetsDropped.Inc()
			}
			continue
		}
		if u.metrics != nil {
			u.metrics.bufferUtilization.Set(u.buffer.Utilization())
		}

		u.drainBuffer(ctx)
	}
}

// drainBuffer publishes staged datagrams to the raw-events subject.
func (u *Input) drainBuffer(ctx context.Context) {
	batch := u.buffer.ReadBatch(u.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}
	if u.metrics != nil {
		u.metrics.batchSize.Observe(float64(len(batch)))
		u.metrics.bufferUtilization.Set(u.buffer.Utilization())
	}

	for _, data := range batch {
		if !u.running.Load() {
			return
		}

		publish := func() error {
			return u.publish(ctx, data)
		}
		if err := retry.Do(ctx, u.retryConfig, publish); err != nil {
			u.errors.Add(1)
			u.logger.Warn("Dropping datagram after publish retries",
				"subject", u.cfg.Subject,
				"error", err)
		}
	}
}

// publish sends one datagram to the JetStream raw subject.
func (u *Input) publish(ctx context.Context, data []byte) error {
	var start time.Time
	if u.metrics != nil {
		start = time.Now()
	}

	if err := u.natsClient.PublishToStream(ctx, u.cfg.Subject, data); err != nil {
		return errors.WrapTransient(err, "udp-input", "publish", "stream publish")
	}

	if u.metrics != nil {
		u.metrics.publishLatency.Observe(time.Since(start).Seconds())
	}
	return nil
}
