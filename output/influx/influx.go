package influx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/siffror/iiot-machine-health/component"
	"github.com/siffror/iiot-machine-health/errors"
	"github.com/siffror/iiot-machine-health/metric"
	"github.com/siffror/iiot-machine-health/natsclient"
	"github.com/siffror/iiot-machine-health/pkg/timestamp"
	"github.com/siffror/iiot-machine-health/signal"
)

const componentName = "influx-writer"

// Config holds configuration for the InfluxDB output component.
type Config struct {
	URL          string `json:"url"`
	Org          string `json:"org"`
	Bucket       string `json:"bucket"`
	Token        string `json:"token"`
	StreamName   string `json:"stream_name"`
	InputSubject string `json:"input_subject"`
	Durable      string `json:"durable"`
}

// DefaultConfig returns default configuration for the InfluxDB output.
func DefaultConfig() Config {
	return Config{
		URL:          "http://localhost:8086",
		Org:          "machine-health",
		Bucket:       "vibration",
		StreamName:   "SIGNALS",
		InputSubject: "features.extracted",
		Durable:      componentName,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"InfluxOutput", "Validate", "url is required")
	}
	if c.Org == "" || c.Bucket == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"InfluxOutput", "Validate", "org and bucket are required")
	}
	if c.StreamName == "" || c.InputSubject == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"InfluxOutput", "Validate", "stream and input subject are required")
	}
	return nil
}

// pointWriter is the InfluxDB write surface the component depends on.
// Satisfied by api.WriteAPIBlocking; tests substitute their own.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Output writes feature records to InfluxDB.
type Output struct {
	name       string
	cfg        Config
	natsClient *natsclient.Client
	metrics    *metric.Metrics
	logger     *slog.Logger

	client   influxdb2.Client
	writeAPI pointWriter

	// Lifecycle management
	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex

	pointsWritten int64
	rejections    int64
	writeErrors   int64
	lastActivity  time.Time
}

var (
	_ component.Discoverable       = (*Output)(nil)
	_ component.LifecycleComponent = (*Output)(nil)
)

// NewOutput creates an InfluxDB output component from raw configuration.
func NewOutput(
	rawConfig json.RawMessage, deps component.Dependencies,
) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "InfluxOutput", "NewOutput", "config unmarshal")
		}
	}
	if cfg.Durable == "" {
		cfg.Durable = componentName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	metrics := metric.NewMetrics()
	if deps.MetricsRegistry != nil {
		metrics = deps.MetricsRegistry.CoreMetrics()
	}

	return &Output{
		name:       componentName,
		cfg:        cfg,
		natsClient: deps.NATSClient,
		metrics:    metrics,
		logger:     deps.GetLoggerWithComponent(componentName),
		shutdown:   make(chan struct{}),
	}, nil
}

// Initialize creates the InfluxDB client.
func (o *Output) Initialize() error {
	if o.natsClient == nil {
		return errors.WrapFatal(errors.ErrMissingConfig,
			"InfluxOutput", "Initialize", "NATS client required")
	}

	o.client = influxdb2.NewClient(o.cfg.URL, o.cfg.Token)
	o.writeAPI = o.client.WriteAPIBlocking(o.cfg.Org, o.cfg.Bucket)
	return nil
}

// Start attaches the durable consumer and begins writing points.
func (o *Output) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "InfluxOutput", "Start", "check running state")
	}
	if o.writeAPI == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "InfluxOutput", "Start", "Initialize must run first")
	}

	err := o.natsClient.ConsumeStream(
		ctx, o.cfg.StreamName, o.cfg.InputSubject, o.cfg.Durable, o.handleMessage)
	if err != nil {
		return errors.WrapTransient(err, "InfluxOutput", "Start",
			fmt.Sprintf("consume %s on stream %s", o.cfg.InputSubject, o.cfg.StreamName))
	}

	o.mu.Lock()
	o.running = true
	o.startTime = time.Now()
	o.mu.Unlock()

	o.metrics.RecordServiceStatus(o.name, 1)
	o.logger.Info("Influx output started",
		"url", o.cfg.URL,
		"org", o.cfg.Org,
		"bucket", o.cfg.Bucket,
		"input_subject", o.cfg.InputSubject)
	return nil
}

// Stop stops the output and closes the InfluxDB client.
func (o *Output) Stop(_ time.Duration) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if !o.running {
		if o.client != nil {
			o.client.Close()
			o.client = nil
		}
		return nil
	}

	close(o.shutdown)

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	if o.client != nil {
		o.client.Close()
		o.client = nil
	}

	o.metrics.RecordServiceStatus(o.name, 0)
	o.logger.Info("Influx output stopped",
		"points_written", atomic.LoadInt64(&o.pointsWritten),
		"rejected", atomic.LoadInt64(&o.rejections))
	return nil
}

// IsStarted reports whether the output is running.
func (o *Output) IsStarted() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// handleMessage persists one feature record. Undecodable records ack
// (nil) so they never loop; write failures nak (error) for redelivery.
func (o *Output) handleMessage(ctx context.Context, data []byte) error {
	select {
	case <-o.shutdown:
		return errors.WrapTransient(errors.ErrShuttingDown,
			"InfluxOutput", "handleMessage", "output stopping")
	default:
	}

	o.mu.Lock()
	o.lastActivity = time.Now()
	o.mu.Unlock()

	o.metrics.RecordMessageReceived(o.name, "feature_record")

	rec, err := signal.DecodeRecord(data)
	if err != nil {
		atomic.AddInt64(&o.rejections, 1)
		o.metrics.RecordMessageProcessed(o.name, "feature_record", "rejected")
		o.logger.Warn("Rejected undecodable feature record", "error", err)
		return nil
	}

	start := time.Now()
	if err := o.writePoint(ctx, rec); err != nil {
		atomic.AddInt64(&o.writeErrors, 1)
		o.metrics.RecordError(o.name, "influx_write")
		o.logger.Error("Influx write failed, requesting redelivery",
			"device_id", rec.DeviceID,
			"error", err)
		return errors.Wrap(errors.ErrSinkUnavailable, "InfluxOutput", "handleMessage", err.Error())
	}

	atomic.AddInt64(&o.pointsWritten, 1)
	o.metrics.RecordMessageProcessed(o.name, "feature_record", "success")
	o.metrics.RecordProcessingDuration(o.name, "write", time.Since(start))

	o.logger.Debug("Wrote feature point",
		"device_id", rec.DeviceID,
		"measurement", rec.Measurement,
		"fields", len(rec.Fields))
	return nil
}

// writePoint converts a record to an InfluxDB point and writes it.
func (o *Output) writePoint(ctx context.Context, rec signal.Record) error {
	fields := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = v
	}

	point := influxdb2.NewPoint(
		rec.Measurement,
		map[string]string{"device_id": rec.DeviceID},
		fields,
		timestamp.FromUnixMs(rec.Timestamp),
	)
	return o.writeAPI.WritePoint(ctx, point)
}

// Meta returns metadata describing this output.
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        o.name,
		Type:        "output",
		Description: fmt.Sprintf("Writes feature records to InfluxDB bucket %s", o.cfg.Bucket),
		Version:     "0.1.0",
	}
}

// Health returns the current health status of this output.
func (o *Output) Health() component.HealthStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    o.running,
		LastCheck:  time.Now(),
		ErrorCount: int(atomic.LoadInt64(&o.writeErrors)),
		Uptime:     time.Since(o.startTime),
	}
}

// DataFlow returns current data flow metrics for this output.
func (o *Output) DataFlow() component.FlowMetrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	written := atomic.LoadInt64(&o.pointsWritten)
	failed := atomic.LoadInt64(&o.writeErrors) + atomic.LoadInt64(&o.rejections)

	var errorRate float64
	if total := written + failed; total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return component.FlowMetrics{
		ErrorRate:    errorRate,
		LastActivity: o.lastActivity,
	}
}
