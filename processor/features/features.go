package features

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/siffror/iiot-machine-health/component"
	"github.com/siffror/iiot-machine-health/errors"
	"github.com/siffror/iiot-machine-health/metric"
	"github.com/siffror/iiot-machine-health/natsclient"
	"github.com/siffror/iiot-machine-health/signal"
)

const componentName = "feature-extractor"

// Config holds configuration for the feature extraction processor.
type Config struct {
	StreamName    string  `json:"stream_name"`
	InputSubject  string  `json:"input_subject"`
	OutputSubject string  `json:"output_subject"`
	Durable       string  `json:"durable"`
	SampleRate    float64 `json:"sample_rate"`
	BandLow       float64 `json:"band_low"`
	BandHigh      float64 `json:"band_high"`
	Measurement   string  `json:"measurement"`
}

// DefaultConfig returns the default processor configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:    "SIGNALS",
		InputSubject:  "signals.raw",
		OutputSubject: "features.extracted",
		Durable:       "feature-extractor",
		SampleRate:    6400,
		BandLow:       0,
		BandHigh:      200,
		Measurement:   "signal_features",
	}
}

// Processor extracts vibration features from raw sensor events.
type Processor struct {
	name       string
	cfg        Config
	pipeline   *signal.Pipeline
	natsClient *natsclient.Client
	metrics    *metric.Metrics
	logger     *slog.Logger

	// Lifecycle management
	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex

	// Counters
	messagesProcessed int64
	recordsPublished  int64
	rejections        int64
	errors            int64
	lastActivity      time.Time
}

// NewProcessor creates a feature extraction processor from raw
// configuration. Empty fields fall back to defaults; the assembled
// pipeline configuration is validated strictly.
func NewProcessor(
	rawConfig json.RawMessage, deps component.Dependencies,
) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "FeatureProcessor", "NewProcessor", "config unmarshal")
		}
	}

	if cfg.StreamName == "" || cfg.InputSubject == "" || cfg.OutputSubject == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"FeatureProcessor", "NewProcessor", "stream and subjects are required")
	}
	if cfg.Durable == "" {
		cfg.Durable = componentName
	}

	pipeline, err := signal.NewPipeline(signal.Config{
		DefaultSampleRate: cfg.SampleRate,
		Band:              signal.Band{Low: cfg.BandLow, High: cfg.BandHigh},
		Measurement:       cfg.Measurement,
	})
	if err != nil {
		return nil, err
	}

	metrics := metric.NewMetrics()
	if deps.MetricsRegistry != nil {
		metrics = deps.MetricsRegistry.CoreMetrics()
	}

	return &Processor{
		name:       componentName,
		cfg:        cfg,
		pipeline:   pipeline,
		natsClient: deps.NATSClient,
		metrics:    metrics,
		logger:     deps.GetLoggerWithComponent(componentName),
		shutdown:   make(chan struct{}),
	}, nil
}

// Initialize prepares the processor.
func (p *Processor) Initialize() error {
	if p.natsClient == nil {
		return errors.WrapFatal(errors.ErrMissingConfig,
			"FeatureProcessor", "Initialize", "NATS client required")
	}
	return nil
}

// Start attaches the durable consumer and begins extracting features.
func (p *Processor) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "FeatureProcessor", "Start", "check running state")
	}

	// Stop closes the shutdown channel for good; a restarted instance
	// would nak every delivery through the closed-channel branch in
	// handleMessage, so refuse restart outright.
	select {
	case <-p.shutdown:
		return errors.WrapFatal(fmt.Errorf("processor was stopped and cannot be restarted"),
			"FeatureProcessor", "Start", "check shutdown state")
	default:
	}

	err := p.natsClient.ConsumeStream(
		ctx, p.cfg.StreamName, p.cfg.InputSubject, p.cfg.Durable, p.handleMessage)
	if err != nil {
		return errors.WrapTransient(err, "FeatureProcessor", "Start",
			fmt.Sprintf("consume %s on stream %s", p.cfg.InputSubject, p.cfg.StreamName))
	}

	p.mu.Lock()
	p.running = true
	p.startTime = time.Now()
	p.mu.Unlock()

	p.metrics.RecordServiceStatus(p.name, 1)
	p.logger.Info("Feature processor started",
		"stream", p.cfg.StreamName,
		"input_subject", p.cfg.InputSubject,
		"output_subject", p.cfg.OutputSubject,
		"durable", p.cfg.Durable)

	return nil
}

// Stop stops the processor. Consumer teardown happens when the NATS
// client closes; Stop only flips state so in-flight handlers finish
// naturally within the client's drain window.
func (p *Processor) Stop(_ time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.running {
		return nil
	}

	close(p.shutdown)

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.metrics.RecordServiceStatus(p.name, 0)
	p.logger.Info("Feature processor stopped",
		"processed", atomic.LoadInt64(&p.messagesProcessed),
		"published", atomic.LoadInt64(&p.recordsPublished),
		"rejected", atomic.LoadInt64(&p.rejections))
	return nil
}

// IsStarted reports whether the processor is running.
func (p *Processor) IsStarted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// handleMessage processes one raw event. A nil return acknowledges the
// message; an error requests redelivery. Validation rejections return
// nil so poison events never loop.
func (p *Processor) handleMessage(ctx context.Context, data []byte) error {
	select {
	case <-p.shutdown:
		return errors.WrapTransient(errors.ErrShuttingDown,
			"FeatureProcessor", "handleMessage", "processor stopping")
	default:
	}

	atomic.AddInt64(&p.messagesProcessed, 1)
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()

	p.metrics.RecordMessageReceived(p.name, "raw_event")
	start := time.Now()

	res := p.pipeline.ProcessRaw(data)
	if res.Err != nil {
		atomic.AddInt64(&p.rejections, 1)
		p.metrics.RecordMessageProcessed(p.name, res.Mode.String(), "rejected")
		p.metrics.RecordError(p.name, res.Stage.String())
		p.logger.Warn("Rejected event",
			"device_id", res.DeviceID,
			"stage", res.Stage.String(),
			"error", res.Err)
		return nil
	}

	payload, err := res.Record.Encode()
	if err != nil {
		atomic.AddInt64(&p.errors, 1)
		p.metrics.RecordError(p.name, "encode")
		p.logger.Error("Failed to encode feature record",
			"device_id", res.DeviceID,
			"error", err)
		return nil
	}

	if err := p.natsClient.PublishToStream(ctx, p.cfg.OutputSubject, payload); err != nil {
		atomic.AddInt64(&p.errors, 1)
		p.metrics.RecordError(p.name, "publish")
		p.logger.Error("Failed to publish feature record, requesting redelivery",
			"device_id", res.DeviceID,
			"output_subject", p.cfg.OutputSubject,
			"error", err)
		return errors.WrapTransient(err, "FeatureProcessor", "handleMessage", "publish record")
	}

	atomic.AddInt64(&p.recordsPublished, 1)
	p.metrics.RecordMessageProcessed(p.name, res.Mode.String(), "success")
	p.metrics.RecordMessagePublished(p.name, p.cfg.OutputSubject)
	p.metrics.RecordProcessingDuration(p.name, "extract", time.Since(start))

	p.logger.Debug("Published feature record",
		"device_id", res.DeviceID,
		"mode", res.Mode.String(),
		"fields", len(res.Record.Fields))
	return nil
}

// Meta returns metadata describing this processor.
func (p *Processor) Meta() component.Metadata {
	return component.Metadata{
		Name:        p.name,
		Type:        "processor",
		Description: "Extracts RMS, dominant frequency and band energy from raw sensor events",
		Version:     "0.1.0",
	}
}

// Health returns the current health status of this processor.
func (p *Processor) Health() component.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    p.running,
		LastCheck:  time.Now(),
		ErrorCount: int(atomic.LoadInt64(&p.errors)),
		Uptime:     time.Since(p.startTime),
	}
}

// DataFlow returns current data flow metrics for this processor.
func (p *Processor) DataFlow() component.FlowMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	processed := atomic.LoadInt64(&p.messagesProcessed)
	failed := atomic.LoadInt64(&p.errors) + atomic.LoadInt64(&p.rejections)

	var errorRate float64
	if processed > 0 {
		errorRate = float64(failed) / float64(processed)
	}

	return component.FlowMetrics{
		ErrorRate:    errorRate,
		LastActivity: p.lastActivity,
	}
}
