// Package main implements the entry point for the machine-health
// service: a NATS-backed pipeline that ingests raw accelerometer
// events over UDP, extracts vibration features and writes them to
// InfluxDB.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/siffror/iiot-machine-health/component"
	"github.com/siffror/iiot-machine-health/config"
	"github.com/siffror/iiot-machine-health/health"
	"github.com/siffror/iiot-machine-health/input/udp"
	"github.com/siffror/iiot-machine-health/metric"
	"github.com/siffror/iiot-machine-health/natsclient"
	"github.com/siffror/iiot-machine-health/output/influx"
	"github.com/siffror/iiot-machine-health/pkg/retry"
	"github.com/siffror/iiot-machine-health/processor/features"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "machinehealth"
)

// componentFactory builds a component from raw config and dependencies.
type componentFactory func(json.RawMessage, component.Dependencies) (component.Discoverable, error)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	metricsRegistry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	natsClient, err := createNATSClient(cfg, metricsRegistry, monitor, logger)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	if err := connectToNATS(ctx, natsClient); err != nil {
		return err
	}
	defer func() { _ = natsClient.Close(ctx) }()

	if cfg.NATS.JetStream.Enabled {
		if err := provisionStream(ctx, natsClient, cfg.NATS.JetStream); err != nil {
			return fmt.Errorf("provision stream: %w", err)
		}
	}

	deps := component.Dependencies{
		NATSClient:      natsClient,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	}

	managed, err := buildComponents(cfg, deps, monitor)
	if err != nil {
		return fmt.Errorf("build components: %w", err)
	}

	metricsServer, healthServer := startServers(cfg, metricsRegistry, monitor)
	defer func() {
		if metricsServer != nil {
			_ = metricsServer.Stop()
		}
		if healthServer != nil {
			_ = healthServer.Stop()
		}
	}()

	return runWithSignalHandling(ctx, managed, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging.
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting machine-health service",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig loads configuration with strict validation. An empty path
// runs on defaults plus environment overrides.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path == "" {
		return loader.Load()
	}
	return loader.LoadFile(path)
}

// createNATSClient builds the NATS client from configuration and hooks
// its health changes into the monitor.
func createNATSClient(
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	url := "nats://localhost:4222"
	if len(cfg.NATS.URLs) > 0 {
		url = cfg.NATS.URLs[0]
	}

	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithMetrics(registry),
		natsclient.WithLogger(&slogAdapter{logger: logger.With("component", "nats")}),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				monitor.SetStatus("nats", health.NewHealthy("nats", "connected"))
			} else {
				monitor.SetStatus("nats", health.NewUnhealthy("nats", "connection lost"))
			}
		}),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(
			cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	return natsclient.NewClient(url, opts...)
}

// connectToNATS establishes the connection and waits for it to be ready.
func connectToNATS(ctx context.Context, client *natsclient.Client) error {
	slog.Info("Connecting to NATS", "url", client.URL())
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}

// provisionStream creates or updates the JetStream stream carrying
// both raw events and extracted features.
func provisionStream(
	ctx context.Context, client *natsclient.Client, js config.JetStreamConfig,
) error {
	streamCfg := jetstream.StreamConfig{
		Name:     js.StreamName,
		Subjects: []string{js.RawSubject, js.FeatureSubject},
	}
	if js.MaxAge != "" {
		maxAge, err := time.ParseDuration(js.MaxAge)
		if err != nil {
			return fmt.Errorf("parse stream max_age %q: %w", js.MaxAge, err)
		}
		streamCfg.MaxAge = maxAge
	}

	return retry.Do(ctx, retry.Quick(), func() error {
		_, err := client.CreateStream(ctx, streamCfg)
		return err
	})
}

// buildComponents constructs all enabled components in start order:
// consumers before producers so no event arrives without a reader.
func buildComponents(
	cfg *config.Config, deps component.Dependencies, monitor *health.Monitor,
) ([]*component.ManagedComponent, error) {
	type spec struct {
		name    string
		factory componentFactory
	}

	specs := []spec{
		{"influx-writer", influx.NewOutput},
		{"feature-extractor", features.NewProcessor},
		{"udp-input", udp.NewInput},
	}

	defaults := defaultComponentConfigs(cfg)

	var managed []*component.ManagedComponent
	for i, s := range specs {
		raw := defaults[s.name]
		if override, ok := cfg.Components[s.name]; ok {
			if !override.Enabled {
				slog.Info("Component disabled in config", "name", s.name)
				continue
			}
			if len(override.Config) > 0 {
				raw = override.Config
			}
		}

		comp, err := s.factory(raw, deps)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", s.name, err)
		}

		managed = append(managed, &component.ManagedComponent{
			Component:  comp,
			State:      component.StateCreated,
			StartOrder: i,
		})
		monitor.Register(s.name, comp)
	}
	return managed, nil
}

// defaultComponentConfigs derives per-component configs from the
// top-level configuration so a single config file drives the whole
// pipeline.
func defaultComponentConfigs(cfg *config.Config) map[string]json.RawMessage {
	js := cfg.NATS.JetStream

	udpCfg, _ := json.Marshal(map[string]any{
		"subject": js.RawSubject,
	})
	procCfg, _ := json.Marshal(map[string]any{
		"stream_name":    js.StreamName,
		"input_subject":  js.RawSubject,
		"output_subject": js.FeatureSubject,
		"sample_rate":    cfg.Pipeline.SampleRate,
		"band_low":       cfg.Pipeline.BandLow,
		"band_high":      cfg.Pipeline.BandHigh,
		"measurement":    cfg.Pipeline.Measurement,
	})
	influxCfg, _ := json.Marshal(map[string]any{
		"url":           cfg.Influx.URL,
		"org":           cfg.Influx.Org,
		"bucket":        cfg.Influx.Bucket,
		"token":         cfg.Influx.Token,
		"stream_name":   js.StreamName,
		"input_subject": js.FeatureSubject,
	})

	return map[string]json.RawMessage{
		"udp-input":         udpCfg,
		"feature-extractor": procCfg,
		"influx-writer":     influxCfg,
	}
}

// startServers starts the metrics and health HTTP servers.
func startServers(
	cfg *config.Config, registry *metric.MetricsRegistry, monitor *health.Monitor,
) (*metric.Server, *health.Server) {
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		slog.Info("Metrics server starting", "address", metricsServer.Address())
	}

	healthServer := health.NewServer(appName, cfg.Health.Port, monitor)
	go func() {
		if err := healthServer.Start(); err != nil {
			slog.Error("Health server failed", "error", err)
		}
	}()
	slog.Info("Health server starting", "port", cfg.Health.Port)

	return metricsServer, healthServer
}

// runWithSignalHandling starts components and blocks until a shutdown
// signal arrives, then stops them in reverse order.
func runWithSignalHandling(
	ctx context.Context, managed []*component.ManagedComponent, shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := startComponents(signalCtx, managed); err != nil {
		stopComponents(managed, shutdownTimeout)
		return err
	}

	slog.Info("Machine-health service started", "components", len(managed))

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	stopComponents(managed, shutdownTimeout)
	slog.Info("Machine-health shutdown complete")
	return nil
}

// startComponents initializes and starts each component with its own
// child context.
func startComponents(ctx context.Context, managed []*component.ManagedComponent) error {
	for _, mc := range managed {
		name := mc.Component.Meta().Name

		lc, ok := component.AsLifecycleComponent(mc.Component)
		if !ok {
			continue
		}

		if err := lc.Initialize(); err != nil {
			mc.State = component.StateFailed
			mc.LastError = err
			return fmt.Errorf("initialize %s: %w", name, err)
		}
		mc.State = component.StateInitialized

		mc.Context, mc.Cancel = context.WithCancel(ctx)
		if err := lc.Start(mc.Context); err != nil {
			mc.State = component.StateFailed
			mc.LastError = err
			return fmt.Errorf("start %s: %w", name, err)
		}
		mc.State = component.StateStarted

		slog.Info("Component started", "name", name)
	}
	return nil
}

// stopComponents stops started components in reverse start order.
func stopComponents(managed []*component.ManagedComponent, timeout time.Duration) {
	for i := len(managed) - 1; i >= 0; i-- {
		mc := managed[i]
		if mc.State != component.StateStarted {
			continue
		}
		name := mc.Component.Meta().Name

		lc, ok := component.AsLifecycleComponent(mc.Component)
		if !ok {
			continue
		}

		if err := lc.Stop(timeout); err != nil {
			mc.State = component.StateFailed
			mc.LastError = err
			slog.Error("Component stop failed", "name", name, "error", err)
		} else {
			mc.State = component.StateStopped
			slog.Info("Component stopped", "name", name)
		}

		if mc.Cancel != nil {
			mc.Cancel()
		}
	}
}
