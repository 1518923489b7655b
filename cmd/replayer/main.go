// Package main implements the replayer: it reads precomputed feature
// rows from a CSV file and publishes them as sensor events to the
// raw-events subject, simulating a live fleet of devices. Useful for
// exercising the pipeline end to end without hardware.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/siffror/iiot-machine-health/natsclient"
)

type replayConfig struct {
	File          string
	NATSURL       string
	Subject       string
	UseJetStream  bool
	FeatureKeys   []string
	FeatureCount  int
	BatchSize     int
	Delay         time.Duration
	Loop          bool
	DeviceIDs     []string
	DeviceIDCol   string
	TimestampCol  string
	FeaturePrefix string
	LogFormat     string
}

func parseReplayFlags() *replayConfig {
	cfg := &replayConfig{}
	var featureKeys, deviceIDs string

	flag.StringVar(&cfg.File, "file", envOr("REPLAYER_FILE", ""),
		"CSV file with feature rows (env: REPLAYER_FILE)")
	flag.StringVar(&cfg.NATSURL, "nats-url", envOr("MACHINEHEALTH_NATS_URLS", "nats://localhost:4222"),
		"NATS server URL (env: MACHINEHEALTH_NATS_URLS)")
	flag.StringVar(&cfg.Subject, "subject", envOr("REPLAYER_SUBJECT", "signals.raw"),
		"Subject to publish events to (env: REPLAYER_SUBJECT)")
	flag.BoolVar(&cfg.UseJetStream, "jetstream", true,
		"Publish through JetStream instead of core NATS")
	flag.StringVar(&featureKeys, "feature-keys", envOr("REPLAYER_FEATURE_KEYS", ""),
		"Comma-separated feature columns; empty auto-detects numeric columns")
	flag.IntVar(&cfg.FeatureCount, "feature-count", 0,
		"Limit auto-detected feature columns to the first N")
	flag.IntVar(&cfg.BatchSize, "batch-size", 100,
		"Events per batch")
	flag.DurationVar(&cfg.Delay, "delay", 500*time.Millisecond,
		"Pause between batches")
	flag.BoolVar(&cfg.Loop, "loop", false,
		"Replay the file continuously")
	flag.StringVar(&deviceIDs, "device-ids", envOr("REPLAYER_DEVICE_IDS", "sim-1"),
		"Comma-separated device ids to round-robin across rows")
	flag.StringVar(&cfg.DeviceIDCol, "device-id-column", "",
		"Column carrying the device id; empty uses round-robin")
	flag.StringVar(&cfg.TimestampCol, "timestamp-column", "",
		"Column carrying the timestamp; empty stamps with wall clock")
	flag.StringVar(&cfg.FeaturePrefix, "feature-prefix", "feature_",
		"Output feature key prefix")
	flag.StringVar(&cfg.LogFormat, "log-format", "text",
		"Log format: json, text")
	flag.Parse()

	cfg.FeatureKeys = splitList(featureKeys)
	cfg.DeviceIDs = splitList(deviceIDs)
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	cfg := parseReplayFlags()

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, nil)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(handler).With("service", "replayer"))

	if err := run(cfg); err != nil {
		slog.Error("Replay failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *replayConfig) error {
	if cfg.File == "" {
		return fmt.Errorf("no input file; use -file")
	}

	f, err := os.Open(cfg.File)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	dataset, err := LoadDataset(f)
	if err != nil {
		return err
	}
	featureCols, err := dataset.SelectFeatureColumns(cfg.FeatureKeys, cfg.FeatureCount)
	if err != nil {
		return err
	}

	slog.Info("Dataset loaded",
		"rows", len(dataset.Rows),
		"feature_columns", featureCols,
		"devices", cfg.DeviceIDs,
		"loop", cfg.Loop)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := natsclient.NewClient(cfg.NATSURL, natsclient.WithName("replayer"))
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() { _ = client.Close(context.Background()) }()

	if err := client.WaitForConnection(ctx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	opts := EventOptions{
		DeviceIDs:     cfg.DeviceIDs,
		DeviceIDCol:   cfg.DeviceIDCol,
		TimestampCol:  cfg.TimestampCol,
		FeaturePrefix: cfg.FeaturePrefix,
	}

	for {
		if err := replayOnce(ctx, client, cfg, dataset, featureCols, opts); err != nil {
			return err
		}
		if !cfg.Loop || ctx.Err() != nil {
			return nil
		}
		slog.Info("Replay complete, looping from start")
	}
}

// replayOnce sends the dataset once, preserving row order.
func replayOnce(
	ctx context.Context,
	client *natsclient.Client,
	cfg *replayConfig,
	dataset *Dataset,
	featureCols []string,
	opts EventOptions,
) error {
	total := len(dataset.Rows)
	if total == 0 {
		slog.Warn("Dataset is empty, nothing to send")
		return nil
	}

	sent := 0
	for start := 0; start < total; start += cfg.BatchSize {
		if ctx.Err() != nil {
			slog.Info("Replay interrupted", "sent", sent)
			return nil
		}

		end := min(start+cfg.BatchSize, total)
		for idx := start; idx < end; idx++ {
			event := dataset.RowToEvent(dataset.Rows[idx], featureCols, idx, opts)
			payload, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("marshal event %d: %w", idx, err)
			}

			if cfg.UseJetStream {
				err = client.PublishToStream(ctx, cfg.Subject, payload)
			} else {
				err = client.Publish(ctx, cfg.Subject, payload)
			}
			if err != nil {
				return fmt.Errorf("publish event %d: %w", idx, err)
			}
			sent++
		}

		slog.Info("Sent batch", "events", end-start, "progress", fmt.Sprintf("%d/%d", end, total))
		if cfg.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cfg.Delay):
			}
		}
	}
	return nil
}
