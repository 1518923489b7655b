package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ComponentConfig holds one component instance's settings. The raw
// Config blob is decoded by the component itself, so each component
// owns its own schema.
type ComponentConfig struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// ComponentConfigs holds component instance configurations keyed by
// instance name (e.g., "udp-ingest-main").
type ComponentConfigs map[string]ComponentConfig

// Config represents the complete application configuration
type Config struct {
	Version    string           `json:"version,omitempty"`
	NATS       NATSConfig       `json:"nats"`
	Influx     InfluxConfig     `json:"influx"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Metrics    MetricsConfig    `json:"metrics,omitempty"`
	Health     HealthConfig     `json:"health,omitempty"`
	Components ComponentConfigs `json:"components,omitempty"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	// JSON round-trip for deep copy
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string        `json:"urls,omitempty"`
	MaxReconnects int             `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration   `json:"reconnect_wait,omitempty"`
	Username      string          `json:"username,omitempty"`
	Password      string          `json:"password,omitempty"`
	Token         string          `json:"token,omitempty"`
	TLS           NATSTLSConfig   `json:"tls,omitempty"`
	JetStream     JetStreamConfig `json:"jetstream,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// JetStreamConfig for the durable raw-event stream
type JetStreamConfig struct {
	Enabled        bool   `json:"enabled"`
	StreamName     string `json:"stream_name,omitempty"`
	RawSubject     string `json:"raw_subject,omitempty"`
	FeatureSubject string `json:"feature_subject,omitempty"`
	MaxAge         string `json:"max_age,omitempty"`
}

// InfluxConfig defines the time-series sink connection
type InfluxConfig struct {
	URL           string        `json:"url,omitempty"`
	Org           string        `json:"org,omitempty"`
	Bucket        string        `json:"bucket,omitempty"`
	Token         string        `json:"token,omitempty"`
	BatchSize     int           `json:"batch_size,omitempty"`
	FlushInterval time.Duration `json:"flush_interval,omitempty"`
}

// PipelineConfig carries the signal-processing defaults applied to
// events that don't specify their own.
type PipelineConfig struct {
	SampleRate  float64 `json:"sample_rate,omitempty"` // Hz, used when events omit "fs"
	BandLow     float64 `json:"band_low"`              // Hz, inclusive
	BandHigh    float64 `json:"band_high,omitempty"`   // Hz, inclusive
	Measurement string  `json:"measurement,omitempty"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// HealthConfig defines the health endpoint
type HealthConfig struct {
	Port int `json:"port,omitempty"`
}

// Validate checks if the config is valid. Invalid static configuration
// is fatal at startup, never silently corrected.
func (c *Config) Validate() error {
	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}

	if c.Pipeline.SampleRate <= 0 {
		return fmt.Errorf("pipeline.sample_rate must be positive, got %v", c.Pipeline.SampleRate)
	}
	if c.Pipeline.BandLow < 0 {
		return fmt.Errorf("pipeline.band_low must be non-negative, got %v", c.Pipeline.BandLow)
	}
	if c.Pipeline.BandHigh <= c.Pipeline.BandLow {
		return fmt.Errorf("pipeline.band_high (%v) must exceed band_low (%v)",
			c.Pipeline.BandHigh, c.Pipeline.BandLow)
	}
	if c.Pipeline.Measurement == "" {
		return errors.New("pipeline.measurement is required")
	}

	if c.NATS.TLS.Enabled {
		if c.NATS.TLS.CertFile == "" || c.NATS.TLS.KeyFile == "" {
			return errors.New("nats.tls.cert_file and nats.tls.key_file are required when TLS is enabled")
		}
	}

	if c.Influx.BatchSize < 0 {
		return fmt.Errorf("influx.batch_size must be non-negative, got %d", c.Influx.BatchSize)
	}

	for instanceName := range c.Components {
		if instanceName == "" {
			return errors.New("component instance name cannot be empty")
		}
	}

	return nil
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  "MACHINEHEALTH",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := l.getDefaults()

	for _, path := range l.layers {
		rawConfig, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, rawConfig)
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// getDefaults returns default configuration
func (l *Loader) getDefaults() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream: JetStreamConfig{
				Enabled:        true,
				StreamName:     "SIGNALS",
				RawSubject:     "signals.raw",
				FeatureSubject: "features.extracted",
			},
		},
		Influx: InfluxConfig{
			URL:           "http://localhost:8086",
			Org:           "machine-health",
			Bucket:        "vibration",
			BatchSize:     500,
			FlushInterval: time.Second,
		},
		Pipeline: PipelineConfig{
			SampleRate:  6400,
			BandLow:     0,
			BandHigh:    200,
			Measurement: "signal_features",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Port: 8081,
		},
	}
}

// loadRawJSON loads configuration from a JSON file as a map
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, err
	}

	l.parseDurations(rawConfig)

	return rawConfig, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := l.deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}

	return &merged
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any)

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func (l *Loader) parseDurations(data map[string]any) {
	if nats, ok := data["nats"].(map[string]any); ok {
		if wait, ok := nats["reconnect_wait"].(string); ok {
			if d, err := time.ParseDuration(wait); err == nil {
				nats["reconnect_wait"] = d.Nanoseconds()
			}
		}
	}
	if influx, ok := data["influx"].(map[string]any); ok {
		if flush, ok := influx["flush_interval"].(string); ok {
			if d, err := time.ParseDuration(flush); err == nil {
				influx["flush_interval"] = d.Nanoseconds()
			}
		}
	}
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := os.Getenv(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(l.envPrefix + "_INFLUX_URL"); val != "" {
		cfg.Influx.URL = val
	}
	if val := os.Getenv(l.envPrefix + "_INFLUX_ORG"); val != "" {
		cfg.Influx.Org = val
	}
	if val := os.Getenv(l.envPrefix + "_INFLUX_BUCKET"); val != "" {
		cfg.Influx.Bucket = val
	}
	if val := os.Getenv(l.envPrefix + "_INFLUX_TOKEN"); val != "" {
		cfg.Influx.Token = val
	}
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// String returns a JSON representation of the config with credentials redacted
func (c *Config) String() string {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = "[redacted]"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "[redacted]"
	}
	if clone.Influx.Token != "" {
		clone.Influx.Token = "[redacted]"
	}
	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}

// UnmarshalJSON implements custom JSON unmarshaling for Config so
// duration fields accept both strings ("2s") and nanosecond numbers.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		NATS struct {
			URLs          []string        `json:"urls"`
			MaxReconnects int             `json:"max_reconnects"`
			ReconnectWait any             `json:"reconnect_wait"`
			Username      string          `json:"username,omitempty"`
			Password      string          `json:"password,omitempty"`
			Token         string          `json:"token,omitempty"`
			TLS           NATSTLSConfig   `json:"tls,omitempty"`
			JetStream     JetStreamConfig `json:"jetstream"`
		} `json:"nats"`
		Influx struct {
			URL           string `json:"url,omitempty"`
			Org           string `json:"org,omitempty"`
			Bucket        string `json:"bucket,omitempty"`
			Token         string `json:"token,omitempty"`
			BatchSize     int    `json:"batch_size,omitempty"`
			FlushInterval any    `json:"flush_interval,omitempty"`
		} `json:"influx"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.NATS.URLs = aux.NATS.URLs
	c.NATS.MaxReconnects = aux.NATS.MaxReconnects
	c.NATS.Username = aux.NATS.Username
	c.NATS.Password = aux.NATS.Password
	c.NATS.Token = aux.NATS.Token
	c.NATS.TLS = aux.NATS.TLS
	c.NATS.JetStream = aux.NATS.JetStream

	c.Influx.URL = aux.Influx.URL
	c.Influx.Org = aux.Influx.Org
	c.Influx.Bucket = aux.Influx.Bucket
	c.Influx.Token = aux.Influx.Token
	c.Influx.BatchSize = aux.Influx.BatchSize

	if d, err := parseFlexibleDuration(aux.NATS.ReconnectWait); err == nil {
		c.NATS.ReconnectWait = d
	}
	if d, err := parseFlexibleDuration(aux.Influx.FlushInterval); err == nil {
		c.Influx.FlushInterval = d
	}

	return nil
}

// parseFlexibleDuration accepts "2s" strings and nanosecond numbers.
func parseFlexibleDuration(v any) (time.Duration, error) {
	switch t := v.(type) {
	case string:
		return time.ParseDuration(t)
	case float64:
		return time.Duration(t), nil
	default:
		return 0, fmt.Errorf("unsupported duration type %T", v)
	}
}
