package signal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/siffror/iiot-machine-health/errors"
	"github.com/siffror/iiot-machine-health/pkg/timestamp"
)

// Config holds the pipeline's static processing parameters. Invalid
// values fail construction; per-event values are checked at runtime.
type Config struct {
	DefaultSampleRate float64 // Hz, applied when events omit "fs"
	Band              Band    // band-energy frequency range
	Measurement       string  // measurement name stamped on records
}

// Validate checks the static configuration.
func (c Config) Validate() error {
	if c.DefaultSampleRate <= 0 || !isFinite(c.DefaultSampleRate) {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"signal", "Validate", fmt.Sprintf("default sample rate %v must be positive", c.DefaultSampleRate))
	}
	if _, err := NewBand(c.Band.Low, c.Band.High); err != nil {
		return err
	}
	if c.Measurement == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"signal", "Validate", "measurement name is required")
	}
	return nil
}

// Stage marks where in the pipeline a rejection occurred.
type Stage int

const (
	// StageValidate covers parsing, shape classification and value checks.
	StageValidate Stage = iota
	// StageExtract covers DSP feature computation.
	StageExtract
	// StageAssemble covers record construction.
	StageAssemble
)

// String returns a human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageValidate:
		return "validate"
	case StageExtract:
		return "extract"
	case StageAssemble:
		return "assemble"
	default:
		return "unknown"
	}
}

// Result is the outcome of processing one event. Err non-nil means the
// event was rejected at Stage; Record is set only on success.
type Result struct {
	Record   *Record
	Err      error
	Stage    Stage
	Mode     Mode
	DeviceID string
}

// Pipeline converts raw events into feature records. It is stateless
// across events and safe for concurrent use.
type Pipeline struct {
	cfg Config
	now func() time.Time
}

// NewPipeline validates the configuration and returns a pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, now: time.Now}, nil
}

// ProcessRaw parses a JSON payload and processes it. Malformed JSON is
// a validation rejection, not an error: bad payloads must be consumed,
// not redelivered.
func (p *Pipeline) ProcessRaw(data []byte) Result {
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		return Result{
			Err:   errors.WrapInvalid(err, "signal", "ProcessRaw", "parse event"),
			Stage: StageValidate,
		}
	}
	return p.Process(event)
}

// Process runs one event through validate, extract and assemble.
func (p *Pipeline) Process(event map[string]any) Result {
	in, err := Normalize(event, p.cfg.DefaultSampleRate)
	if err != nil {
		res := Result{Err: err, Stage: StageValidate}
		// Device identity may still be recoverable for rejection logs
		res.DeviceID = firstStringValue(event, deviceIDKeys)
		return res
	}

	res := Result{Mode: in.Mode, DeviceID: in.DeviceID}

	var fields map[string]float64
	switch in.Mode {
	case ModePrecomputed:
		fields = make(map[string]float64, len(in.Scalars))
		for k, v := range in.Scalars {
			fields[k] = v
		}
	case ModeWaveform:
		fields = make(map[string]float64, 3*len(in.Axes))
		for _, axis := range in.Axes {
			features, err := ExtractAxisFeatures(axis, in.SampleRate, p.cfg.Band)
			if err != nil {
				res.Err = err
				res.Stage = StageExtract
				return res
			}
			for k, v := range FeatureFields(features, p.cfg.Band) {
				fields[k] = v
			}
		}
	default:
		res.Err = errors.WrapInvalid(errors.ErrAmbiguousShape,
			"signal", "Process", "unclassified event shape")
		res.Stage = StageValidate
		return res
	}

	ts := in.Timestamp
	if ts == 0 {
		ts = timestamp.ToUnixMs(p.now())
	}

	res.Record = &Record{
		Measurement: p.cfg.Measurement,
		DeviceID:    in.DeviceID,
		Timestamp:   ts,
		Fields:      fields,
	}
	res.Stage = StageAssemble
	return res
}
