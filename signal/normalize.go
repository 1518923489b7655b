package signal

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/siffror/iiot-machine-health/errors"
	"github.com/siffror/iiot-machine-health/pkg/timestamp"
)

// Mode identifies the shape of a normalized event.
type Mode int

const (
	// ModeUnknown means the event shape has not been classified.
	ModeUnknown Mode = iota

	// ModePrecomputed events carry scalar feature_N values that pass
	// through to storage unchanged.
	ModePrecomputed

	// ModeWaveform events carry raw per-axis sample arrays that need
	// feature extraction.
	ModeWaveform
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModePrecomputed:
		return "precomputed"
	case ModeWaveform:
		return "waveform"
	default:
		return "unknown"
	}
}

// AxisSignal is one axis of decoded waveform samples.
type AxisSignal struct {
	Axis    string // canonical name: ax, ay, az
	Samples []float64
}

// Input is a validated, shape-classified event ready for extraction.
type Input struct {
	DeviceID   string
	Timestamp  int64 // Unix ms, 0 when the event carried no timestamp
	SampleRate float64
	Mode       Mode
	Scalars    map[string]float64 // ModePrecomputed only
	Axes       []AxisSignal       // ModeWaveform only, ax/ay/az order
}

// deviceIDKeys are tried in order; the first non-empty string wins.
var deviceIDKeys = []string{"device_id", "sensor_id", "id"}

// canonicalAxes in output order.
var canonicalAxes = []string{"ax", "ay", "az"}

// axisAliases maps accepted key spellings to the canonical axis name.
// Flat events use ax/ay/az; nested parents usually use bare x/y/z.
var axisAliases = map[string][]string{
	"ax": {"ax", "x"},
	"ay": {"ay", "y"},
	"az": {"az", "z"},
}

// nestedParents are object keys that may hold per-axis sample arrays.
var nestedParents = []string{"axes", "acc", "accel", "acceleration"}

const featurePrefix = "feature_"

// Normalize validates an event and classifies its shape. defaultRate is
// used when the event omits "fs". All rejections are invalid-class
// errors wrapping a sentinel from the errors package.
func Normalize(event map[string]any, defaultRate float64) (*Input, error) {
	if len(event) == 0 {
		return nil, errors.WrapInvalid(errors.ErrAmbiguousShape,
			"signal", "Normalize", "empty event")
	}

	deviceID := firstStringValue(event, deviceIDKeys)
	if deviceID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingDeviceID,
			"signal", "Normalize", "no device_id, sensor_id or id field")
	}

	in := &Input{DeviceID: deviceID}
	if ts, ok := timestamp.FromEventValue(event["timestamp"]); ok {
		in.Timestamp = ts
	}

	featureKeys := collectFeatureKeys(event)
	flatPresent := anyAxisPresent(event)
	nestedParent, nestedPresent := findNestedParent(event)

	switch {
	case len(featureKeys) > 0 && (flatPresent || nestedPresent):
		return nil, errors.WrapInvalid(errors.ErrAmbiguousShape,
			"signal", "Normalize", "event mixes precomputed features with raw samples")
	case flatPresent && nestedPresent:
		return nil, errors.WrapInvalid(errors.ErrAmbiguousShape,
			"signal", "Normalize", "event carries both flat and nested axis arrays")
	case len(featureKeys) == 0 && !flatPresent && !nestedPresent:
		return nil, errors.WrapInvalid(errors.ErrAmbiguousShape,
			"signal", "Normalize", "no feature_N values and no axis samples")
	}

	if len(featureKeys) > 0 {
		scalars, err := decodeScalars(event, featureKeys)
		if err != nil {
			return nil, err
		}
		in.Mode = ModePrecomputed
		in.Scalars = scalars
		return in, nil
	}

	rate, err := decodeRate(event, defaultRate)
	if err != nil {
		return nil, err
	}

	source := event
	if nestedPresent {
		source = event[nestedParent].(map[string]any)
	}

	axes, err := decodeAxes(source)
	if err != nil {
		return nil, err
	}

	in.Mode = ModeWaveform
	in.SampleRate = rate
	in.Axes = axes
	return in, nil
}

// firstStringValue returns the first non-empty string among keys.
func firstStringValue(event map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := event[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// collectFeatureKeys returns the event's feature_N keys in stable order.
func collectFeatureKeys(event map[string]any) []string {
	var keys []string
	for k := range event {
		if strings.HasPrefix(k, featurePrefix) && len(k) > len(featurePrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// decodeScalars validates and extracts precomputed feature values.
// Any NaN or infinite value rejects the whole event.
func decodeScalars(event map[string]any, keys []string) (map[string]float64, error) {
	scalars := make(map[string]float64, len(keys))
	for _, k := range keys {
		v, ok := toFloat(event[k])
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrNonFinite,
				"signal", "Normalize", fmt.Sprintf("%s is not numeric", k))
		}
		if !isFinite(v) {
			return nil, errors.WrapInvalid(errors.ErrNonFinite,
				"signal", "Normalize", fmt.Sprintf("%s is not finite", k))
		}
		scalars[k] = v
	}
	return scalars, nil
}

// decodeRate resolves the sample rate: event "fs" when present,
// otherwise the configured default. Non-positive rates are rejected.
func decodeRate(event map[string]any, defaultRate float64) (float64, error) {
	rate := defaultRate
	if v, present := event["fs"]; present {
		f, ok := toFloat(v)
		if !ok {
			return 0, errors.WrapInvalid(errors.ErrInvalidRate,
				"signal", "Normalize", "fs is not numeric")
		}
		rate = f
	}
	if !isFinite(rate) || rate <= 0 {
		return 0, errors.WrapInvalid(errors.ErrInvalidRate,
			"signal", "Normalize", fmt.Sprintf("sample rate %v must be positive", rate))
	}
	return rate, nil
}

// decodeAxes extracts sample arrays for every axis present in source.
// Empty arrays count as absent; if every present axis is empty the
// event is rejected. A bare number is accepted as a one-sample array.
func decodeAxes(source map[string]any) ([]AxisSignal, error) {
	axes := make([]AxisSignal, 0, len(canonicalAxes))
	sawPresent := false

	for _, canonical := range canonicalAxes {
		raw, present := lookupAxis(source, canonical)
		if !present {
			continue
		}
		sawPresent = true

		samples, err := toSamples(raw, canonical)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			continue
		}
		axes = append(axes, AxisSignal{Axis: canonical, Samples: samples})
	}

	if len(axes) == 0 {
		if sawPresent {
			return nil, errors.WrapInvalid(errors.ErrEmptyAxis,
				"signal", "Normalize", "all axis arrays are empty")
		}
		return nil, errors.WrapInvalid(errors.ErrAmbiguousShape,
			"signal", "Normalize", "no recognizable axis keys")
	}

	return axes, nil
}

// lookupAxis finds the value for an axis under any accepted spelling.
func lookupAxis(source map[string]any, canonical string) (any, bool) {
	for _, alias := range axisAliases[canonical] {
		if v, ok := source[alias]; ok {
			return v, true
		}
	}
	return nil, false
}

// anyAxisPresent reports whether any flat axis key exists on the event.
// Both the canonical ax/ay/az spellings and bare x/y/z are accepted.
func anyAxisPresent(event map[string]any) bool {
	for _, canonical := range canonicalAxes {
		if _, ok := lookupAxis(event, canonical); ok {
			return true
		}
	}
	return false
}

// findNestedParent returns the first parent object holding axis data.
func findNestedParent(event map[string]any) (string, bool) {
	for _, parent := range nestedParents {
		nested, ok := event[parent].(map[string]any)
		if !ok {
			continue
		}
		for _, canonical := range canonicalAxes {
			if _, found := lookupAxis(nested, canonical); found {
				return parent, true
			}
		}
	}
	return "", false
}

// toSamples decodes an axis value into a sample slice. Non-numeric or
// non-finite elements reject the event.
func toSamples(v any, axis string) ([]float64, error) {
	appendSample := func(dst []float64, elem any, idx int) ([]float64, error) {
		f, ok := toFloat(elem)
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrNonFinite,
				"signal", "Normalize", fmt.Sprintf("%s[%d] is not numeric", axis, idx))
		}
		if !isFinite(f) {
			return nil, errors.WrapInvalid(errors.ErrNonFinite,
				"signal", "Normalize", fmt.Sprintf("%s[%d] is not finite", axis, idx))
		}
		return append(dst, f), nil
	}

	switch t := v.(type) {
	case []any:
		samples := make([]float64, 0, len(t))
		var err error
		for i, elem := range t {
			if samples, err = appendSample(samples, elem, i); err != nil {
				return nil, err
			}
		}
		return samples, nil
	case []float64:
		samples := make([]float64, 0, len(t))
		var err error
		for i, elem := range t {
			if samples, err = appendSample(samples, elem, i); err != nil {
				return nil, err
			}
		}
		return samples, nil
	default:
		// Scalar firmware payloads send a single reading per axis
		return appendSample(nil, v, 0)
	}
}

// toFloat converts JSON-decoded numeric types to float64.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	default:
		return 0, false
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
