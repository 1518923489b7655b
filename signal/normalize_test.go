package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siffror/iiot-machine-health/errors"
)

func TestNormalizePrecomputed(t *testing.T) {
	event := map[string]any{
		"device_id":  "pump-01",
		"feature_1":  0.42,
		"feature_2":  1.5,
		"feature_10": 3.0,
	}

	in, err := Normalize(event, 6400)
	require.NoError(t, err)

	assert.Equal(t, "pump-01", in.DeviceID)
	assert.Equal(t, ModePrecomputed, in.Mode)
	assert.Equal(t, map[string]float64{
		"feature_1":  0.42,
		"feature_2":  1.5,
		"feature_10": 3.0,
	}, in.Scalars)
	assert.Empty(t, in.Axes)
}

func TestNormalizeWaveformFlat(t *testing.T) {
	event := map[string]any{
		"device_id": "fan-02",
		"fs":        1000.0,
		"ax":        []any{1.0, 2.0, 3.0},
		"az":        []any{0.5},
	}

	in, err := Normalize(event, 6400)
	require.NoError(t, err)

	assert.Equal(t, ModeWaveform, in.Mode)
	assert.Equal(t, 1000.0, in.SampleRate)
	require.Len(t, in.Axes, 2)
	assert.Equal(t, "ax", in.Axes[0].Axis)
	assert.Equal(t, []float64{1, 2, 3}, in.Axes[0].Samples)
	assert.Equal(t, "az", in.Axes[1].Axis)
}

func TestNormalizeWaveformNested(t *testing.T) {
	for _, parent := range []string{"axes", "acc", "accel", "acceleration"} {
		t.Run(parent, func(t *testing.T) {
			event := map[string]any{
				"device_id": "motor-03",
				parent: map[string]any{
					"x": []any{1.0, -1.0},
					"y": []any{2.0, -2.0},
				},
			}

			in, err := Normalize(event, 6400)
			require.NoError(t, err)

			assert.Equal(t, ModeWaveform, in.Mode)
			assert.Equal(t, 6400.0, in.SampleRate) // default applied
			require.Len(t, in.Axes, 2)
			assert.Equal(t, "ax", in.Axes[0].Axis)
			assert.Equal(t, "ay", in.Axes[1].Axis)
		})
	}
}

func TestNormalizeDeviceIDFallbacks(t *testing.T) {
	tests := []struct {
		name  string
		event map[string]any
		want  string
	}{
		{"device_id wins", map[string]any{"device_id": "a", "sensor_id": "b", "id": "c", "feature_1": 1.0}, "a"},
		{"sensor_id second", map[string]any{"sensor_id": "b", "id": "c", "feature_1": 1.0}, "b"},
		{"id last", map[string]any{"id": "c", "feature_1": 1.0}, "c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Normalize(tt.event, 6400)
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.DeviceID)
		})
	}
}

func TestNormalizeMissingDeviceID(t *testing.T) {
	_, err := Normalize(map[string]any{"feature_1": 1.0}, 6400)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingDeviceID))
	assert.True(t, errors.IsInvalid(err))
}

func TestNormalizeAmbiguousShapes(t *testing.T) {
	tests := []struct {
		name  string
		event map[string]any
	}{
		{"features plus flat axes", map[string]any{
			"device_id": "d", "feature_1": 1.0, "ax": []any{1.0},
		}},
		{"features plus nested axes", map[string]any{
			"device_id": "d", "feature_1": 1.0,
			"axes": map[string]any{"x": []any{1.0}},
		}},
		{"flat plus nested axes", map[string]any{
			"device_id": "d", "ax": []any{1.0},
			"axes": map[string]any{"x": []any{1.0}},
		}},
		{"neither shape", map[string]any{"device_id": "d", "temperature": 21.5}},
		{"empty event", map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.event, 6400)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrAmbiguousShape) ||
				errors.Is(err, errors.ErrMissingDeviceID))
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestNormalizeEmptyAxes(t *testing.T) {
	event := map[string]any{
		"device_id": "d",
		"ax":        []any{},
		"ay":        []any{},
	}

	_, err := Normalize(event, 6400)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmptyAxis))
}

func TestNormalizeEmptyAxisSkipped(t *testing.T) {
	// One empty and one populated axis: the empty one simply produces
	// no features.
	event := map[string]any{
		"device_id": "d",
		"ax":        []any{},
		"ay":        []any{1.0, 2.0},
	}

	in, err := Normalize(event, 6400)
	require.NoError(t, err)
	require.Len(t, in.Axes, 1)
	assert.Equal(t, "ay", in.Axes[0].Axis)
}

func TestNormalizeNonFinite(t *testing.T) {
	tests := []struct {
		name  string
		event map[string]any
	}{
		{"nan sample", map[string]any{
			"device_id": "d", "ax": []float64{1.0, math.NaN()},
		}},
		{"inf sample", map[string]any{
			"device_id": "d", "ax": []float64{math.Inf(1)},
		}},
		{"non-numeric sample", map[string]any{
			"device_id": "d", "ax": []any{1.0, "oops"},
		}},
		{"nan feature", map[string]any{
			"device_id": "d", "feature_1": math.NaN(),
		}},
		{"string feature", map[string]any{
			"device_id": "d", "feature_1": "high",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.event, 6400)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrNonFinite))
		})
	}
}

func TestNormalizeInvalidRate(t *testing.T) {
	tests := []struct {
		name  string
		event map[string]any
	}{
		{"zero fs", map[string]any{"device_id": "d", "fs": 0.0, "ax": []any{1.0}}},
		{"negative fs", map[string]any{"device_id": "d", "fs": -100.0, "ax": []any{1.0}}},
		{"non-numeric fs", map[string]any{"device_id": "d", "fs": "fast", "ax": []any{1.0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.event, 6400)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidRate))
		})
	}
}

func TestNormalizeScalarAxisValue(t *testing.T) {
	// Some firmware sends one reading per axis as a bare number
	event := map[string]any{
		"device_id": "d",
		"ax":        0.75,
	}

	in, err := Normalize(event, 6400)
	require.NoError(t, err)
	require.Len(t, in.Axes, 1)
	assert.Equal(t, []float64{0.75}, in.Axes[0].Samples)
}

func TestNormalizeTimestampCarried(t *testing.T) {
	event := map[string]any{
		"device_id": "d",
		"timestamp": 1673785845.0, // seconds
		"feature_1": 1.0,
	}

	in, err := Normalize(event, 6400)
	require.NoError(t, err)
	assert.Equal(t, int64(1673785845000), in.Timestamp)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "precomputed", ModePrecomputed.String())
	assert.Equal(t, "waveform", ModeWaveform.String())
	assert.Equal(t, "unknown", ModeUnknown.String())
}
