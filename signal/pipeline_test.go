package signal

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siffror/iiot-machine-health/errors"
)

func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline(Config{
		DefaultSampleRate: 6400,
		Band:              Band{Low: 0, High: 200},
		Measurement:       "signal_features",
	})
	require.NoError(t, err)
	return p
}

func TestNewPipelineRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero sample rate", Config{Band: Band{0, 200}, Measurement: "m"}},
		{"negative sample rate", Config{DefaultSampleRate: -1, Band: Band{0, 200}, Measurement: "m"}},
		{"inverted band", Config{DefaultSampleRate: 6400, Band: Band{200, 100}, Measurement: "m"}},
		{"missing measurement", Config{DefaultSampleRate: 6400, Band: Band{0, 200}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPipeline(tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestProcessPrecomputedPassthrough(t *testing.T) {
	p := testPipeline(t)

	res := p.Process(map[string]any{
		"device_id": "pump-01",
		"timestamp": 1673785845.0,
		"feature_1": 0.42,
		"feature_2": 1.5,
	})
	require.NoError(t, res.Err)
	require.NotNil(t, res.Record)

	assert.Equal(t, ModePrecomputed, res.Mode)
	assert.Equal(t, "signal_features", res.Record.Measurement)
	assert.Equal(t, "pump-01", res.Record.DeviceID)
	assert.Equal(t, int64(1673785845000), res.Record.Timestamp)
	assert.Equal(t, map[string]float64{
		"feature_1": 0.42,
		"feature_2": 1.5,
	}, res.Record.Fields)
}

func TestProcessWaveformTenOnes(t *testing.T) {
	p := testPipeline(t)

	ones := make([]any, 10)
	for i := range ones {
		ones[i] = 1.0
	}
	res := p.Process(map[string]any{
		"device_id": "d",
		"fs":        100.0,
		"ax":        ones,
	})
	require.NoError(t, res.Err)
	require.NotNil(t, res.Record)

	assert.Equal(t, ModeWaveform, res.Mode)
	assert.InDelta(t, 1.0, res.Record.Fields["rms_ax"], 1e-12)
	// A constant signal has all its energy at DC, which the band never
	// counts.
	assert.InDelta(t, 0.0, res.Record.Fields["bandE0_200_ax"], 1e-9)
	assert.Contains(t, res.Record.Fields, "peak_freq_ax")
}

func TestProcessWaveformMultiAxis(t *testing.T) {
	p := testPipeline(t)

	tone := make([]any, 256)
	for i := range tone {
		tone[i] = math.Sin(2 * math.Pi * 50 * float64(i) / 256)
	}
	res := p.Process(map[string]any{
		"device_id": "d",
		"fs":        256.0,
		"axes": map[string]any{
			"x": tone,
			"y": []any{0.5, 0.5},
		},
	})
	require.NoError(t, res.Err)

	fields := res.Record.Fields
	assert.Len(t, fields, 6)
	assert.InDelta(t, 50.0, fields["peak_freq_ax"], 1e-9)
	assert.InDelta(t, 0.5, fields["rms_ay"], 1e-12)
	assert.Contains(t, fields, "bandE0_200_ax")
	assert.Contains(t, fields, "bandE0_200_ay")
}

func TestProcessRejectionsCarryStageAndDevice(t *testing.T) {
	p := testPipeline(t)

	res := p.Process(map[string]any{
		"device_id": "d",
		"feature_1": 1.0,
		"ax":        []any{1.0},
	})
	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, errors.ErrAmbiguousShape))
	assert.Equal(t, StageValidate, res.Stage)
	assert.Equal(t, "d", res.DeviceID)
	assert.Nil(t, res.Record)
}

func TestProcessMissingDevice(t *testing.T) {
	p := testPipeline(t)

	res := p.Process(map[string]any{"feature_1": 1.0})
	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, errors.ErrMissingDeviceID))
	assert.Empty(t, res.DeviceID)
}

func TestProcessAssignsTimestampWhenAbsent(t *testing.T) {
	p := testPipeline(t)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	res := p.Process(map[string]any{
		"device_id": "d",
		"feature_1": 1.0,
	})
	require.NoError(t, res.Err)
	assert.Equal(t, fixed.UnixMilli(), res.Record.Timestamp)
}

func TestProcessIdempotent(t *testing.T) {
	p := testPipeline(t)
	p.now = func() time.Time { return time.Unix(1700000000, 0) }

	event := map[string]any{
		"device_id": "d",
		"fs":        256.0,
		"ax":        []any{1.0, 2.0, 3.0, 4.0},
	}

	first := p.Process(event)
	second := p.Process(event)
	require.NoError(t, first.Err)
	require.NoError(t, second.Err)
	assert.Equal(t, first.Record, second.Record)
}

func TestProcessRawMalformedJSON(t *testing.T) {
	p := testPipeline(t)

	res := p.ProcessRaw([]byte("{not json"))
	require.Error(t, res.Err)
	assert.Equal(t, StageValidate, res.Stage)
	assert.True(t, errors.IsInvalid(res.Err))
}

func TestProcessRawRoundTrip(t *testing.T) {
	p := testPipeline(t)

	payload, err := json.Marshal(map[string]any{
		"device_id": "pump-01",
		"feature_3": 2.25,
	})
	require.NoError(t, err)

	res := p.ProcessRaw(payload)
	require.NoError(t, res.Err)
	assert.Equal(t, 2.25, res.Record.Fields["feature_3"])
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "validate", StageValidate.String())
	assert.Equal(t, "extract", StageExtract.String())
	assert.Equal(t, "assemble", StageAssemble.String())
}

func TestRecordRoundTrip(t *testing.T) {
	r := Record{
		Measurement: "signal_features",
		DeviceID:    "pump-01",
		Timestamp:   1700000000000,
		Fields:      map[string]float64{"rms_ax": 1.5},
	}

	data, err := r.Encode()
	require.NoError(t, err)

	got, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestDecodeRecordRejections(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", "{"},
		{"no measurement", `{"device_id":"d","fields":{"a":1}}`},
		{"no device", `{"measurement":"m","fields":{"a":1}}`},
		{"no fields", `{"measurement":"m","device_id":"d"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRecord([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}
