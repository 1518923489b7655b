package features

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siffror/iiot-machine-health/component"
	"github.com/siffror/iiot-machine-health/natsclient"
	"github.com/siffror/iiot-machine-health/signal"
)

func newTestProcessor(t *testing.T, rawConfig json.RawMessage) *Processor {
	t.Helper()

	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	disc, err := NewProcessor(rawConfig, component.Dependencies{NATSClient: client})
	require.NoError(t, err)

	proc, ok := disc.(*Processor)
	require.True(t, ok)
	return proc
}

func TestNewProcessorDefaults(t *testing.T) {
	p := newTestProcessor(t, nil)

	assert.Equal(t, "SIGNALS", p.cfg.StreamName)
	assert.Equal(t, "signals.raw", p.cfg.InputSubject)
	assert.Equal(t, "features.extracted", p.cfg.OutputSubject)
	assert.Equal(t, "feature-extractor", p.cfg.Durable)
	assert.Equal(t, 6400.0, p.cfg.SampleRate)
	assert.Equal(t, "signal_features", p.cfg.Measurement)
}

func TestNewProcessorCustomConfig(t *testing.T) {
	raw := json.RawMessage(`{
		"stream_name": "VIB",
		"input_subject": "vib.raw",
		"output_subject": "vib.features",
		"sample_rate": 1000,
		"band_low": 10,
		"band_high": 500,
		"measurement": "vib_features"
	}`)
	p := newTestProcessor(t, raw)

	assert.Equal(t, "VIB", p.cfg.StreamName)
	assert.Equal(t, 1000.0, p.cfg.SampleRate)
	// Durable falls back to the component name when unset
	assert.Equal(t, "feature-extractor", p.cfg.Durable)
}

func TestNewProcessorRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{`},
		{"empty stream", `{"stream_name": ""}`},
		{"empty input subject", `{"input_subject": ""}`},
		{"zero sample rate", `{"sample_rate": -1}`},
		{"inverted band", `{"band_low": 500, "band_high": 100}`},
		{"empty measurement", `{"measurement": ""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(json.RawMessage(tt.raw), component.Dependencies{})
			assert.Error(t, err)
		})
	}
}

func TestInitializeRequiresNATSClient(t *testing.T) {
	disc, err := NewProcessor(nil, component.Dependencies{})
	require.NoError(t, err)

	proc := disc.(*Processor)
	assert.Error(t, proc.Initialize())
}

func TestHandleMessageRejectionsAcknowledge(t *testing.T) {
	p := newTestProcessor(t, nil)

	tests := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{not json`},
		{"missing device", `{"feature_1": 1.0}`},
		{"ambiguous shape", `{"device_id": "d", "feature_1": 1.0, "ax": [1.0]}`},
		{"no recognizable shape", `{"device_id": "d", "temperature": 20}`},
		{"non-finite sample", `{"device_id": "d", "ax": [1.0, "bad"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// nil means ack: rejected events must not redeliver
			assert.NoError(t, p.handleMessage(context.Background(), []byte(tt.payload)))
		})
	}

	assert.Equal(t, int64(len(tests)), p.rejections)
	assert.InDelta(t, 1.0, p.DataFlow().ErrorRate, 1e-12)
}

func TestHandleMessagePublishFailureRequestsRedelivery(t *testing.T) {
	p := newTestProcessor(t, nil)

	// Valid event, but the client is not connected so publishing the
	// record fails. That must surface as an error (nak).
	err := p.handleMessage(context.Background(), []byte(`{"device_id": "d", "feature_1": 1.0}`))
	assert.Error(t, err)
	assert.Equal(t, int64(0), p.rejections)
	assert.Equal(t, int64(1), p.errors)
}

func TestHandleMessageDuringShutdown(t *testing.T) {
	p := newTestProcessor(t, nil)
	close(p.shutdown)

	err := p.handleMessage(context.Background(), []byte(`{"device_id": "d", "feature_1": 1.0}`))
	assert.Error(t, err)
}

func TestProcessorMeta(t *testing.T) {
	p := newTestProcessor(t, nil)

	meta := p.Meta()
	assert.Equal(t, "feature-extractor", meta.Name)
	assert.Equal(t, "processor", meta.Type)
}

func TestProcessorHealthLifecycle(t *testing.T) {
	p := newTestProcessor(t, nil)

	assert.False(t, p.IsStarted())
	assert.False(t, p.Health().Healthy)

	// Stop before start is a no-op
	assert.NoError(t, p.Stop(time.Second))
}

func TestStartAfterStopRejected(t *testing.T) {
	p := newTestProcessor(t, nil)

	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	require.NoError(t, p.Stop(time.Second))
	assert.False(t, p.IsStarted())

	// The shutdown channel is closed for good; a second Start must
	// refuse instead of consuming events that would all nak.
	err := p.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restarted")
}

func TestProcessorPipelineOutput(t *testing.T) {
	p := newTestProcessor(t, nil)

	res := p.pipeline.ProcessRaw([]byte(
		`{"device_id": "pump-01", "fs": 100, "ax": [1,1,1,1,1,1,1,1,1,1]}`))
	require.NoError(t, res.Err)

	rec := res.Record
	assert.Equal(t, "signal_features", rec.Measurement)
	assert.InDelta(t, 1.0, rec.Fields["rms_ax"], 1e-12)
	assert.Contains(t, rec.Fields, "peak_freq_ax")
	assert.Contains(t, rec.Fields, "bandE0_200_ax")

	// Round-trips through the wire format used between components
	data, err := rec.Encode()
	require.NoError(t, err)
	decoded, err := signal.DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, *rec, decoded)
}
