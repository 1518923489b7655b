package influx

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siffror/iiot-machine-health/component"
	"github.com/siffror/iiot-machine-health/errors"
	"github.com/siffror/iiot-machine-health/natsclient"
	"github.com/siffror/iiot-machine-health/signal"
)

type stubWriter struct {
	err    error
	points []*write.Point
}

func (s *stubWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	if s.err != nil {
		return s.err
	}
	s.points = append(s.points, points...)
	return nil
}

func newTestOutput(t *testing.T, raw json.RawMessage) (*Output, *stubWriter) {
	t.Helper()

	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	disc, err := NewOutput(raw, component.Dependencies{NATSClient: client})
	require.NoError(t, err)

	out, ok := disc.(*Output)
	require.True(t, ok)

	writer := &stubWriter{}
	out.writeAPI = writer
	return out, writer
}

func encodeRecord(t *testing.T, rec signal.Record) []byte {
	t.Helper()
	data, err := rec.Encode()
	require.NoError(t, err)
	return data
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "http://localhost:8086", cfg.URL)
	assert.Equal(t, "machine-health", cfg.Org)
	assert.Equal(t, "vibration", cfg.Bucket)
	assert.Equal(t, "features.extracted", cfg.InputSubject)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty url", func(c *Config) { c.URL = "" }},
		{"empty org", func(c *Config) { c.Org = "" }},
		{"empty bucket", func(c *Config) { c.Bucket = "" }},
		{"empty stream", func(c *Config) { c.StreamName = "" }},
		{"empty subject", func(c *Config) { c.InputSubject = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewOutputRejectsBadConfig(t *testing.T) {
	_, err := NewOutput(json.RawMessage(`{`), component.Dependencies{})
	assert.Error(t, err)

	_, err = NewOutput(json.RawMessage(`{"url": ""}`), component.Dependencies{})
	assert.Error(t, err)
}

func TestInitializeRequiresNATSClient(t *testing.T) {
	disc, err := NewOutput(nil, component.Dependencies{})
	require.NoError(t, err)

	out := disc.(*Output)
	assert.Error(t, out.Initialize())
}

func TestHandleMessageWritesPoint(t *testing.T) {
	out, writer := newTestOutput(t, nil)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := encodeRecord(t, signal.Record{
		Measurement: "signal_features",
		DeviceID:    "pump-01",
		Timestamp:   ts.UnixMilli(),
		Fields: map[string]float64{
			"rms_ax":       1.5,
			"peak_freq_ax": 50.0,
		},
	})

	require.NoError(t, out.handleMessage(context.Background(), payload))
	require.Len(t, writer.points, 1)

	point := writer.points[0]
	assert.Equal(t, "signal_features", point.Name())
	assert.True(t, ts.Equal(point.Time()))

	tags := map[string]string{}
	for _, tag := range point.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"device_id": "pump-01"}, tags)

	fields := map[string]any{}
	for _, field := range point.FieldList() {
		fields[field.Key] = field.Value
	}
	assert.Equal(t, 1.5, fields["rms_ax"])
	assert.Equal(t, 50.0, fields["peak_freq_ax"])

	assert.Equal(t, int64(1), out.pointsWritten)
}

func TestHandleMessageUndecodableAcks(t *testing.T) {
	out, writer := newTestOutput(t, nil)

	tests := []string{
		`{not json`,
		`{"device_id":"d","fields":{"a":1}}`,
		`{"measurement":"m","device_id":"d"}`,
	}
	for _, payload := range tests {
		// nil means ack: poison records must not redeliver
		assert.NoError(t, out.handleMessage(context.Background(), []byte(payload)))
	}

	assert.Empty(t, writer.points)
	assert.Equal(t, int64(len(tests)), out.rejections)
}

func TestHandleMessageWriteFailureNaks(t *testing.T) {
	out, writer := newTestOutput(t, nil)
	writer.err = fmt.Errorf("connection refused")

	payload := encodeRecord(t, signal.Record{
		Measurement: "signal_features",
		DeviceID:    "pump-01",
		Timestamp:   time.Now().UnixMilli(),
		Fields:      map[string]float64{"rms_ax": 1.0},
	})

	err := out.handleMessage(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSinkUnavailable))
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, int64(1), out.writeErrors)
}

func TestHandleMessageDuringShutdown(t *testing.T) {
	out, _ := newTestOutput(t, nil)
	close(out.shutdown)

	err := out.handleMessage(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}

func TestOutputMeta(t *testing.T) {
	out, _ := newTestOutput(t, nil)

	meta := out.Meta()
	assert.Equal(t, "influx-writer", meta.Name)
	assert.Equal(t, "output", meta.Type)
	assert.Contains(t, meta.Description, "vibration")
}

func TestOutputLifecycle(t *testing.T) {
	out, _ := newTestOutput(t, nil)

	assert.False(t, out.IsStarted())
	assert.False(t, out.Health().Healthy)

	// Stop before start is a no-op
	assert.NoError(t, out.Stop(time.Second))
}

func TestDataFlowErrorRate(t *testing.T) {
	out, writer := newTestOutput(t, nil)
	writer.err = fmt.Errorf("down")

	payload := encodeRecord(t, signal.Record{
		Measurement: "m",
		DeviceID:    "d",
		Fields:      map[string]float64{"rms_ax": 1.0},
	})
	_ = out.handleMessage(context.Background(), payload)

	assert.InDelta(t, 1.0, out.DataFlow().ErrorRate, 1e-12)
	assert.False(t, out.DataFlow().LastActivity.IsZero())
}
