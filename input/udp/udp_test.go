package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siffror/iiot-machine-health/component"
	"github.com/siffror/iiot-machine-health/natsclient"
)

func newTestInput(t *testing.T, raw json.RawMessage) *Input {
	t.Helper()

	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	disc, err := NewInput(raw, component.Dependencies{NATSClient: client})
	require.NoError(t, err)

	input, ok := disc.(*Input)
	require.True(t, ok)
	return input
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0", cfg.Bind)
	assert.Equal(t, 5005, cfg.Port)
	assert.Equal(t, "signals.raw", cfg.Subject)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative port", func(c *Config) { c.Port = -1 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"empty subject", func(c *Config) { c.Subject = "" }},
		{"zero buffer", func(c *Config) { c.BufferSize = 0 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewInputConfigParsing(t *testing.T) {
	input := newTestInput(t, json.RawMessage(`{
		"bind": "127.0.0.1",
		"port": 0,
		"subject": "vib.raw",
		"buffer_size": 100,
		"batch_size": 10
	}`))

	assert.Equal(t, "127.0.0.1", input.cfg.Bind)
	assert.Equal(t, "vib.raw", input.cfg.Subject)
	assert.Equal(t, 100, input.buffer.Cap())
}

func TestNewInputRejectsMalformedConfig(t *testing.T) {
	_, err := NewInput(json.RawMessage(`{`), component.Dependencies{})
	assert.Error(t, err)

	_, err = NewInput(json.RawMessage(`{"subject": ""}`), component.Dependencies{})
	assert.Error(t, err)
}

func TestInitializeRequiresNATSClient(t *testing.T) {
	disc, err := NewInput(nil, component.Dependencies{})
	require.NoError(t, err)

	input := disc.(*Input)
	assert.Error(t, input.Initialize())
}

func TestMeta(t *testing.T) {
	input := newTestInput(t, nil)

	meta := input.Meta()
	assert.Equal(t, "udp-input", meta.Name)
	assert.Equal(t, "input", meta.Type)
	assert.Contains(t, meta.Description, "signals.raw")
}

func TestStartStopLifecycle(t *testing.T) {
	input := newTestInput(t, json.RawMessage(`{"bind": "127.0.0.1", "port": 0}`))
	require.NoError(t, input.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, input.Start(ctx))
	assert.True(t, input.running.Load())
	assert.True(t, input.Health().Healthy)
	assert.NotZero(t, input.Port())

	// Start is idempotent
	assert.NoError(t, input.Start(ctx))

	require.NoError(t, input.Stop(2*time.Second))
	assert.False(t, input.running.Load())
	assert.False(t, input.Health().Healthy)

	// Stop after stop is a no-op
	assert.NoError(t, input.Stop(time.Second))
}

func TestStartReturnsPromptly(t *testing.T) {
	input := newTestInput(t, json.RawMessage(`{"bind": "127.0.0.1", "port": 0}`))
	require.NoError(t, input.Initialize())

	// Start logs the bound port while holding its own lock; it must
	// still return instead of waiting on itself.
	done := make(chan error, 1)
	go func() { done <- input.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}

	assert.NotZero(t, input.Port())
	require.NoError(t, input.Stop(2*time.Second))
}

func TestReceivesDatagrams(t *testing.T) {
	input := newTestInput(t, json.RawMessage(`{"bind": "127.0.0.1", "port": 0}`))
	require.NoError(t, input.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, input.Start(ctx))
	defer func() { _ = input.Stop(2 * time.Second) }()

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", input.Port()))
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte(`{"device_id": "pump-01", "feature_1": 1.0}`)
	for i := 0; i < 3; i++ {
		_, err = conn.Write(payload)
		require.NoError(t, err)
	}

	// The packets count even though publishing fails: the NATS client
	// is never connected in this test.
	require.Eventually(t, func() bool {
		return input.packetsReceived.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(3*len(payload)), input.bytesReceived.Load())

	flow := input.DataFlow()
	assert.Greater(t, flow.MessagesPerSecond, 0.0)
	assert.False(t, flow.LastActivity.IsZero())
}

func TestStopUnblocksReadLoop(t *testing.T) {
	input := newTestInput(t, json.RawMessage(`{"bind": "127.0.0.1", "port": 0}`))
	require.NoError(t, input.Initialize())

	require.NoError(t, input.Start(context.Background()))

	start := time.Now()
	require.NoError(t, input.Stop(5*time.Second))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDataFlowEmpty(t *testing.T) {
	input := newTestInput(t, nil)

	flow := input.DataFlow()
	assert.Zero(t, flow.ErrorRate)
	assert.True(t, flow.LastActivity.IsZero())
}
