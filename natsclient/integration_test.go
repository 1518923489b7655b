package natsclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIntegration_ConnectToRealNATS tests connection to a real NATS server
func TestIntegration_ConnectToRealNATS(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tc := NewTestClient(t)

	assert.True(t, tc.Client.IsHealthy())
	assert.Equal(t, StatusConnected, tc.Client.Status())

	rtt, err := tc.Client.RTT()
	assert.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

// TestIntegration_PublishSubscribe tests core NATS messaging
func TestIntegration_PublishSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tc := NewTestClient(t)
	ctx := context.Background()

	received := make(chan []byte, 1)
	err := tc.Client.Subscribe(ctx, "features.extracted", func(_ context.Context, data []byte) {
		received <- data
	})
	require.NoError(t, err)

	err = tc.Client.Publish(ctx, "features.extracted", []byte(`{"device_id":"pump-01"}`))
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.JSONEq(t, `{"device_id":"pump-01"}`, string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

// TestIntegration_StreamAckSemantics verifies durable consumption with
// handler-driven acknowledgement: nil consumes, error redelivers.
func TestIntegration_StreamAckSemantics(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tc := NewTestClient(t, WithJetStream())
	ctx := context.Background()

	_, err := tc.Client.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "SIGNALS",
		Subjects: []string{"signals.raw"},
	})
	require.NoError(t, err)

	var attempts atomic.Int32
	done := make(chan struct{})

	err = tc.Client.ConsumeStream(ctx, "SIGNALS", "signals.raw", "test-consumer",
		func(_ context.Context, _ []byte) error {
			n := attempts.Add(1)
			if n == 1 {
				// First delivery fails, server must redeliver
				return errors.New("sink unavailable")
			}
			close(done)
			return nil
		})
	require.NoError(t, err)

	err = tc.Client.PublishToStream(ctx, "signals.raw", []byte(`{"device_id":"fan-02"}`))
	require.NoError(t, err)

	select {
	case <-done:
		assert.GreaterOrEqual(t, attempts.Load(), int32(2))
	case <-time.After(15 * time.Second):
		t.Fatal("message was not redelivered after nak")
	}
}

// TestIntegration_CircuitBreakerWithRealConnection tests circuit breaker with actual failures
func TestIntegration_CircuitBreakerWithRealConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	client, err := NewClient("nats://invalid-host:4222",
		WithTimeout(500*time.Millisecond),
		WithMaxReconnects(0),
	)
	require.NoError(t, err)

	// Four failures keep the circuit closed
	for i := 0; i < 4; i++ {
		err = client.Connect(ctx)
		assert.Error(t, err)
		assert.NotEqual(t, StatusCircuitOpen, client.Status())
	}

	// Fifth failure opens the circuit
	err = client.Connect(ctx)
	assert.Error(t, err)
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())

	// Further attempts fail fast
	start := time.Now()
	err = client.Connect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
