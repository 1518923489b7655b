// Package natsclient manages the NATS connection shared by all pipeline
// components.
//
// The Client wraps a single NATS connection with:
//
//   - Circuit breaker: consecutive connection failures open the circuit
//     and back off exponentially (capped at WithMaxBackoff) before the
//     next attempt, so a down broker is not hammered.
//   - JetStream helpers: CreateStream, PublishToStream and ConsumeStream
//     cover the durable raw-event path between ingest and processing.
//   - Core NATS helpers: Subscribe and Publish cover the fire-and-forget
//     feature-record path between processing and the storage writer.
//   - Health monitoring: periodic RTT probes update connection status and
//     drive the optional OnHealthChange callback.
//
// Delivery semantics on the durable path are decided by the consume
// handler's return value: nil acknowledges the message, an error
// negatively acknowledges it and the server redelivers. Components map
// their own error taxonomy onto that contract (invalid payloads are
// consumed, sink failures are redelivered).
//
// Basic usage:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("machine-health"),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// TestClient in test_client.go provides testcontainers-backed NATS
// servers for integration tests.
package natsclient
