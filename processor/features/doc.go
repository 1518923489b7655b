// Package features hosts the feature-extraction processor: it consumes
// raw accelerometer events from a JetStream stream, runs them through
// the signal pipeline, and publishes feature records for storage.
//
// Acknowledgement policy: events rejected by validation (malformed
// JSON, ambiguous shape, missing device) are consumed and counted, not
// redelivered. Only downstream failures such as an unreachable output
// subject negatively acknowledge, so the server retries them.
package features
