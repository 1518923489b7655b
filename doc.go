// Package machinehealth provides a component-based pipeline for machine
// condition monitoring: raw accelerometer events stream in over NATS
// JetStream, a signal processor reduces them to compact health features
// (RMS, dominant frequency, band energy), and the resulting feature
// records are written to InfluxDB for trending and downstream anomaly
// scoring.
//
// # Architecture
//
// Components communicate exclusively over NATS subjects and share a
// common lifecycle (Initialize, Start, Stop):
//
//	┌───────────┐         ┌────────────────────┐         ┌──────────────┐
//	│ UDP Input │────────▶│ Feature Processor  │────────▶│ Influx Output│
//	│ (devices) │  raw.*  │ (normalize → DSP → │ features│ (time-series │
//	└───────────┘         │  assemble)         │    .*   │  sink)       │
//	                      └────────────────────┘         └──────────────┘
//
// Raw events may also be published straight into the JetStream stream by
// external producers (gateways, replayers); the processor consumes the
// stream with a durable consumer and acknowledges each event exactly
// once, whether it produced a record or was rejected as malformed.
//
// # Packages
//
// Core engine:
//   - signal: schema normalization, spectral feature extraction, and
//     the per-event pipeline controller (pure, transport-free)
//
// Components:
//   - input/udp: UDP socket ingest of device JSON
//   - processor/features: stream consumer driving the signal pipeline
//   - output/influx: feature records to InfluxDB points
//
// Infrastructure:
//   - natsclient: NATS/JetStream connection management
//   - config: immutable startup configuration
//   - metric: Prometheus metrics registry
//   - health: component health aggregation
//   - errors: classified error handling
//   - pkg/retry, pkg/buffer, pkg/timestamp: shared utilities
package machinehealth
