// Package signal turns raw accelerometer events into compact feature
// records suitable for time-series storage.
//
// Events arrive in one of two shapes. Precomputed events carry scalar
// feature_N values that pass through untouched. Waveform events carry
// per-axis sample arrays (flat ax/ay/az keys, or nested under a parent
// object such as "axes") from which three features are extracted per
// axis: RMS amplitude, dominant frequency, and energy within a
// configured frequency band. Exactly one shape must be present;
// anything else is rejected.
//
// The entry point is Pipeline:
//
//	p, err := signal.NewPipeline(signal.Config{
//	    DefaultSampleRate: 6400,
//	    Band:              signal.Band{Low: 0, High: 200},
//	    Measurement:       "signal_features",
//	})
//	result := p.ProcessRaw(payload)
//	if result.Err != nil {
//	    // rejected: result.Stage says where, errors.Is says why
//	}
//	record := result.Record
//
// Processing is deterministic: the same event with the same
// configuration always yields the same record (the clock only fills in
// missing timestamps). Rejections are values, not panics, so one bad
// event never disturbs its neighbors.
package signal
