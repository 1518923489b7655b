// Package config loads and validates the service configuration.
//
// Configuration is layered: built-in defaults, then one or more JSON
// files merged in order, then environment variable overrides with the
// MACHINEHEALTH_ prefix (connection URLs and credentials only). A
// loaded Config is immutable during a run; SafeConfig guards the rare
// cases where a reload swaps it atomically.
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/machinehealth/config.json")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// Validation is strict: a non-positive sample rate, an inverted
// frequency band, or a missing measurement name fails startup rather
// than being silently corrected. Per-event values are validated
// separately at processing time.
//
// Duration fields accept Go duration strings in JSON ("2s", "500ms")
// as well as raw nanosecond numbers.
package config
