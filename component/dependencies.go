package component

import (
	"log/slog"

	"github.com/siffror/iiot-machine-health/metric"
	"github.com/siffror/iiot-machine-health/natsclient"
)

// Dependencies carries everything a component factory needs from the
// service shell. Passing one struct keeps factory signatures uniform
// across inputs, processors and outputs.
type Dependencies struct {
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry // nil disables metrics
	Logger          *slog.Logger            // nil falls back to slog.Default()
}

// GetLogger returns the configured logger, or the process default.
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns the logger tagged with the component
// name.
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
