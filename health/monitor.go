package health

import (
	"sync"

	"github.com/siffror/iiot-machine-health/component"
)

// Monitor tracks the health of registered components. Registered
// components are polled on demand, so statuses are always current when
// the endpoint is hit.
type Monitor struct {
	mu         sync.RWMutex
	components map[string]component.Discoverable
	overrides  map[string]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		components: make(map[string]component.Discoverable),
		overrides:  make(map[string]Status),
	}
}

// Register adds a component to be polled. Re-registering a name
// replaces the previous component.
func (m *Monitor) Register(name string, c component.Discoverable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = c
}

// Unregister removes a component and any manual status.
func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.components, name)
	delete(m.overrides, name)
}

// SetStatus records a manual status for subsystems that are not
// components, such as the NATS connection.
func (m *Monitor) SetStatus(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status.Component = name
	m.overrides[name] = status
}

// Statuses polls all registered components and returns their statuses
// together with any manual ones.
func (m *Monitor) Statuses() []Status {
	m.mu.RLock()
	components := make(map[string]component.Discoverable, len(m.components))
	for name, c := range m.components {
		components[name] = c
	}
	statuses := make([]Status, 0, len(m.components)+len(m.overrides))
	for _, s := range m.overrides {
		statuses = append(statuses, s)
	}
	m.mu.RUnlock()

	// Poll outside the lock: Health() implementations take their own
	// locks.
	for name, c := range components {
		statuses = append(statuses, FromComponentHealth(name, c.Health()))
	}
	return statuses
}

// Overall returns the aggregated service status.
func (m *Monitor) Overall(serviceName string) Status {
	return Aggregate(serviceName, m.Statuses())
}

// Count returns the number of registered components.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.components)
}
