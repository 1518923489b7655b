package component

import (
	"context"
	"time"
)

// State is a component's position in its lifecycle.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateStarted
	StateStopped
	StateFailed
)

func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent is a Discoverable the service shell can drive
// through its lifecycle. Initialize allocates resources without a
// context; Start receives the context it runs under; Stop gets a
// timeout bounding graceful shutdown.
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// ManagedComponent pairs a component with the shell's bookkeeping.
// Each component gets its own child context so it can be cancelled
// individually; components receive the context through Start and
// never store it.
type ManagedComponent struct {
	Component Discoverable
	State     State

	Context context.Context
	Cancel  context.CancelFunc

	// StartOrder preserves start order so shutdown can reverse it.
	StartOrder int

	LastError error
}

// IsLifecycleComponent reports whether the component can be driven
// through a lifecycle.
func IsLifecycleComponent(comp Discoverable) bool {
	_, ok := comp.(LifecycleComponent)
	return ok
}

// AsLifecycleComponent casts to LifecycleComponent when supported.
func AsLifecycleComponent(comp Discoverable) (LifecycleComponent, bool) {
	lc, ok := comp.(LifecycleComponent)
	return lc, ok
}
