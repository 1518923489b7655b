package health

import (
	"regexp"
	"strings"
	"time"

	"github.com/siffror/iiot-machine-health/component"
)

// Status values reported for a component or the whole service.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the externally visible health state of one component.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries health-related counters alongside a status.
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	ErrorCount   int           `json:"error_count"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool { return s.Status == StatusHealthy }

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool { return s.Status == StatusDegraded }

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool { return s.Status == StatusUnhealthy }

// NewHealthy creates a healthy status.
func NewHealthy(name, message string) Status {
	return Status{
		Component: name,
		Healthy:   true,
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a degraded status.
func NewDegraded(name, message string) Status {
	return Status{
		Component: name,
		Status:    StatusDegraded,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(name, message string) Status {
	return Status{
		Component: name,
		Status:    StatusUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// FromComponentHealth converts a component's self-reported health into
// an externally visible status, sanitizing any error message.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	status := StatusUnhealthy
	message := "component unhealthy"
	if ch.Healthy {
		status = StatusHealthy
		message = "component healthy"
	}
	if ch.LastError != "" {
		message = SanitizeMessage(ch.LastError)
	}

	return Status{
		Component: name,
		Healthy:   ch.Healthy,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Metrics: &Metrics{
			Uptime:       ch.Uptime,
			ErrorCount:   ch.ErrorCount,
			LastActivity: ch.LastCheck,
		},
	}
}

// Aggregate rolls sub-statuses up into one status: any unhealthy
// member makes the aggregate unhealthy, otherwise any degraded member
// makes it degraded.
func Aggregate(name string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(name, "no components registered")
	}

	var hasUnhealthy, hasDegraded bool
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var agg Status
	switch {
	case hasUnhealthy:
		agg = NewUnhealthy(name, "one or more components are unhealthy")
	case hasDegraded:
		agg = NewDegraded(name, "one or more components are degraded")
	default:
		agg = NewHealthy(name, "all components are healthy")
	}

	agg.SubStatuses = make([]Status, len(subs))
	copy(agg.SubStatuses, subs)
	return agg
}

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?)://\S+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// SanitizeMessage strips URLs, paths, addresses and credential-looking
// fragments from an error message before it is exposed externally.
func SanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}

	out := urlRegex.ReplaceAllString(msg, "[URL]")
	out = unixPathRegex.ReplaceAllString(out, "[PATH]")
	out = ipAddrRegex.ReplaceAllString(out, "[IP]")
	out = portRegex.ReplaceAllString(out, "[PORT]")

	if credentialRegex.MatchString(strings.ToLower(out)) {
		out = credentialRegex.ReplaceAllString(out, "[REDACTED]")
	}
	return out
}
