package types

import "time"

// ProviderState is the circuit state of a provider
type ProviderState string

const (
	ProviderAvailable ProviderState = "available"
	ProviderSuspended ProviderState = "suspended"
)

// ProviderStatus is a point-in-time copy of a provider's health
type ProviderStatus struct {
	Name              string        `json:"name"`
	Family            string        `json:"family"`
	Priority          int           `json:"priority"`
	Models            []string      `json:"models"`
	State             ProviderState `json:"state"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	SuspendedUntil    *time.Time    `json:"suspended_until,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
	LastSuccess       *time.Time    `json:"last_success,omitempty"`
}

// HealthStatus is returned by the service health endpoint
type HealthStatus struct {
	Status    string           `json:"status"` // "healthy", "degraded", "unhealthy"
	Providers []ProviderStatus `json:"providers"`
	CheckedAt time.Time        `json:"checked_at"`
}
