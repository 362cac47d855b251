package domain

import (
	"errors"
	"time"
)

// ToolMetadata is the registry-owned record describing one registered
// (tool, version) binding. It is created at registration time and never
// handed out mutably.
type ToolMetadata struct {
	ToolName    string
	Version     string
	AdapterType string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	IsActive    bool
	Tags        map[string]struct{}

	CircuitBreakerEnabled   bool
	CircuitBreakerThreshold int
	RecoveryTimeoutSeconds  int
	HealthCheckSeconds      int

	Metadata map[string]any
}

// RecoveryTimeout returns the breaker cool-down as a duration, applying
// the default when unset.
func (m ToolMetadata) RecoveryTimeout() time.Duration {
	seconds := m.RecoveryTimeoutSeconds
	if seconds <= 0 {
		seconds = DefaultRecoveryTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

// HealthCheckInterval returns the health probe interval or zero if disabled.
func (m ToolMetadata) HealthCheckInterval() time.Duration {
	if m.HealthCheckSeconds <= 0 {
		return 0
	}
	return time.Duration(m.HealthCheckSeconds) * time.Second
}

// HasTag reports whether the metadata carries the given tag.
func (m ToolMetadata) HasTag(tag string) bool {
	_, ok := m.Tags[tag]
	return ok
}

type HealthState string

const (
	HealthStateHealthy   HealthState = "healthy"
	HealthStateDegraded  HealthState = "degraded"
	HealthStateUnhealthy HealthState = "unhealthy"
)

// HealthStatus is the result of an adapter probe. Probes report trouble
// through the state and message, never through an error.
type HealthStatus struct {
	State     HealthState
	Message   string
	CheckedAt time.Time
	Details   map[string]any
}

// Healthy reports whether the status describes a usable backend.
func (h HealthStatus) Healthy() bool {
	return h.State == HealthStateHealthy
}

// BreakerState is the circuit breaker state machine position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSnapshot is a read-only view of one breaker's bookkeeping.
type BreakerSnapshot struct {
	Name            string
	State           BreakerState
	FailureCount    int
	LastFailureTime time.Time
	HalfOpenCalls   int
	Threshold       int
	RecoveryTimeout time.Duration
}

const (
	DefaultBreakerThreshold       = 5
	DefaultRecoveryTimeoutSeconds = 30
	DefaultHalfOpenMaxCalls       = 1
	DefaultExecuteRetries         = 3
	DefaultBackoffBaseMillis      = 500
	DefaultHealthProbeSeconds     = 2
	DefaultRouteTimeoutSeconds    = 30
	DefaultObservabilityAddress   = "127.0.0.1:9464"
)

var ErrToolNotFound = errors.New("tool not found")
var ErrVersionNotFound = errors.New("tool version not found")
var ErrToolAlreadyRegistered = errors.New("tool version already registered")
var ErrNotInitialized = errors.New("adapter not initialized")
