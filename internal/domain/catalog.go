package domain

import "time"

// ToolSpec describes one tool backend to register at service start.
type ToolSpec struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description,omitempty"`
	Cmd         []string          `json:"cmd"`
	Env         map[string]string `json:"env,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	MakeLatest  bool              `json:"makeLatest"`

	Retries            int `json:"retries"`
	BackoffBaseMillis  int `json:"backoffBaseMillis"`
	CallTimeoutSeconds int `json:"callTimeoutSeconds"`

	CircuitBreakerEnabled  bool `json:"circuitBreakerEnabled"`
	CircuitBreakerThresh   int  `json:"circuitBreakerThreshold"`
	RecoveryTimeoutSeconds int  `json:"recoveryTimeoutSeconds"`
	HealthCheckSeconds     int  `json:"healthCheckSeconds"`
}

// BackoffBase returns the retry backoff base, applying the default.
func (s ToolSpec) BackoffBase() time.Duration {
	millis := s.BackoffBaseMillis
	if millis <= 0 {
		millis = DefaultBackoffBaseMillis
	}
	return time.Duration(millis) * time.Millisecond
}

// CallTimeout returns the per-call timeout or zero if disabled.
func (s ToolSpec) CallTimeout() time.Duration {
	if s.CallTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(s.CallTimeoutSeconds) * time.Second
}

// RuntimeConfig carries service-wide settings that are not per-tool.
type RuntimeConfig struct {
	RouteTimeoutSeconds int                 `json:"routeTimeoutSeconds"`
	Observability       ObservabilityConfig `json:"observability"`
}

type ObservabilityConfig struct {
	ListenAddress string `json:"listenAddress"`
	EnableMetrics bool   `json:"enableMetrics"`
	EnableHealthz bool   `json:"enableHealthz"`
}

// RouteTimeout returns the dispatch timeout duration, defaulting when unset.
func (c RuntimeConfig) RouteTimeout() time.Duration {
	seconds := c.RouteTimeoutSeconds
	if seconds <= 0 {
		seconds = DefaultRouteTimeoutSeconds
	}
	return time.Duration(seconds) * time.Second
}

// Catalog is the pre-validated settings object handed to the app.
type Catalog struct {
	Tools   []ToolSpec
	Runtime RuntimeConfig
}
