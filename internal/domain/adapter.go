package domain

import (
	"context"
	"encoding/json"
)

// Adapter is the contract every backend integration satisfies. Concrete
// adapters vary wildly in how they reach their backend; the registry only
// ever sees these four operations.
type Adapter interface {
	// Initialize acquires the adapter's resources. It is idempotent.
	Initialize(ctx context.Context) error

	// Shutdown releases resources. Failures are logged by the caller and
	// never abort a bulk shutdown.
	Shutdown(ctx context.Context) error

	// Execute performs one call. Failures come back as one of the
	// classified dispatch errors, never as a silently partial result.
	Execute(ctx context.Context, toolName string, params map[string]any, callCtx map[string]any) (map[string]any, error)

	// HealthCheck is a cheap probe bounded by its own timeout. It reports
	// trouble through the returned status rather than an error.
	HealthCheck(ctx context.Context) HealthStatus
}

// Conn is the opaque request/response channel an adapter uses to reach a
// backend process. Implementations own framing and process lifetime.
type Conn interface {
	Send(ctx context.Context, msg json.RawMessage) error
	Recv(ctx context.Context) (json.RawMessage, error)
	Close() error
}

// StopFn tears down whatever a transport started alongside a Conn.
type StopFn func(ctx context.Context) error
