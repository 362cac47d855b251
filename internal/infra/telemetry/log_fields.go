package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldTool       = "tool"
	FieldVersion    = "version"
	FieldBreaker    = "breaker"
	FieldState      = "state"
	FieldDurationMs = "duration_ms"
	FieldAttempt    = "attempt"
)

const (
	EventDispatchError     = "dispatch_error"
	EventDispatchSuccess   = "dispatch_success"
	EventBreakerTransition = "breaker_transition"
	EventHealthProbe       = "health_probe"
	EventRegisterTool      = "register_tool"
	EventShutdownFailure   = "shutdown_failure"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func ToolField(tool string) zap.Field {
	return zap.String(FieldTool, tool)
}

func VersionField(version string) zap.Field {
	return zap.String(FieldVersion, version)
}

func BreakerField(name string) zap.Field {
	return zap.String(FieldBreaker, name)
}

func StateField(state string) zap.Field {
	return zap.String(FieldState, state)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}
