package domain

import "time"

// DispatchStatus labels the outcome of a routed request.
type DispatchStatus string

const (
	// DispatchStatusSuccess indicates a successful dispatch.
	DispatchStatusSuccess DispatchStatus = "success"
	// DispatchStatusError indicates a failed dispatch.
	DispatchStatusError DispatchStatus = "error"
)

// DispatchReason describes why a routed request ended with its status.
type DispatchReason string

const (
	// DispatchReasonSuccess indicates the request succeeded.
	DispatchReasonSuccess DispatchReason = "success"
	// DispatchReasonNotFound indicates the tool or version is unknown.
	DispatchReasonNotFound DispatchReason = "not_found"
	// DispatchReasonBreakerOpen indicates the breaker rejected the call.
	DispatchReasonBreakerOpen DispatchReason = "breaker_open"
	// DispatchReasonToolFailure indicates the backend reported failure.
	DispatchReasonToolFailure DispatchReason = "tool_failure"
	// DispatchReasonTransport indicates the channel failed after retries.
	DispatchReasonTransport DispatchReason = "transport"
	// DispatchReasonAdapterFailure indicates a non-retryable adapter fault.
	DispatchReasonAdapterFailure DispatchReason = "adapter_failure"
	// DispatchReasonCanceled indicates the caller gave up first.
	DispatchReasonCanceled DispatchReason = "canceled"
)

// DispatchMetric captures one routed request.
type DispatchMetric struct {
	ToolName string
	Version  string
	Status   DispatchStatus
	Reason   DispatchReason
	Duration time.Duration
}

// Metrics records operational metrics for dispatch and breakers. All
// implementations are write-only sinks; recording never fails.
type Metrics interface {
	ObserveDispatch(metric DispatchMetric)
	ObserveRetry(toolName string)
	ObserveBreakerTransition(name string, from, to BreakerState)
	SetBreakerState(name string, state BreakerState)
	SetRegisteredTools(count int)
}
