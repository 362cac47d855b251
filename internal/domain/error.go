package domain

import (
	"errors"
	"fmt"
	"time"
)

// AdapterError covers lookup failures, configuration problems and
// non-retryable execution failures reported by a backend channel.
type AdapterError struct {
	ToolName string
	Version  string
	Op       string
	Status   int
	Message  string
	Cause    error
}

func (e *AdapterError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.ToolName == "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Version == "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.ToolName, msg)
	}
	return fmt.Sprintf("%s: %s@%s: %s", e.Op, e.ToolName, e.Version, msg)
}

func (e *AdapterError) Unwrap() error {
	return e.Cause
}

// BreakerError is a flow-control rejection. It never wraps the fault that
// opened the breaker; callers distinguish "temporarily unavailable" from
// the underlying cause by type alone.
type BreakerError struct {
	Name         string
	State        BreakerState
	FailureCount int
	RetryAfter   time.Duration
	AtCapacity   bool
}

func (e *BreakerError) Error() string {
	if e.AtCapacity {
		return fmt.Sprintf("circuit breaker %s is %s: at trial-call capacity (failures=%d)", e.Name, e.State, e.FailureCount)
	}
	return fmt.Sprintf("circuit breaker %s is %s: retry after %s (failures=%d)", e.Name, e.State, e.RetryAfter.Round(time.Millisecond), e.FailureCount)
}

// ToolError is a deterministic failure the backend executed and reported
// itself. It is never retried and always counts once against the breaker.
type ToolError struct {
	ToolName string
	Message  string
	Details  map[string]any
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.ToolName, e.Message)
}

// TransportError means the channel itself failed after the adapter
// exhausted its configured retries.
type TransportError struct {
	ToolName string
	Attempts int
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport to %s failed after %d attempts: %v", e.ToolName, e.Attempts, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

func IsBreakerError(err error) bool {
	var breakerErr *BreakerError
	return errors.As(err, &breakerErr)
}

func IsToolError(err error) bool {
	var toolErr *ToolError
	return errors.As(err, &toolErr)
}

// Classified reports whether err already belongs to the dispatch error
// taxonomy. Anything unclassified must be wrapped before it crosses the
// execute boundary.
func Classified(err error) bool {
	var adapterErr *AdapterError
	var breakerErr *BreakerError
	var toolErr *ToolError
	var transportErr *TransportError
	return errors.As(err, &adapterErr) ||
		errors.As(err, &breakerErr) ||
		errors.As(err, &toolErr) ||
		errors.As(err, &transportErr)
}

// WrapAdapter classifies err as an adapter error unless it already carries
// a taxonomy type, in which case it passes through unchanged.
func WrapAdapter(op, toolName, version string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return &AdapterError{ToolName: toolName, Version: version, Op: op, Cause: err}
}

// FailureClass tags a failure for the retry loop and the breaker: a
// retryable failure may be re-attempted locally before it becomes a single
// breaker-visible failure, a fatal one surfaces immediately.
type FailureClass int

const (
	FailureRetryable FailureClass = iota
	FailureFatal
)

// ClassifyStatus maps a backend status code to a failure class.
// Server-side 5xx responses are transient; everything else is fatal.
func ClassifyStatus(status int) FailureClass {
	if status >= 500 && status < 600 {
		return FailureRetryable
	}
	return FailureFatal
}
