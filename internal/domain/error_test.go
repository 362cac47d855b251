package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWrapAdapter_PassesClassifiedErrorsThrough(t *testing.T) {
	toolErr := &ToolError{ToolName: "echo", Message: "bad input"}
	require.Same(t, error(toolErr), WrapAdapter("execute", "echo", "1.0.0", toolErr))

	breakerErr := &BreakerError{Name: "echo:1.0.0", State: BreakerOpen}
	require.Same(t, error(breakerErr), WrapAdapter("execute", "echo", "1.0.0", breakerErr))

	wrapped := fmt.Errorf("dispatch: %w", toolErr)
	require.Same(t, wrapped, WrapAdapter("execute", "echo", "1.0.0", wrapped))

	require.NoError(t, WrapAdapter("execute", "echo", "1.0.0", nil))
}

func TestWrapAdapter_ClassifiesUnknownErrors(t *testing.T) {
	cause := errors.New("boom")
	err := WrapAdapter("execute", "echo", "1.0.0", cause)

	var adapterErr *AdapterError
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, "echo", adapterErr.ToolName)
	require.Equal(t, "1.0.0", adapterErr.Version)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "execute: echo@1.0.0: boom", err.Error())
}

func TestClassified(t *testing.T) {
	require.False(t, Classified(errors.New("plain")))
	require.True(t, Classified(&AdapterError{Op: "execute"}))
	require.True(t, Classified(&TransportError{ToolName: "echo", Attempts: 3, Cause: errors.New("pipe")}))
	require.True(t, Classified(fmt.Errorf("outer: %w", &ToolError{ToolName: "echo"})))
}

func TestBreakerError_Messages(t *testing.T) {
	open := &BreakerError{Name: "echo:1.0.0", State: BreakerOpen, FailureCount: 5, RetryAfter: 1500 * time.Millisecond}
	require.Contains(t, open.Error(), "echo:1.0.0 is open")
	require.Contains(t, open.Error(), "retry after 1.5s")

	trial := &BreakerError{Name: "echo:1.0.0", State: BreakerHalfOpen, AtCapacity: true}
	require.Contains(t, trial.Error(), "trial-call capacity")
	require.True(t, IsBreakerError(trial))
	require.False(t, IsToolError(trial))
}

func TestClassifyStatus(t *testing.T) {
	require.Equal(t, FailureRetryable, ClassifyStatus(500))
	require.Equal(t, FailureRetryable, ClassifyStatus(503))
	require.Equal(t, FailureFatal, ClassifyStatus(400))
	require.Equal(t, FailureFatal, ClassifyStatus(404))
	require.Equal(t, FailureFatal, ClassifyStatus(200))
	require.Equal(t, FailureFatal, ClassifyStatus(0))
}
