package telemetry

import (
	"dispatchd/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveDispatch(_ domain.DispatchMetric) {}

func (n *NoopMetrics) ObserveRetry(_ string) {}

func (n *NoopMetrics) ObserveBreakerTransition(_ string, _, _ domain.BreakerState) {}

func (n *NoopMetrics) SetBreakerState(_ string, _ domain.BreakerState) {}

func (n *NoopMetrics) SetRegisteredTools(_ int) {}

var _ domain.Metrics = (*NoopMetrics)(nil)
