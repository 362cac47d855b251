package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dispatchd/internal/domain"
)

type PrometheusMetrics struct {
	dispatchDuration   *prometheus.HistogramVec
	retries            *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	registeredTools    prometheus.Gauge
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatchd_dispatch_duration_seconds",
				Help:    "Duration of routed tool calls in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"tool", "status", "reason"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatchd_adapter_retries_total",
				Help: "Total number of local adapter retry attempts",
			},
			[]string{"tool"},
		),
		breakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatchd_breaker_transitions_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"breaker", "from", "to"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatchd_breaker_state",
				Help: "Current circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"breaker"},
		),
		registeredTools: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatchd_registered_tools",
				Help: "Current number of registered (tool, version) bindings",
			},
		),
	}
}

func (p *PrometheusMetrics) ObserveDispatch(metric domain.DispatchMetric) {
	p.dispatchDuration.WithLabelValues(metric.ToolName, string(metric.Status), string(metric.Reason)).Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) ObserveRetry(toolName string) {
	p.retries.WithLabelValues(toolName).Inc()
}

func (p *PrometheusMetrics) ObserveBreakerTransition(name string, from, to domain.BreakerState) {
	p.breakerTransitions.WithLabelValues(name, string(from), string(to)).Inc()
}

func (p *PrometheusMetrics) SetBreakerState(name string, state domain.BreakerState) {
	p.breakerState.WithLabelValues(name).Set(breakerStateValue(state))
}

func (p *PrometheusMetrics) SetRegisteredTools(count int) {
	p.registeredTools.Set(float64(count))
}

func breakerStateValue(state domain.BreakerState) float64 {
	switch state {
	case domain.BreakerHalfOpen:
		return 1
	case domain.BreakerOpen:
		return 2
	default:
		return 0
	}
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
