package router

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"dispatchd/internal/domain"
	"dispatchd/internal/infra/registry"
	"dispatchd/internal/infra/telemetry"
)

// Router is the stateless façade callers dispatch through. It owns no
// state of its own; the registry it wraps is passed in at construction.
type Router struct {
	registry *registry.Registry
	timeout  time.Duration
	logger   *zap.Logger
	metrics  domain.Metrics
}

type Options struct {
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics domain.Metrics
}

func New(reg *registry.Registry, opts Options) *Router {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Duration(domain.DefaultRouteTimeoutSeconds) * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Router{
		registry: reg,
		timeout:  timeout,
		logger:   logger.Named("router"),
		metrics:  metrics,
	}
}

// RouteOptions selects a version and breaker behaviour for one request.
type RouteOptions struct {
	Version           string
	UseCircuitBreaker bool
}

func DefaultRouteOptions() RouteOptions {
	return RouteOptions{UseCircuitBreaker: true}
}

// RouteRequest dispatches to the tool's latest version through its
// breaker.
func (r *Router) RouteRequest(ctx context.Context, toolName string, params, callContext map[string]any) (map[string]any, error) {
	return r.RouteRequestWithOptions(ctx, toolName, params, callContext, DefaultRouteOptions())
}

// RouteRequestWithOptions dispatches one tool call. Errors from the
// registry are logged and re-raised unchanged, so callers always see the
// original taxonomy kind.
func (r *Router) RouteRequestWithOptions(ctx context.Context, toolName string, params, callContext map[string]any, opts RouteOptions) (map[string]any, error) {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.registry.Execute(callCtx, toolName, params, callContext, opts.Version, opts.UseCircuitBreaker)
	r.observeDispatch(toolName, opts.Version, start, err)
	if err != nil {
		r.logger.Warn("dispatch failed",
			telemetry.EventField(telemetry.EventDispatchError),
			telemetry.ToolField(toolName),
			telemetry.VersionField(opts.Version),
			telemetry.DurationField(time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	r.logger.Debug("dispatch succeeded",
		telemetry.EventField(telemetry.EventDispatchSuccess),
		telemetry.ToolField(toolName),
		telemetry.DurationField(time.Since(start)),
	)
	return result, nil
}

// ListAvailableTools returns the registered tool names.
func (r *Router) ListAvailableTools() []string {
	return r.registry.ListTools()
}

// ToolInfo is the metadata projection handed to callers, with tags
// reshaped into a sorted list.
type ToolInfo struct {
	ToolName              string
	Version               string
	AdapterType           string
	Description           string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	IsActive              bool
	Tags                  []string
	CircuitBreakerEnabled bool
	Metadata              map[string]any
}

// GetToolMetadata returns the metadata for (toolName, version), resolving
// to the latest version when version is empty.
func (r *Router) GetToolMetadata(toolName, version string) (ToolInfo, error) {
	meta, err := r.registry.Metadata(toolName, version)
	if err != nil {
		return ToolInfo{}, err
	}
	tags := make([]string, 0, len(meta.Tags))
	for tag := range meta.Tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return ToolInfo{
		ToolName:              meta.ToolName,
		Version:               meta.Version,
		AdapterType:           meta.AdapterType,
		Description:           meta.Description,
		CreatedAt:             meta.CreatedAt,
		UpdatedAt:             meta.UpdatedAt,
		IsActive:              meta.IsActive,
		Tags:                  tags,
		CircuitBreakerEnabled: meta.CircuitBreakerEnabled,
		Metadata:              meta.Metadata,
	}, nil
}

const HealthStatusError = "error"

// HealthReport merges an adapter probe with the breaker snapshot for one
// (tool, version). Status is a health state, or "error" when the query
// itself failed.
type HealthReport struct {
	ToolName  string
	Version   string
	Status    string
	Message   string
	CheckedAt time.Time
	Details   map[string]any
	Breaker   *domain.BreakerSnapshot
}

// GetToolHealth probes the adapter directly, bypassing the breaker: a
// probe is not a real invocation and must not trip or consume trial
// calls. Health queries never fail the caller.
func (r *Router) GetToolHealth(ctx context.Context, toolName, version string) HealthReport {
	meta, err := r.registry.Metadata(toolName, version)
	if err != nil {
		return r.healthError(toolName, version, err)
	}
	adapter, err := r.registry.Get(toolName, meta.Version)
	if err != nil {
		return r.healthError(toolName, meta.Version, err)
	}

	status := adapter.HealthCheck(ctx)
	report := HealthReport{
		ToolName:  toolName,
		Version:   meta.Version,
		Status:    string(status.State),
		Message:   status.Message,
		CheckedAt: status.CheckedAt,
		Details:   status.Details,
	}
	if br, berr := r.registry.Breaker(toolName, meta.Version); berr == nil && br != nil {
		snapshot := br.State()
		report.Breaker = &snapshot
	}
	return report
}

func (r *Router) healthError(toolName, version string, err error) HealthReport {
	r.logger.Warn("health query failed",
		telemetry.EventField(telemetry.EventHealthProbe),
		telemetry.ToolField(toolName),
		telemetry.VersionField(version),
		zap.Error(err),
	)
	return HealthReport{
		ToolName:  toolName,
		Version:   version,
		Status:    HealthStatusError,
		Message:   err.Error(),
		CheckedAt: time.Now(),
	}
}

func (r *Router) observeDispatch(toolName, version string, start time.Time, err error) {
	metric := domain.DispatchMetric{
		ToolName: toolName,
		Version:  version,
		Status:   domain.DispatchStatusSuccess,
		Reason:   domain.DispatchReasonSuccess,
		Duration: time.Since(start),
	}
	if err != nil {
		metric.Status = domain.DispatchStatusError
		metric.Reason = dispatchReason(err)
	}
	r.metrics.ObserveDispatch(metric)
}

func dispatchReason(err error) domain.DispatchReason {
	var toolErr *domain.ToolError
	var transportErr *domain.TransportError
	switch {
	case errors.Is(err, domain.ErrToolNotFound), errors.Is(err, domain.ErrVersionNotFound):
		return domain.DispatchReasonNotFound
	case domain.IsBreakerError(err):
		return domain.DispatchReasonBreakerOpen
	case errors.As(err, &toolErr):
		return domain.DispatchReasonToolFailure
	case errors.As(err, &transportErr):
		return domain.DispatchReasonTransport
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.DispatchReasonCanceled
	default:
		return domain.DispatchReasonAdapterFailure
	}
}
