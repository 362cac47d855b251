package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dispatchd/internal/domain"
	"dispatchd/internal/infra/breaker"
	"dispatchd/internal/infra/telemetry"
)

// Registry is the single source of truth binding (tool, version) to
// adapter, metadata and circuit breaker. Registration is append-only;
// the only teardown is a full shutdown.
type Registry struct {
	logger  *zap.Logger
	metrics domain.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	adapters map[string]map[string]domain.Adapter
	metadata map[string]map[string]domain.ToolMetadata
	breakers map[string]*breaker.CircuitBreaker
	latest   map[string]string
}

type Options struct {
	Logger  *zap.Logger
	Metrics domain.Metrics
	Now     func() time.Time
}

func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Registry{
		logger:   logger.Named("registry"),
		metrics:  metrics,
		now:      now,
		adapters: make(map[string]map[string]domain.Adapter),
		metadata: make(map[string]map[string]domain.ToolMetadata),
		breakers: make(map[string]*breaker.CircuitBreaker),
		latest:   make(map[string]string),
	}
}

// RegisterOptions carries per-registration settings. Use
// DefaultRegisterOptions as the starting point; the zero value disables
// both latest-promotion and circuit breaking.
type RegisterOptions struct {
	AdapterType     string
	Description     string
	Tags            []string
	Metadata        map[string]any
	MakeLatest      bool
	BreakerEnabled  bool
	Threshold       int
	RecoveryTimeout time.Duration
	HealthInterval  time.Duration
}

func DefaultRegisterOptions() RegisterOptions {
	return RegisterOptions{
		MakeLatest:     true,
		BreakerEnabled: true,
	}
}

// BreakerKey is the breaker map key for a (tool, version) pair.
func BreakerKey(toolName, version string) string {
	return fmt.Sprintf("%s:%s", toolName, version)
}

// Register binds an adapter to (toolName, version). Registering an
// existing pair fails without mutating any state.
func (r *Registry) Register(toolName string, adapter domain.Adapter, version string, opts RegisterOptions) error {
	if toolName == "" || version == "" {
		return &domain.AdapterError{Op: "register_tool", ToolName: toolName, Version: version, Message: "tool name and version are required"}
	}
	if adapter == nil {
		return &domain.AdapterError{Op: "register_tool", ToolName: toolName, Version: version, Message: "adapter is nil"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[toolName][version]; exists {
		return &domain.AdapterError{
			Op:       "register_tool",
			ToolName: toolName,
			Version:  version,
			Cause:    domain.ErrToolAlreadyRegistered,
		}
	}

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = domain.DefaultBreakerThreshold
	}
	recovery := opts.RecoveryTimeout
	if recovery <= 0 {
		recovery = domain.DefaultRecoveryTimeoutSeconds * time.Second
	}

	now := r.now()
	tags := make(map[string]struct{}, len(opts.Tags))
	for _, tag := range opts.Tags {
		tags[tag] = struct{}{}
	}
	meta := domain.ToolMetadata{
		ToolName:                toolName,
		Version:                 version,
		AdapterType:             opts.AdapterType,
		Description:             opts.Description,
		CreatedAt:               now,
		UpdatedAt:               now,
		IsActive:                true,
		Tags:                    tags,
		CircuitBreakerEnabled:   opts.BreakerEnabled,
		CircuitBreakerThreshold: threshold,
		RecoveryTimeoutSeconds:  int(recovery / time.Second),
		HealthCheckSeconds:      int(opts.HealthInterval / time.Second),
		Metadata:                opts.Metadata,
	}

	if r.adapters[toolName] == nil {
		r.adapters[toolName] = make(map[string]domain.Adapter)
		r.metadata[toolName] = make(map[string]domain.ToolMetadata)
	}
	r.adapters[toolName][version] = adapter
	r.metadata[toolName][version] = meta
	r.breakers[BreakerKey(toolName, version)] = breaker.New(BreakerKey(toolName, version), breaker.Options{
		Threshold:       threshold,
		RecoveryTimeout: recovery,
		Logger:          r.logger,
		Metrics:         r.metrics,
		Now:             r.now,
	})

	_, hadLatest := r.latest[toolName]
	if opts.MakeLatest || !hadLatest {
		r.latest[toolName] = version
	}

	r.logger.Info("tool registered",
		zap.String("tool", toolName),
		zap.String("version", version),
		zap.String("adapterType", opts.AdapterType),
		zap.Bool("latest", r.latest[toolName] == version),
	)
	r.metrics.SetRegisteredTools(r.registrationCountLocked())
	return nil
}

func (r *Registry) registrationCountLocked() int {
	count := 0
	for _, versions := range r.adapters {
		count += len(versions)
	}
	return count
}

// resolveVersionLocked maps an empty version to the tool's latest.
func (r *Registry) resolveVersionLocked(toolName, version string) (string, error) {
	if _, ok := r.adapters[toolName]; !ok {
		return "", &domain.AdapterError{Op: "get_tool", ToolName: toolName, Cause: domain.ErrToolNotFound}
	}
	if version == "" {
		latest, ok := r.latest[toolName]
		if !ok {
			return "", &domain.AdapterError{Op: "get_tool", ToolName: toolName, Cause: domain.ErrVersionNotFound, Message: "no versions registered"}
		}
		return latest, nil
	}
	if _, ok := r.adapters[toolName][version]; !ok {
		return "", &domain.AdapterError{Op: "get_tool", ToolName: toolName, Version: version, Cause: domain.ErrVersionNotFound}
	}
	return version, nil
}

// Get resolves an adapter, defaulting to the tool's latest version.
func (r *Registry) Get(toolName, version string) (domain.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolved, err := r.resolveVersionLocked(toolName, version)
	if err != nil {
		return nil, err
	}
	return r.adapters[toolName][resolved], nil
}

// Metadata returns a copy of the metadata for (toolName, version).
func (r *Registry) Metadata(toolName, version string) (domain.ToolMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolved, err := r.resolveVersionLocked(toolName, version)
	if err != nil {
		return domain.ToolMetadata{}, err
	}
	return r.metadata[toolName][resolved], nil
}

// ListTools returns the registered tool names in sorted order.
func (r *Registry) ListTools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListVersions returns the versions registered for a tool in sorted order.
func (r *Registry) ListVersions(toolName string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.adapters[toolName]
	if !ok {
		return nil, &domain.AdapterError{Op: "list_versions", ToolName: toolName, Cause: domain.ErrToolNotFound}
	}
	out := make([]string, 0, len(versions))
	for version := range versions {
		out = append(out, version)
	}
	sort.Strings(out)
	return out, nil
}

// Breaker returns the circuit breaker guarding (toolName, version).
func (r *Registry) Breaker(toolName, version string) (*breaker.CircuitBreaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolved, err := r.resolveVersionLocked(toolName, version)
	if err != nil {
		return nil, err
	}
	return r.breakers[BreakerKey(toolName, resolved)], nil
}

// Latest returns the latest version recorded for a tool.
func (r *Registry) Latest(toolName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	version, ok := r.latest[toolName]
	return version, ok
}

// Execute dispatches one call, resolving the version and routing through
// the breaker when requested and enabled for that version. Unclassified
// failures never escape: they surface as adapter errors.
func (r *Registry) Execute(ctx context.Context, toolName string, params, callContext map[string]any, version string, useBreaker bool) (map[string]any, error) {
	r.mu.RLock()
	resolved, err := r.resolveVersionLocked(toolName, version)
	if err != nil {
		r.mu.RUnlock()
		return nil, err
	}
	adapter := r.adapters[toolName][resolved]
	meta := r.metadata[toolName][resolved]
	br := r.breakers[BreakerKey(toolName, resolved)]
	r.mu.RUnlock()

	if useBreaker && meta.CircuitBreakerEnabled && br != nil {
		result, err := br.Execute(ctx, func(ctx context.Context) (map[string]any, error) {
			return adapter.Execute(ctx, toolName, params, callContext)
		})
		if err != nil {
			return nil, domain.WrapAdapter("execute_tool", toolName, resolved, err)
		}
		return result, nil
	}

	result, err := adapter.Execute(ctx, toolName, params, callContext)
	if err != nil {
		return nil, domain.WrapAdapter("execute_tool", toolName, resolved, err)
	}
	return result, nil
}

// ToolRecord is a read-model row for status surfaces.
type ToolRecord struct {
	Metadata domain.ToolMetadata
	Breaker  domain.BreakerSnapshot
	IsLatest bool
}

// Snapshot returns one record per registered (tool, version), sorted by
// tool then version.
func (r *Registry) Snapshot() []ToolRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := make([]ToolRecord, 0, r.registrationCountLocked())
	for toolName, versions := range r.metadata {
		for version, meta := range versions {
			record := ToolRecord{
				Metadata: meta,
				IsLatest: r.latest[toolName] == version,
			}
			if br := r.breakers[BreakerKey(toolName, version)]; br != nil {
				record.Breaker = br.State()
			}
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Metadata.ToolName != records[j].Metadata.ToolName {
			return records[i].Metadata.ToolName < records[j].Metadata.ToolName
		}
		return records[i].Metadata.Version < records[j].Metadata.Version
	})
	return records
}

// Shutdown stops every adapter, collecting failures instead of aborting,
// and clears all bindings regardless of the outcome.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	adapters := make(map[string]domain.Adapter)
	for toolName, versions := range r.adapters {
		for version, adapter := range versions {
			adapters[BreakerKey(toolName, version)] = adapter
		}
	}
	r.mu.Unlock()

	var errs error
	for key, adapter := range adapters {
		if err := adapter.Shutdown(ctx); err != nil {
			r.logger.Warn("adapter shutdown failed",
				zap.String("tool", key),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	r.mu.Lock()
	r.adapters = make(map[string]map[string]domain.Adapter)
	r.metadata = make(map[string]map[string]domain.ToolMetadata)
	r.breakers = make(map[string]*breaker.CircuitBreaker)
	r.latest = make(map[string]string)
	r.mu.Unlock()

	r.metrics.SetRegisteredTools(0)
	if errs != nil {
		return fmt.Errorf("registry shutdown: %w", errs)
	}
	return nil
}
