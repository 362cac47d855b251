package probe

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"dispatchd/internal/domain"
	"dispatchd/internal/infra/registry"
	"dispatchd/internal/infra/router"
	"dispatchd/internal/infra/telemetry"
)

// Prober periodically health-checks every registered binding through the
// router. Probes bypass circuit breakers, so a probe never trips a breaker
// or consumes a half-open trial call.
type Prober struct {
	registry *registry.Registry
	router   *router.Router
	logger   *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	ticker *time.Ticker
	stop   chan struct{}

	// lastStatus tracks the previous probe outcome per binding so only
	// transitions are logged, not every sweep.
	lastStatus map[string]string
	nextDue    map[string]time.Time
}

type Options struct {
	Interval time.Duration
	Logger   *zap.Logger
}

func New(reg *registry.Registry, rt *router.Router, opts Options) *Prober {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Duration(domain.DefaultHealthProbeSeconds) * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		registry:   reg,
		router:     rt,
		logger:     logger.Named("probe"),
		interval:   interval,
		lastStatus: make(map[string]string),
		nextDue:    make(map[string]time.Time),
	}
}

// Start begins periodic sweeps. Calling Start on a running prober is a
// no-op.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.stop = make(chan struct{})
	ticker := p.ticker
	stop := p.stop
	p.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				p.sweep(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends periodic sweeps.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker == nil {
		return
	}
	p.ticker.Stop()
	p.ticker = nil
	close(p.stop)
}

func (p *Prober) sweep(ctx context.Context) {
	now := time.Now()
	for _, record := range p.registry.Snapshot() {
		meta := record.Metadata
		key := registry.BreakerKey(meta.ToolName, meta.Version)
		if !p.due(key, meta.HealthCheckInterval(), now) {
			continue
		}

		report := p.router.GetToolHealth(ctx, meta.ToolName, meta.Version)
		p.observe(key, report)
	}
}

// due rate-limits bindings whose configured check interval is longer
// than the sweep interval. A binding without its own interval is probed
// on every sweep.
func (p *Prober) due(key string, interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if next, ok := p.nextDue[key]; ok && now.Before(next) {
		return false
	}
	p.nextDue[key] = now.Add(interval)
	return true
}

func (p *Prober) observe(key string, report router.HealthReport) {
	p.mu.Lock()
	previous, seen := p.lastStatus[key]
	p.lastStatus[key] = report.Status
	p.mu.Unlock()

	if seen && previous == report.Status {
		return
	}

	fields := []zap.Field{
		telemetry.EventField(telemetry.EventHealthProbe),
		telemetry.ToolField(report.ToolName),
		telemetry.VersionField(report.Version),
		telemetry.StateField(report.Status),
	}
	if report.Message != "" {
		fields = append(fields, zap.String("message", report.Message))
	}
	if report.Status == string(domain.HealthStateHealthy) {
		p.logger.Info("binding healthy", fields...)
		return
	}
	p.logger.Warn("binding unhealthy", fields...)
}
