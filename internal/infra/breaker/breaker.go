package breaker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"dispatchd/internal/domain"
	"dispatchd/internal/infra/telemetry"
)

// Call is the protected operation. The breaker decides admission; the
// call's own error classification is left untouched on the way back out.
type Call func(ctx context.Context) (map[string]any, error)

type Options struct {
	Threshold        int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
	Logger           *zap.Logger
	Metrics          domain.Metrics
	Now              func() time.Time
}

// CircuitBreaker isolates one (tool, version) endpoint. A run of
// consecutive failures opens it; after the cool-down a bounded number of
// trial calls decide whether it closes again.
type CircuitBreaker struct {
	name             string
	threshold        int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int
	logger           *zap.Logger
	metrics          domain.Metrics
	now              func() time.Time

	mu              sync.Mutex
	state           domain.BreakerState
	failureCount    int
	lastFailureTime time.Time
	halfOpenCalls   int
}

func New(name string, opts Options) *CircuitBreaker {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = domain.DefaultBreakerThreshold
	}
	recovery := opts.RecoveryTimeout
	if recovery <= 0 {
		recovery = domain.DefaultRecoveryTimeoutSeconds * time.Second
	}
	maxCalls := opts.HalfOpenMaxCalls
	if maxCalls <= 0 {
		maxCalls = domain.DefaultHalfOpenMaxCalls
	}
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
	return &CircuitBreaker{
		name:             name,
		threshold:        threshold,
		recoveryTimeout:  recovery,
		halfOpenMaxCalls: maxCalls,
		logger:           logger.Named("breaker"),
		metrics:          metrics,
		now:              now,
		state:            domain.BreakerClosed,
	}
}

// Execute admits the call according to the breaker state, invokes it, and
// updates the bookkeeping from the outcome. Rejections surface as
// *domain.BreakerError without touching the call.
func (b *CircuitBreaker) Execute(ctx context.Context, call Call) (map[string]any, error) {
	admittedFrom, rejectErr := b.admit()
	if rejectErr != nil {
		return nil, rejectErr
	}

	result, err := call(ctx)

	// A caller that gave up mid-flight says nothing about endpoint
	// health: counters stay untouched. An admitted trial slot is handed
	// back so a cancelled trial cannot leave the breaker at capacity.
	if ctx.Err() != nil && err != nil {
		b.releaseTrial(admittedFrom)
		return nil, err
	}

	if err != nil {
		b.recordFailure(admittedFrom)
		return nil, err
	}
	b.recordSuccess(admittedFrom)
	return result, nil
}

// admit performs admission control under the lock. It returns the state
// the call was admitted from, or the rejection error. Half-open admission
// increments the trial counter before the lock is released, so the
// at-most-N guarantee holds even though outcomes resolve later.
func (b *CircuitBreaker) admit() (domain.BreakerState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == domain.BreakerOpen {
		elapsed := b.now().Sub(b.lastFailureTime)
		if elapsed > b.recoveryTimeout {
			b.transition(domain.BreakerHalfOpen)
			b.halfOpenCalls = 0
		} else {
			return b.state, &domain.BreakerError{
				Name:         b.name,
				State:        domain.BreakerOpen,
				FailureCount: b.failureCount,
				RetryAfter:   b.recoveryTimeout - elapsed,
			}
		}
	}

	if b.state == domain.BreakerHalfOpen {
		if b.halfOpenCalls >= b.halfOpenMaxCalls {
			return b.state, &domain.BreakerError{
				Name:         b.name,
				State:        domain.BreakerHalfOpen,
				FailureCount: b.failureCount,
				AtCapacity:   true,
			}
		}
		b.halfOpenCalls++
		return domain.BreakerHalfOpen, nil
	}

	return domain.BreakerClosed, nil
}

// releaseTrial returns a HALF_OPEN admission whose outcome never
// resolved. Exclusive with recordSuccess/recordFailure for one call.
func (b *CircuitBreaker) releaseTrial(admittedFrom domain.BreakerState) {
	if admittedFrom != domain.BreakerHalfOpen {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.halfOpenCalls > 0 {
		b.halfOpenCalls--
	}
}

func (b *CircuitBreaker) recordSuccess(admittedFrom domain.BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if admittedFrom == domain.BreakerHalfOpen {
		b.transition(domain.BreakerClosed)
		b.failureCount = 0
		b.halfOpenCalls = 0
		return
	}
	b.failureCount = 0
}

func (b *CircuitBreaker) recordFailure(admittedFrom domain.BreakerState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = b.now()

	if admittedFrom == domain.BreakerHalfOpen {
		b.transition(domain.BreakerOpen)
		return
	}

	b.failureCount++
	if b.state == domain.BreakerClosed && b.failureCount >= b.threshold {
		b.transition(domain.BreakerOpen)
	}
}

// transition must be called with the lock held.
func (b *CircuitBreaker) transition(to domain.BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.logger.Info("breaker transition",
		zap.String("breaker", b.name),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("failures", b.failureCount),
	)
	b.metrics.ObserveBreakerTransition(b.name, from, to)
	b.metrics.SetBreakerState(b.name, to)
}

// Reset forces the breaker back to CLOSED with zeroed counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(domain.BreakerClosed)
	b.failureCount = 0
	b.halfOpenCalls = 0
	b.lastFailureTime = time.Time{}
}

// State returns a read-only snapshot of the breaker's bookkeeping.
func (b *CircuitBreaker) State() domain.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.BreakerSnapshot{
		Name:            b.name,
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
		HalfOpenCalls:   b.halfOpenCalls,
		Threshold:       b.threshold,
		RecoveryTimeout: b.recoveryTimeout,
	}
}
