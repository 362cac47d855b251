package adapter

import (
	"context"
	"time"
)

type backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(base, maxDelay time.Duration) *backoff {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &backoff{base: base, max: maxDelay, current: base}
}

func (b *backoff) Reset() {
	b.current = b.base
}

// Sleep waits for the current delay, doubling it for the next attempt.
// It returns early with the context error when the caller gives up.
func (b *backoff) Sleep(ctx context.Context) error {
	timer := time.NewTimer(b.current)
	defer timer.Stop()

	next := b.current * 2
	if next > b.max {
		next = b.max
	}
	b.current = next

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
