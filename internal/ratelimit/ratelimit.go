package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces calls to an external API and counts how often callers
// had to wait.
type Limiter struct {
	limiter *rate.Limiter

	mu      sync.Mutex
	calls   int
	delayed int
}

// New allows rps requests per second with a burst of one. A non-positive
// rps disables limiting.
func New(rps float64) *Limiter {
	if rps <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Wait blocks until the next call is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	r := l.limiter.Reserve()
	if !r.OK() {
		return l.limiter.Wait(ctx)
	}
	delay := r.Delay()

	l.mu.Lock()
	l.calls++
	if delay > 0 {
		l.delayed++
	}
	l.mu.Unlock()

	if delay == 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Stats returns the total number of calls and how many had to wait.
func (l *Limiter) Stats() (calls, delayed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls, l.delayed
}
