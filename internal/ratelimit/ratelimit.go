// Package ratelimit throttles outbound model API calls.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter caps the rate of API requests. The zero value is not usable;
// construct with New.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter allowing requestsPerSecond sustained with the
// given burst. A non-positive rate disables limiting.
func New(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Wait blocks until a request may proceed or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Allow reports whether a request may proceed immediately, consuming a
// token if so.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}
