// Package ratelimit provides a token-bucket limiter per external call site.
// LLMBroker keys one RateLimiter per domain.Provider (internal/broker) so a
// burst toward one vendor cannot starve the other's independent quota.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 5,
		Burst:             10,
	}
}

// RateLimiter wraps golang.org/x/time/rate with the defaulting New expects.
type RateLimiter struct {
	limiter *rate.Limiter
}

func New(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a call may proceed without waiting.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}
