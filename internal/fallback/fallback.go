// Package fallback runs a primary function and, on failure, a chain of
// fallback functions with exponential backoff between attempts. CustodyEngine
// uses it for two-tier scenario generation (internal/custody/scenario.go):
// the diverse domain-rotating generator as primary, the static scenario bank
// as the single fallback.
package fallback

import (
	"context"
	"time"
)

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

type Func func(ctx context.Context) (interface{}, error)

type Handler struct {
	config Config
}

type Result struct {
	Value    interface{}
	Err      error
	Source   string
	Attempts int
}

func NewHandler(cfg Config) *Handler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0.1
	}

	return &Handler{config: cfg}
}

func (h *Handler) Execute(ctx context.Context, primary Func, fallbacks ...Func) *Result {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < len(fallbacks)+1; attempt++ {
		attempts++

		var fn Func
		var source string

		if attempt == 0 {
			fn = primary
			source = "primary"
		} else {
			fn = fallbacks[attempt-1]
			source = "fallback"
		}

		value, err := fn(ctx)
		if err == nil {
			return &Result{
				Value:    value,
				Source:   source,
				Attempts: attempts,
			}
		}

		lastErr = err

		if attempt < len(fallbacks) {
			delay := h.calculateDelay(attempt)
			select {
			case <-ctx.Done():
				return &Result{Err: ctx.Err(), Source: source, Attempts: attempts}
			case <-time.After(delay):
			}
		}
	}

	return &Result{Err: lastErr, Source: "exhausted", Attempts: attempts}
}

func (h *Handler) calculateDelay(attempt int) time.Duration {
	delay := float64(h.config.BaseDelay) * pow(h.config.Multiplier, float64(attempt))
	if delay > float64(h.config.MaxDelay) {
		delay = float64(h.config.MaxDelay)
	}

	jitterRange := delay * h.config.Jitter
	if jitterRange > 0 {
		jitter := float64(time.Now().UnixNano()%1000) / 1000 * 2 * jitterRange
		delay = delay - jitterRange + jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

func pow(base, exp float64) float64 {
	result := 1.0
	expInt := int(exp)
	for expInt > 0 {
		if expInt%2 == 1 {
			result *= base
		}
		base *= base
		expInt /= 2
	}
	return result
}
