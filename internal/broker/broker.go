// Package broker implements LLMBroker: the single choke
// point for external text-generation calls, wrapping provider calls with
// governor admission, per-provider rate limiting, and single cross-provider
// fallback.
package broker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/r3e-network/agentcustody/internal/domain"
	svcerrors "github.com/r3e-network/agentcustody/internal/errors"
	"github.com/r3e-network/agentcustody/internal/governor"
	"github.com/r3e-network/agentcustody/internal/ratelimit"
	"github.com/r3e-network/agentcustody/internal/resilience"
)

// Provider is any backend capable of producing text for a prompt. Both a
// StaticProvider (tests) and an HTTPProvider (production, wrapping a vendor
// SDK/API) implement it.
type Provider interface {
	// Name identifies the provider for logging/metrics; must match a
	// domain.Provider value's string form ("primary" or "secondary").
	Name() domain.Provider
	// Complete calls the provider and returns generated text plus the
	// actual tokens consumed. Implementations must respect ctx cancellation.
	Complete(ctx context.Context, prompt string, maxOutputTokens int) (text string, tokensIn, tokensOut int64, err error)
}

// Result is LLMBroker.Generate's success value.
type Result struct {
	Provider  domain.Provider
	Text      string
	TokensIn  int64
	TokensOut int64
}

// DefaultRequestTimeout is the bounded wall-clock timeout for one provider
// call.
const DefaultRequestTimeout = 30 * time.Second

// Broker is LLMBroker (C3).
type Broker struct {
	governor  *governor.Governor
	providers map[domain.Provider]Provider
	limiters  map[domain.Provider]*ratelimit.RateLimiter
	breakers  map[domain.Provider]*resilience.CircuitBreaker
	timeout   time.Duration
}

// New constructs a Broker. providers must contain at least a primary entry;
// a missing secondary simply narrows fallback to "none available". Each
// provider gets its own rate limiter and circuit breaker so a misbehaving
// vendor neither starves the other provider's quota nor keeps eating the
// full request timeout once it is reliably down.
func New(g *governor.Governor, providers map[domain.Provider]Provider) *Broker {
	limiters := make(map[domain.Provider]*ratelimit.RateLimiter, len(providers))
	breakers := make(map[domain.Provider]*resilience.CircuitBreaker, len(providers))
	for p := range providers {
		limiters[p] = ratelimit.New(ratelimit.DefaultConfig())
		breakers[p] = resilience.New(resilience.DefaultConfig())
	}
	return &Broker{
		governor:  g,
		providers: providers,
		limiters:  limiters,
		breakers:  breakers,
		timeout:   DefaultRequestTimeout,
	}
}

// estimateTokens is the deterministic word-based fallback Generate uses
// when a provider response carries no token accounting of its own.
func estimateTokens(s string) int64 {
	return int64(len(strings.Fields(s)) * 4 / 3)
}

func (b *Broker) callProvider(ctx context.Context, p Provider, prompt string, maxOutputTokens int) (Result, error) {
	limiter, ok := b.limiters[p.Name()]
	if ok {
		waitCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		if err := limiter.Wait(waitCtx); err != nil {
			return Result{}, svcerrors.Timeout("rate_limit_wait")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var text string
	var tokensIn, tokensOut int64
	breaker := b.breakers[p.Name()]
	err := breaker.Execute(callCtx, func() error {
		var callErr error
		text, tokensIn, tokensOut, callErr = p.Complete(callCtx, prompt, maxOutputTokens)
		return callErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			return Result{}, svcerrors.ProviderError(string(p.Name()), err)
		}
		if callCtx.Err() != nil {
			return Result{}, svcerrors.Timeout("provider_call")
		}
		return Result{}, svcerrors.ProviderError(string(p.Name()), err)
	}
	if tokensIn == 0 {
		tokensIn = estimateTokens(prompt)
	}
	if tokensOut == 0 {
		tokensOut = estimateTokens(text)
	}
	return Result{Provider: p.Name(), Text: text, TokensIn: tokensIn, TokensOut: tokensOut}, nil
}

// Generate implements LLMBroker.Generate.
func (b *Broker) Generate(ctx context.Context, agentType domain.AgentType, prompt string, maxOutputTokens int, estimatedTokens int64) (Result, error) {
	decision, err := b.governor.Admit(ctx, agentType, estimatedTokens, domain.ProviderPrimary)
	if err != nil {
		return Result{}, svcerrors.StoreUnavailable(err)
	}
	if !decision.Allow {
		return Result{}, svcerrors.BudgetDenied(denyReasonError(decision.Reason))
	}

	provider, ok := b.providers[decision.Provider]
	if !ok {
		return Result{}, svcerrors.ProviderError(string(decision.Provider), errNoSuchProvider)
	}

	result, callErr := b.callProvider(ctx, provider, prompt, maxOutputTokens)
	if callErr == nil {
		requestID := requestIDFrom(ctx)
		_ = b.governor.Record(ctx, agentType, decision.Provider, result.TokensIn, result.TokensOut, true, requestID)
		return result, nil
	}

	// Step 5: record the failed attempt (tokens_out=0, tokens_in estimated).
	requestID := requestIDFrom(ctx)
	_ = b.governor.Record(ctx, agentType, decision.Provider, estimateTokens(prompt), 0, false, requestID)

	if !svcerrors.Retryable(callErr) || svcerrors.IsCode(callErr, svcerrors.CodeBudgetDenied) {
		return Result{}, callErr
	}

	// Step 5 continued: exactly one cross-provider fallback under a fresh Admit.
	fallbackProvider := domain.ProviderSecondary
	if decision.Provider == domain.ProviderSecondary {
		fallbackProvider = domain.ProviderPrimary
	}
	fbDecision, admitErr := b.governor.Admit(ctx, agentType, estimatedTokens, fallbackProvider)
	if admitErr != nil {
		return Result{}, callErr
	}
	if !fbDecision.Allow {
		return Result{}, svcerrors.BudgetDenied(denyReasonError(fbDecision.Reason))
	}
	fbImpl, ok := b.providers[fbDecision.Provider]
	if !ok {
		return Result{}, callErr
	}
	fbResult, fbErr := b.callProvider(ctx, fbImpl, prompt, maxOutputTokens)
	if fbErr != nil {
		_ = b.governor.Record(ctx, agentType, fbDecision.Provider, estimateTokens(prompt), 0, false, requestIDFrom(ctx))
		return Result{}, fbErr
	}
	_ = b.governor.Record(ctx, agentType, fbDecision.Provider, fbResult.TokensIn, fbResult.TokensOut, true, requestIDFrom(ctx))
	return fbResult, nil
}

type requestIDKey struct{}

// WithRequestID attaches a request identity used for TokenGovernor
// idempotency to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

var errNoSuchProvider = providerNotConfiguredError{}

type providerNotConfiguredError struct{}

func (providerNotConfiguredError) Error() string { return "provider not configured" }

func denyReasonError(reason governor.DenyReason) *svcerrors.ServiceError {
	switch reason {
	case governor.ReasonRequestTooLarge:
		return svcerrors.RequestTooLarge(0, 0)
	case governor.ReasonHourlyExhausted:
		return svcerrors.HourlyExhausted()
	case governor.ReasonDailyExhausted:
		return svcerrors.DailyExhausted()
	case governor.ReasonMonthlyExhausted:
		return svcerrors.MonthlyExhausted()
	case governor.ReasonEmergencyShutdown:
		return svcerrors.EmergencyShutdown()
	default:
		return svcerrors.BothProvidersExhausted()
	}
}
