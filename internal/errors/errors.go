// Package errors provides the unified error taxonomy shared by every core
// component (MetricsStore, TokenGovernor, LLMBroker, CustodyEngine,
// AgentScheduler). Components wrap low-level failures into a ServiceError so
// callers can branch on Code rather than string-matching messages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	// Budget errors (1xxx): admission was refused by TokenGovernor.
	CodeRequestTooLarge     Code = "BUDGET_1001"
	CodeHourlyExhausted     Code = "BUDGET_1002"
	CodeDailyExhausted      Code = "BUDGET_1003"
	CodeMonthlyExhausted    Code = "BUDGET_1004"
	CodeBothProvidersOut    Code = "BUDGET_1005"
	CodeEmergencyShutdown   Code = "BUDGET_1006"
	CodeBudgetDenied        Code = "BUDGET_1007"

	// Provider errors (2xxx): LLMBroker could not complete a call.
	CodeProviderError Code = "PROVIDER_2001"
	CodeTimeout       Code = "PROVIDER_2002"

	// Store errors (3xxx): MetricsStore failures.
	CodeStoreUnavailable    Code = "STORE_3001"
	CodeInvariantViolation  Code = "STORE_3002"
	CodeConflict            Code = "STORE_3003"
	CodeNotFound            Code = "STORE_3004"

	// Scheduling errors (4xxx): returned as conflicts, never logged as errors.
	CodeAlreadyRunning Code = "SCHED_4001"
	CodeNotDue         Code = "SCHED_4002"
	CodeForbidden      Code = "SCHED_4003"
)

// ServiceError is a structured error carrying a stable code, an HTTP
// projection for ExternalFacade consumers, and optional context.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches additional machine-readable context and returns the
// same error for chaining.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError with no wrapped cause.
func New(code Code, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap attaches a ServiceError identity to an underlying cause.
func Wrap(code Code, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Budget constructors: these never propagate to a caller's caller. LLMBroker
// and CustodyEngine absorb them into synthesis; only direct Generate callers
// and ExternalFacade ever observe the HTTPStatus projection.

func RequestTooLarge(estimated, limit int) *ServiceError {
	return New(CodeRequestTooLarge, "estimated tokens exceed per-request limit", http.StatusBadRequest).
		WithDetails("estimated_tokens", estimated).
		WithDetails("per_request_limit", limit)
}

func HourlyExhausted() *ServiceError {
	return New(CodeHourlyExhausted, "hourly token window exhausted", http.StatusTooManyRequests)
}

func DailyExhausted() *ServiceError {
	return New(CodeDailyExhausted, "daily token window exhausted", http.StatusTooManyRequests)
}

func MonthlyExhausted() *ServiceError {
	return New(CodeMonthlyExhausted, "monthly token window exhausted", http.StatusTooManyRequests)
}

func BothProvidersExhausted() *ServiceError {
	return New(CodeBothProvidersOut, "both primary and secondary providers are exhausted", http.StatusTooManyRequests)
}

func EmergencyShutdown() *ServiceError {
	return New(CodeEmergencyShutdown, "emergency token threshold crossed; admission halted", http.StatusServiceUnavailable)
}

func BudgetDenied(reason *ServiceError) *ServiceError {
	return Wrap(CodeBudgetDenied, "LLM call denied by token governor", http.StatusTooManyRequests, reason)
}

// Provider constructors.

func ProviderError(provider string, err error) *ServiceError {
	return Wrap(CodeProviderError, "external provider call failed", http.StatusBadGateway, err).
		WithDetails("provider", provider)
}

func Timeout(operation string) *ServiceError {
	return New(CodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

// Store constructors.

func StoreUnavailable(err error) *ServiceError {
	return Wrap(CodeStoreUnavailable, "metrics store is temporarily unavailable", http.StatusServiceUnavailable, err)
}

func InvariantViolation(message string) *ServiceError {
	return New(CodeInvariantViolation, message, http.StatusUnprocessableEntity)
}

func Conflict(message string) *ServiceError {
	return New(CodeConflict, message, http.StatusConflict)
}

func NotFound(resource, id string) *ServiceError {
	return New(CodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Scheduling constructors. These are returned as 409s and are explicitly not
// logged as errors by callers (see AgentScheduler).

func AlreadyRunning(agentType string) *ServiceError {
	return New(CodeAlreadyRunning, "agent already has a run in flight", http.StatusConflict).
		WithDetails("agent_type", agentType)
}

func NotDue(agentType string) *ServiceError {
	return New(CodeNotDue, "agent is not due for a run", http.StatusConflict).
		WithDetails("agent_type", agentType)
}

func Forbidden(message string) *ServiceError {
	return New(CodeForbidden, message, http.StatusForbidden)
}

// IsCode reports whether err (or any error it wraps) carries the given Code.
func IsCode(err error, code Code) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// As extracts a *ServiceError from an error chain, if present.
func As(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// HTTPStatus returns the HTTP projection for an error, defaulting to 500 for
// errors that never received a ServiceError identity.
func HTTPStatus(err error) int {
	if se := As(err); se != nil {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Retryable reports whether a caller may retry the operation that produced
// err (store unavailability and provider-level errors are retryable;
// invariant violations and conflicts are not).
func Retryable(err error) bool {
	se := As(err)
	if se == nil {
		return false
	}
	switch se.Code {
	case CodeStoreUnavailable, CodeProviderError, CodeTimeout:
		return true
	default:
		return false
	}
}
