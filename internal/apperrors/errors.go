package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure for HTTP mapping and retry policy. Chain and
// reconciliation errors are never retried automatically; operators replay
// them explicitly.
type Kind string

const (
	KindValidation             Kind = "validation_error"
	KindSignature              Kind = "signature_error"
	KindSigning                Kind = "signing_error"
	KindLimitExceeded          Kind = "limit_exceeded"
	KindRateLimited            Kind = "rate_limited"
	KindQuotaExceeded          Kind = "quota_exceeded"
	KindInsufficientBalance    Kind = "insufficient_balance"
	KindChain                  Kind = "chain_error"
	KindReconciliationRequired Kind = "reconciliation_required"
	KindNotFound               Kind = "not_found"
	KindConflict               Kind = "conflict"
)

// Error carries the failure kind plus enough context (stage, underlying
// cause) to support manual replay by an operator.
type Error struct {
	Kind    Kind
	Message string
	Stage   string
	Err     error

	// RetryAfter is set for rate/quota rejections.
	RetryAfter time.Time
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can use errors.Is with the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrSignature              = &Error{Kind: KindSignature}
	ErrSigning                = &Error{Kind: KindSigning}
	ErrLimitExceeded          = &Error{Kind: KindLimitExceeded}
	ErrRateLimited            = &Error{Kind: KindRateLimited}
	ErrQuotaExceeded          = &Error{Kind: KindQuotaExceeded}
	ErrInsufficientBalance    = &Error{Kind: KindInsufficientBalance}
	ErrChain                  = &Error{Kind: KindChain}
	ErrReconciliationRequired = &Error{Kind: KindReconciliationRequired}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrConflict               = &Error{Kind: KindConflict}
)

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Signaturef(format string, args ...interface{}) *Error {
	return &Error{Kind: KindSignature, Message: fmt.Sprintf(format, args...)}
}

func Signing(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindSigning, Message: fmt.Sprintf(format, args...), Err: err}
}

func LimitExceeded(format string, args ...interface{}) *Error {
	return &Error{Kind: KindLimitExceeded, Message: fmt.Sprintf(format, args...)}
}

func RateLimited(blockedUntil time.Time) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("rate limited until %s", blockedUntil.Format(time.RFC3339)),
		RetryAfter: blockedUntil,
	}
}

func QuotaExceeded(format string, args ...interface{}) *Error {
	return &Error{Kind: KindQuotaExceeded, Message: fmt.Sprintf(format, args...)}
}

func InsufficientBalance(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInsufficientBalance, Message: fmt.Sprintf(format, args...)}
}

func Chain(stage string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindChain, Stage: stage, Message: fmt.Sprintf(format, args...), Err: err}
}

// ReconciliationRequired marks the case where an irreversible on-chain
// effect succeeded but a downstream step failed. Must reach an operator
// queue, never a silent retry.
func ReconciliationRequired(stage string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindReconciliationRequired, Stage: stage, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or empty string for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
