package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies AppError into the closed taxonomy the control plane
// reasons about. Callers branch on kind, never on message text.
type ErrorKind int

const (
	KindUnspecified ErrorKind = iota
	KindInvalidConfig
	KindInvalidState
	KindInsufficientData
	KindBudgetExceeded
	KindCircuitOpen
	KindDeliveryFailed
	KindAbortTriggered
	KindInternalInvariant
	KindCacheUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidConfig:
		return "InvalidConfig"
	case KindInvalidState:
		return "InvalidState"
	case KindInsufficientData:
		return "InsufficientData"
	case KindBudgetExceeded:
		return "BudgetExceeded"
	case KindCircuitOpen:
		return "CircuitOpen"
	case KindDeliveryFailed:
		return "DeliveryFailed"
	case KindAbortTriggered:
		return "AbortTriggered"
	case KindInternalInvariant:
		return "InternalInvariant"
	case KindCacheUnavailable:
		return "CacheUnavailable"
	default:
		return "Unspecified"
	}
}

// AppError wraps an operation, an error kind, and an underlying cause.
type AppError struct {
	Op   string
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match against a sentinel of the same kind.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// NewAppError constructs a typed AppError.
func NewAppError(op string, kind ErrorKind, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// Sentinels usable with errors.Is(err, utils.ErrInvalidState) etc. Only the
// Kind field is compared (see Is above), so these carry no Op/Msg/Err.
var (
	ErrInvalidConfig     = &AppError{Kind: KindInvalidConfig}
	ErrInvalidState      = &AppError{Kind: KindInvalidState}
	ErrInsufficientData  = &AppError{Kind: KindInsufficientData}
	ErrBudgetExceeded    = &AppError{Kind: KindBudgetExceeded}
	ErrCircuitOpen       = &AppError{Kind: KindCircuitOpen}
	ErrDeliveryFailed    = &AppError{Kind: KindDeliveryFailed}
	ErrAbortTriggered    = &AppError{Kind: KindAbortTriggered}
	ErrInternalInvariant = &AppError{Kind: KindInternalInvariant}
	ErrCacheUnavailable  = &AppError{Kind: KindCacheUnavailable}
)

// KindOf extracts the ErrorKind from err, if it (or something it wraps) is
// an *AppError. Returns KindUnspecified otherwise.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnspecified
}
