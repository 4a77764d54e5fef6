package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Status   int    `json:"status"`
	Field    string `json:"field,omitempty"`
	Entity   string `json:"entity,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
	Err      error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so clones match the predefined kinds.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrValidation          = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrUnauthorized        = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden           = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrNotFound            = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConcurrencyConflict = New("CONCURRENCY_CONFLICT", http.StatusConflict, "the report was modified by someone else")
	ErrStorage             = New("STORAGE_ERROR", http.StatusBadGateway, "blob storage failure")
	ErrConfiguration       = New("CONFIGURATION_ERROR", http.StatusInternalServerError, "service misconfigured")
	ErrInternal            = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrRateLimited         = New("RATE_LIMITED", http.StatusTooManyRequests, "too many requests")

	// ErrCacheMiss signals an absent cache entry. It never reaches clients.
	ErrCacheMiss = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Validation builds a validation error pointing at field.
func Validation(field, message string) *Error {
	e := Clone(ErrValidation, message)
	e.Field = field
	return e
}

// NotFound builds a not-found error for the named entity.
func NotFound(entity, id string) *Error {
	e := Clone(ErrNotFound, fmt.Sprintf("%s not found", entity))
	e.Entity = entity
	e.EntityID = id
	return e
}

// Forbidden builds a forbidden error with a custom message.
func Forbidden(message string) *Error {
	return Clone(ErrForbidden, message)
}

// Conflict builds a concurrency conflict error for the named entity.
func Conflict(entity, id string) *Error {
	e := Clone(ErrConcurrencyConflict, "")
	e.Entity = entity
	e.EntityID = id
	return e
}

// Storage wraps a blob store failure.
func Storage(err error, message string) *Error {
	return Wrap(err, ErrStorage.Code, ErrStorage.Status, message)
}

// Configuration wraps a missing or invalid configuration entry.
func Configuration(message string) *Error {
	return Clone(ErrConfiguration, message)
}

// Internal wraps an unexpected failure.
func Internal(err error, message string) *Error {
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, message)
}
