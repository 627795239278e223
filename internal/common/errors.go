package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorClass is the failure taxonomy shared by the HTTP client, the circuit
// breakers and the push subsystem.
type ErrorClass string

const (
	ClassNetwork          ErrorClass = "NETWORK"
	ClassServer           ErrorClass = "SERVER"
	ClassNotFound         ErrorClass = "NOT_FOUND"
	ClassClient           ErrorClass = "CLIENT"
	ClassAuth             ErrorClass = "AUTH"
	ClassUnsupported      ErrorClass = "UNSUPPORTED"
	ClassPermissionDenied ErrorClass = "PERMISSION_DENIED"
)

// CountsTowardBreaker reports whether the class signals an infrastructure problem.
func (c ErrorClass) CountsTowardBreaker() bool {
	return c == ClassNetwork || c == ClassServer || c == ClassNotFound
}

// Classify maps a transport outcome to an ErrorClass. A non-nil transportErr
// means no response was received. The empty class means success.
func Classify(statusCode int, transportErr error) ErrorClass {
	if transportErr != nil {
		return ClassNetwork
	}
	switch {
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return ClassAuth
	case statusCode == http.StatusNotFound:
		return ClassNotFound
	case statusCode >= 500:
		return ClassServer
	case statusCode >= 400:
		return ClassClient
	case statusCode == 0:
		return ClassNetwork
	}
	return ""
}

// APIError is a classified failure of a single backend call.
type APIError struct {
	Class      ErrorClass
	StatusCode int
	Method     string
	Path       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: %s (status %d): %s", e.Method, e.Path, e.Class, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, e.Class, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// CooldownError is returned without touching the network while a breaker
// scope is cooling down.
type CooldownError struct {
	Scope     string
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s is cooling down after repeated connection failures, retry in %s",
		e.Scope, e.Remaining.Round(time.Second))
}

// NewCooldownError creates a new CooldownError.
func NewCooldownError(scope string, remaining time.Duration) *CooldownError {
	return &CooldownError{Scope: scope, Remaining: remaining}
}

var (
	ErrUnsupported      = errors.New("push notifications are not supported in this environment")
	ErrPermissionDenied = errors.New("notification permission denied")
)

// ClassOf extracts the ErrorClass carried by err.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	var cooldown *CooldownError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Class
	case errors.As(err, &cooldown):
		return ClassNetwork
	case errors.Is(err, ErrUnsupported):
		return ClassUnsupported
	case errors.Is(err, ErrPermissionDenied):
		return ClassPermissionDenied
	case errors.Is(err, context.DeadlineExceeded):
		return ClassNetwork
	}
	return ""
}

// IsFatalAuth reports whether err ends the session.
func IsFatalAuth(err error) bool {
	return ClassOf(err) == ClassAuth
}

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' not found", e.Resource, e.ID)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError indicates invalid input data.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// UnauthorizedError indicates missing or invalid authentication.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return e.Message
}

// NewUnauthorizedError creates a new UnauthorizedError.
func NewUnauthorizedError(message string) *UnauthorizedError {
	return &UnauthorizedError{Message: message}
}

// RateLimitError indicates a caller exceeded a per-user quota.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(message string) *RateLimitError {
	return &RateLimitError{Message: message}
}
