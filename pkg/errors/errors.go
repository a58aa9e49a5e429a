// Package errors provides the structured error system for CloudGate with
// error codes, categories, and provider/operation context.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for gateway operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeMissingCredential ErrorCode = "MISSING_CREDENTIAL"
	ErrCodeConfigLoad        ErrorCode = "CONFIG_LOAD"

	// Input validation errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Provider errors
	ErrCodeProviderFailure     ErrorCode = "PROVIDER_FAILURE"
	ErrCodeUnsupportedProvider ErrorCode = "UNSUPPORTED_PROVIDER"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"

	// Aggregate operation errors
	ErrCodePartialFailure ErrorCode = "PARTIAL_FAILURE"
	ErrCodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"

	// Catalog errors
	ErrCodeCatalogFailure ErrorCode = "CATALOG_FAILURE"

	// Internal errors
	ErrCodeEncryptionFailed   ErrorCode = "ENCRYPTION_FAILED"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryValidation    ErrorCategory = "validation"
	CategoryProvider      ErrorCategory = "provider"
	CategoryCatalog       ErrorCategory = "catalog"
	CategoryInternal      ErrorCategory = "internal"
)

// GatewayError represents a structured error with provider and operation context.
type GatewayError struct {
	Code      ErrorCode     `json:"code"`
	Category  ErrorCategory `json:"category"`
	Message   string        `json:"message"`
	Provider  string        `json:"provider,omitempty"`
	Operation string        `json:"operation,omitempty"`
	Cause     error         `json:"-"`
	Timestamp time.Time     `json:"timestamp"`
	Retryable bool          `json:"retryable"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Provider, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error wrapping compatibility.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is matches on error code so errors.Is works across wrapped instances.
func (e *GatewayError) Is(target error) bool {
	if gw, ok := target.(*GatewayError); ok {
		return e.Code == gw.Code
	}
	return false
}

// New creates a gateway error with defaults derived from the code.
func New(code ErrorCode, message string) *GatewayError {
	return &GatewayError{
		Code:      code,
		Category:  categoryFor(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: code == ErrCodeProviderFailure,
	}
}

// Newf creates a gateway error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *GatewayError {
	return New(code, fmt.Sprintf(format, args...))
}

func categoryFor(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeMissingCredential, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeValidationFailed:
		return CategoryValidation
	case ErrCodeProviderFailure, ErrCodeUnsupportedProvider, ErrCodeNotFound,
		ErrCodePartialFailure, ErrCodeRetryExhausted:
		return CategoryProvider
	case ErrCodeCatalogFailure:
		return CategoryCatalog
	default:
		return CategoryInternal
	}
}

// WithProvider sets the provider context.
func (e *GatewayError) WithProvider(provider string) *GatewayError {
	e.Provider = provider
	return e
}

// WithOperation sets the operation context.
func (e *GatewayError) WithOperation(operation string) *GatewayError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *GatewayError) WithCause(cause error) *GatewayError {
	e.Cause = cause
	return e
}

// HTTPStatus returns the HTTP status a boundary layer should map this error to.
func (e *GatewayError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidationFailed, ErrCodeUnsupportedProvider:
		return 400
	case ErrCodeNotFound:
		return 404
	case ErrCodeMissingCredential, ErrCodeConfigLoad:
		return 422
	case ErrCodeServiceUnavailable:
		return 503
	case ErrCodeProviderFailure, ErrCodeRetryExhausted:
		return 502
	default:
		return 500
	}
}

// NewMissingCredential reports a required credential field absent from the
// environment. The operation never reaches the network.
func NewMissingCredential(provider, field string) *GatewayError {
	return Newf(ErrCodeMissingCredential, "required credential field %q is not set", field).
		WithProvider(provider)
}

// NewValidation reports rejected input.
func NewValidation(message string) *GatewayError {
	return New(ErrCodeValidationFailed, message)
}

// NewProvider wraps a remote failure with provider and operation context.
// Raw transport errors never escape an adapter unwrapped.
func NewProvider(provider, operation string, cause error) *GatewayError {
	msg := "remote operation failed"
	if cause != nil {
		msg = cause.Error()
	}
	return New(ErrCodeProviderFailure, msg).
		WithProvider(provider).
		WithOperation(operation).
		WithCause(cause)
}

// NewNotFound reports a file or folder absent at the remote side.
func NewNotFound(provider, name string) *GatewayError {
	return Newf(ErrCodeNotFound, "%q not found", name).WithProvider(provider)
}

// NewUnsupportedProvider reports an unregistered provider name. The message
// enumerates the registered names for diagnosability.
func NewUnsupportedProvider(name string, registered []string) *GatewayError {
	known := append([]string(nil), registered...)
	sort.Strings(known)
	return Newf(ErrCodeUnsupportedProvider,
		"provider %q is not supported (registered providers: %s)",
		name, strings.Join(known, ", "))
}

// NewCatalog wraps a catalog persistence failure.
func NewCatalog(operation string, cause error) *GatewayError {
	msg := "catalog operation failed"
	if cause != nil {
		msg = cause.Error()
	}
	return New(ErrCodeCatalogFailure, msg).WithOperation(operation).WithCause(cause)
}

// IsNotFound reports whether err is a NOT_FOUND gateway error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsValidation reports whether err is a VALIDATION_FAILED gateway error.
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidationFailed)
}

// IsConfiguration reports whether err is a configuration-category error.
func IsConfiguration(err error) bool {
	var gw *GatewayError
	if stderrors.As(err, &gw) {
		return gw.Category == CategoryConfiguration
	}
	return false
}

// IsRetryable reports whether err is eligible for the bounded retry path.
func IsRetryable(err error) bool {
	var gw *GatewayError
	if stderrors.As(err, &gw) {
		return gw.Retryable
	}
	return false
}

// IsGateway reports whether err carries a GatewayError anywhere in its chain.
func IsGateway(err error) bool {
	var gw *GatewayError
	return stderrors.As(err, &gw)
}

func hasCode(err error, code ErrorCode) bool {
	var gw *GatewayError
	if stderrors.As(err, &gw) {
		return gw.Code == code
	}
	return false
}

// AsGateway extracts a GatewayError from err, wrapping unknown errors as
// internal so boundary layers always have a status to map.
func AsGateway(err error) *GatewayError {
	var gw *GatewayError
	if stderrors.As(err, &gw) {
		return gw
	}
	return New(ErrCodeInternalError, err.Error()).WithCause(err)
}
