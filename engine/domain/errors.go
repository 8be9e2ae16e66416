package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the failure taxonomy. Retryability is decided by
// Retryable, never inferred from call sites.
var (
	// ErrMissingConfig marks a missing or invalid required setting; fatal at startup.
	ErrMissingConfig = errors.New("missing configuration")
	// ErrExternalService marks any failure from the fetch/store/LLM collaborators.
	ErrExternalService = errors.New("external service failure")
	// ErrRateLimited marks an explicit 429-equivalent from an external service.
	ErrRateLimited = errors.New("rate limited")
	// ErrIndexNotFound marks an operation against a non-existent index or namespace.
	ErrIndexNotFound = errors.New("index not found")
	// ErrInvalidRecord marks a malformed record; the record is dropped, never retried.
	ErrInvalidRecord = errors.New("invalid record")

	ErrEmptyChunkText  = errors.New("empty chunk text")
	ErrEmptyQuestion   = errors.New("empty question")
	ErrUnknownCategory = errors.New("unknown category")
)

// Retryable reports whether an operation that produced err is worth retrying.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrExternalService), errors.Is(err, ErrRateLimited):
		return true
	default:
		return false
	}
}

// ServiceError wraps a failure from an external collaborator with its origin.
type ServiceError struct {
	Service string
	Op      string
	Wrapped error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.Wrapped)
}

func (e *ServiceError) Unwrap() error { return e.Wrapped }

// NewServiceError creates a ServiceError that matches ErrExternalService
// unless the wrapped error already carries a more specific sentinel.
func NewServiceError(service, op string, wrapped error) *ServiceError {
	if !errors.Is(wrapped, ErrRateLimited) && !errors.Is(wrapped, ErrIndexNotFound) {
		wrapped = fmt.Errorf("%w: %w", ErrExternalService, wrapped)
	}
	return &ServiceError{Service: service, Op: op, Wrapped: wrapped}
}

// ValidationError wraps a validation sentinel with the record's position.
type ValidationError struct {
	Index   int
	Field   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: record %d: %s: %v", e.Index, e.Field, e.Wrapped)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError matching ErrInvalidRecord.
func NewValidationError(index int, field string, wrapped error) *ValidationError {
	return &ValidationError{Index: index, Field: field, Wrapped: fmt.Errorf("%w: %w", ErrInvalidRecord, wrapped)}
}
