// Package apperr defines the error taxonomy shared by the clipshare services.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input: empty content, unknown role, missing or oversized file.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized marks requests without a valid session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden marks authenticated callers lacking the required role or ownership.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound marks identifiers that do not resolve.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks uniqueness violations such as a duplicate email.
	ErrConflict = errors.New("conflict")
	// ErrPayloadTooLarge marks uploads above the configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrStorage marks media store failures.
	ErrStorage = errors.New("storage failure")
)

// ServiceError carries a dotted code ("pkg.operation.reason"), an error kind and the underlying cause.
type ServiceError struct {
	code string
	kind error
	err  error
}

// New builds a ServiceError for the operation and reason. kind may be nil for internal failures.
func New(operation, reason string, kind error, cause error) error {
	return &ServiceError{
		code: fmt.Sprintf("%s.%s", operation, reason),
		kind: kind,
		err:  cause,
	}
}

func (e *ServiceError) Error() string {
	switch {
	case e.err != nil:
		return fmt.Sprintf("%s: %v", e.code, e.err)
	case e.kind != nil:
		return fmt.Sprintf("%s: %v", e.code, e.kind)
	default:
		return e.code
	}
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ServiceError) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if e.kind != nil {
		unwrapped = append(unwrapped, e.kind)
	}
	if e.err != nil {
		unwrapped = append(unwrapped, e.err)
	}
	return unwrapped
}

// Code returns the dotted error code.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the taxonomy sentinel, or nil for internal failures.
func (e *ServiceError) Kind() error {
	return e.kind
}

// CodeOf returns the ServiceError code in the chain, or an empty string.
func CodeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
