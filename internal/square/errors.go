package square

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Services wrap them in a ServiceError so errors.Is keeps working.
var (
	ErrIdentityRequired = errors.New("identity required")
	ErrNotCaptain       = errors.New("not team captain")
	ErrSameTeam         = errors.New("challenge target is the proposing team")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	// ErrUnavailable marks a persistence failure the caller may retry.
	ErrUnavailable = errors.New("store unavailable")
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

// NewServiceError builds a ServiceError for the operation and reason.
func NewServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ErrorCode extracts the service code from err, or "" when err carries none.
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
