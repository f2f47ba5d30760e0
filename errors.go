package blockflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
)

// ErrorClass categorizes block execution errors. Classification drives the
// retry and terminal-disposition decisions of the error handler.
type ErrorClass string

const (
	// ErrorClassTransient covers I/O, timeout, and network failures that may
	// succeed on retry.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassValidation covers bad arguments or malformed data. Never
	// retried.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassBusinessLogic covers invalid state and unsupported
	// operations. Never retried.
	ErrorClassBusinessLogic ErrorClass = "business_logic"

	// ErrorClassResourceExhaustion covers out-of-memory class failures.
	ErrorClassResourceExhaustion ErrorClass = "resource_exhaustion"

	// ErrorClassSecurity covers authorization and security violations.
	ErrorClassSecurity ErrorClass = "security"

	// ErrorClassSystem is the fallback for everything else.
	ErrorClassSystem ErrorClass = "system"
)

// BlockError is a classified error. It supports Go's error wrapping via
// Unwrap, so errors.Is and errors.As see through it.
type BlockError struct {
	Class   ErrorClass `json:"class"`
	Cause   string     `json:"cause"`
	Wrapped error      `json:"-"`
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Cause)
}

func (e *BlockError) Unwrap() error {
	return e.Wrapped
}

// NewBlockError creates a classified error with the given class and cause.
func NewBlockError(class ErrorClass, cause string) *BlockError {
	return &BlockError{Class: class, Cause: cause}
}

// WrapError wraps an existing error with an explicit class.
func WrapError(class ErrorClass, err error) *BlockError {
	return &BlockError{Class: class, Cause: err.Error(), Wrapped: err}
}

// NewValidationError creates an error that is classified as a validation
// failure and therefore never retried.
func NewValidationError(format string, args ...any) *BlockError {
	return NewBlockError(ErrorClassValidation, fmt.Sprintf(format, args...))
}

// NewBusinessLogicError creates an error for an invalid state or unsupported
// operation. Never retried; fails the run.
func NewBusinessLogicError(format string, args ...any) *BlockError {
	return NewBlockError(ErrorClassBusinessLogic, fmt.Sprintf(format, args...))
}

// NewSecurityError creates an error for an authorization or security
// violation. Fails the run.
func NewSecurityError(format string, args ...any) *BlockError {
	return NewBlockError(ErrorClassSecurity, fmt.Sprintf(format, args...))
}

// NewTransientError creates an error that is eligible for retry.
func NewTransientError(format string, args ...any) *BlockError {
	return NewBlockError(ErrorClassTransient, fmt.Sprintf(format, args...))
}

// ClassifyError determines the class of an arbitrary error. Classification is
// by error kind, not message text: explicit BlockError classes win, then
// well-known stdlib error kinds are checked, and everything else is System.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassSystem
	}

	var blockErr *BlockError
	if errors.As(err, &blockErr) {
		return blockErr.Class
	}

	// Timeouts and I/O interruptions are transient.
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorClassTransient
	}

	// Network failures are transient.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassTransient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorClassTransient
	}

	// Parse and conversion failures are validation errors.
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return ErrorClassValidation
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return ErrorClassValidation
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return ErrorClassValidation
	}

	// Permission problems map to the security class.
	if errors.Is(err, os.ErrPermission) {
		return ErrorClassSecurity
	}

	return ErrorClassSystem
}

// Retryable reports whether an error class is eligible for retry at all.
// Validation and business logic failures are deterministic and never retried.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrorClassValidation, ErrorClassBusinessLogic:
		return false
	default:
		return true
	}
}
