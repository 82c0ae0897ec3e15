// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"

	"github.com/Veraticus/mail-alfred/internal/model"
)

// Common application errors.
var (
	// Mailbox errors.
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrSourceUnavailable = errors.New("message source unavailable")
	ErrWriteFailure      = errors.New("label write failed")

	// Classification errors.
	ErrTransientProvider = errors.New("transient provider error")
	ErrRateLimit         = errors.New("rate limit exceeded")
	ErrFatalProvider     = errors.New("fatal provider error")
	ErrSchemaViolation   = errors.New("classification outside taxonomy")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// ClassifyError is the terminal error of a classification that did not
// produce a valid label.
type ClassifyError struct {
	Err      error
	Kind     model.ErrorKind
	Attempts int
}

func (e *ClassifyError) Error() string {
	return fmt.Sprintf("classification failed (%s) after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *ClassifyError) Unwrap() error {
	return e.Err
}

// KindOf maps an error to the kind it is reported under. It returns the
// empty kind for errors it does not recognize.
func KindOf(err error) model.ErrorKind {
	if err == nil {
		return ""
	}

	var classifyErr *ClassifyError
	if errors.As(err, &classifyErr) && classifyErr.Kind != "" {
		return classifyErr.Kind
	}

	switch {
	case errors.Is(err, ErrRateLimit):
		return model.ErrorKindRateLimited
	case errors.Is(err, ErrFatalProvider):
		return model.ErrorKindFatalProvider
	case errors.Is(err, ErrSchemaViolation), errors.Is(err, model.ErrLabelNotInTaxonomy):
		return model.ErrorKindSchemaViolation
	case errors.Is(err, ErrTransientProvider), errors.Is(err, context.DeadlineExceeded):
		return model.ErrorKindTransientProvider
	case errors.Is(err, ErrWriteFailure):
		return model.ErrorKindWriteFailure
	case errors.Is(err, ErrSourceUnavailable), errors.Is(err, ErrNotFound), errors.Is(err, ErrPermissionDenied):
		return model.ErrorKindSourceUnavailable
	case errors.Is(err, ErrMissingConfig), errors.Is(err, ErrInvalidConfig):
		return model.ErrorKindConfiguration
	}
	return ""
}

// IsRetryable determines if an error should trigger a retry. Cancellation of
// the caller's context is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrTransientProvider) ||
		errors.Is(err, ErrSchemaViolation) ||
		errors.Is(err, ErrSourceUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}
