package common

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error codes. The first group is the card processing taxonomy.
const (
	CodeTransientNetwork     = "TRANSIENT_NETWORK"
	CodeRateLimited          = "RATE_LIMITED"
	CodeDuplicateContent     = "DUPLICATE_CONTENT"
	CodeExtractionValidation = "EXTRACTION_VALIDATION"
	CodePersistence          = "PERSISTENCE"
	CodeUploadRejected       = "UPLOAD_REJECTED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeInternal             = "INTERNAL"

	CodeConfig = "CONFIG_ERROR"
)

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")

	ErrTransientNetwork = errors.New("transient network error")
	ErrRateLimited      = errors.New("rate limited")
	ErrUploadRejected   = errors.New("upload rejected")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// Classify maps any error onto a taxonomy code. An AppError keeps its own code.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrUploadRejected):
		return CodeUploadRejected
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrValidation):
		return CodeExtractionValidation
	case errors.Is(err, ErrDatabase):
		return CodePersistence
	case errors.Is(err, ErrTransientNetwork), errors.Is(err, context.DeadlineExceeded):
		return CodeTransientNetwork
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return CodeForStatus(sc.StatusCode())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CodeTransientNetwork
	}
	return CodeInternal
}

// CodeForStatus classifies an HTTP status from a remote collaborator. Any other
// client error means the request itself was unusable.
func CodeForStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status == http.StatusRequestTimeout, status >= 500:
		return CodeTransientNetwork
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return CodeUnauthorized
	case status >= 400:
		return CodeExtractionValidation
	}
	return CodeInternal
}

// IsRetryable reports whether retrying the same input may succeed.
// Extraction validation failures need a recapture instead, and rejected
// credentials need a configuration change.
func IsRetryable(code string) bool {
	switch code {
	case CodeTransientNetwork, CodeRateLimited, CodePersistence, CodeUploadRejected, CodeInternal:
		return true
	}
	return false
}

// UserMessage renders a short message suitable for a toast.
func UserMessage(code string) string {
	switch code {
	case CodeTransientNetwork:
		return "Network problem, tap retry"
	case CodeRateLimited:
		return "Too many requests right now, try again shortly"
	case CodeDuplicateContent:
		return "This card was already scanned"
	case CodeExtractionValidation:
		return "Card image could not be read, please recapture"
	case CodePersistence:
		return "Could not save the card, tap retry"
	case CodeUploadRejected:
		return "Image upload was rejected"
	case CodeUnauthorized:
		return "Service credentials were rejected, check configuration"
	}
	return "Something went wrong"
}
