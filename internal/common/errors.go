package common

import (
	"errors"
	"fmt"
	"net/url"
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

// Common application errors
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDatabase          = errors.New("database error")
	ErrValidation        = errors.New("validation failed")
)

// Failure kinds recorded against a record. The code doubles as the error log prefix.
const (
	KindAcquisition         = "AcquisitionFailure"
	KindSession             = "SessionFailure"
	KindGenerationTimeout   = "GenerationTimeout"
	KindGenerationService   = "GenerationServiceError"
	KindExtractionExhausted = "ExtractionExhausted"
	KindSink                = "SinkFailure"
	KindUnknown             = "Unknown"
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// KindOf returns the failure kind carried by err, or KindUnknown.
func KindOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return KindUnknown
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind string) bool {
	return KindOf(err) == kind
}

// LogEntry renders err the way it is stored in a tracking error log.
func LogEntry(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		msg := appErr.Message
		if appErr.Cause != nil {
			msg = fmt.Sprintf("%s: %v", msg, appErr.Cause)
		}
		return fmt.Sprintf("%s: %s", appErr.Code, msg)
	}
	return fmt.Sprintf("%s: %v", KindUnknown, err)
}

// RedactDSN hides the password of URL-shaped connection strings.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
