package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeTemplate     = "TEMPLATE_ERROR"
	ErrCodeEvaluation   = "EVALUATION_ERROR"
	ErrCodeContextBuild = "CONTEXT_BUILD_ERROR"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeStore        = "STORE_ERROR"
	ErrCodeVault        = "VAULT_ERROR"
	ErrCodeSend         = "SEND_ERROR"
)

// PresendError is the structured error type for all presend operations.
type PresendError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Field   string         `json:"field,omitempty"`
	Cause   error          `json:"-"`
}

func (e *PresendError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] field %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PresendError) Unwrap() error {
	return e.Cause
}

// NewError creates a new PresendError.
func NewError(code, message string) *PresendError {
	return &PresendError{Code: code, Message: message}
}

// NewErrorf creates a new PresendError with a formatted message.
func NewErrorf(code, format string, args ...any) *PresendError {
	return &PresendError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithField attaches the request field being evaluated to the error.
func (e *PresendError) WithField(field string) *PresendError {
	e.Field = field
	return e
}

// WithCause attaches an underlying cause.
func (e *PresendError) WithCause(err error) *PresendError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *PresendError) WithDetails(details map[string]any) *PresendError {
	e.Details = details
	return e
}
