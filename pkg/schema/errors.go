package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeEvaluation = "EVALUATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeStore      = "STORE_ERROR"
	ErrCodeSchedule   = "SCHEDULE_ERROR"
	ErrCodeTrigger    = "TRIGGER_ERROR"
)

// GridError is the structured error type for all salesgrid operations.
type GridError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	ColumnKey string         `json:"column_key,omitempty"`
	Cause     error          `json:"-"`
}

func (e *GridError) Error() string {
	if e.ColumnKey != "" {
		return fmt.Sprintf("[%s] column %s: %s", e.Code, e.ColumnKey, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *GridError) Unwrap() error {
	return e.Cause
}

// NewError creates a new GridError.
func NewError(code, message string) *GridError {
	return &GridError{Code: code, Message: message}
}

// NewErrorf creates a new GridError with a formatted message.
func NewErrorf(code, format string, args ...any) *GridError {
	return &GridError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithColumn attaches a column key to the error.
func (e *GridError) WithColumn(key string) *GridError {
	e.ColumnKey = key
	return e
}

// WithCause attaches an underlying cause.
func (e *GridError) WithCause(err error) *GridError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *GridError) WithDetails(details map[string]any) *GridError {
	e.Details = details
	return e
}
